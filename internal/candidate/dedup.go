package candidate

import (
	"github.com/bits-and-blooms/bloom/v3"
)

// seenSet remembers descriptor keys already yielded by a Generator.
// The bloom filter answers the common "never seen" case; the exact set
// guards against false positives, which would silently drop a candidate.
type seenSet struct {
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

func newSeenSet(estimated int) *seenSet {
	if estimated < 16 {
		estimated = 16
	}
	return &seenSet{
		filter: bloom.NewWithEstimates(uint(estimated), 0.001),
		exact:  make(map[string]struct{}, estimated),
	}
}

// add records key and reports whether it was new.
func (s *seenSet) add(key string) bool {
	if s.filter.TestString(key) {
		if _, ok := s.exact[key]; ok {
			return false
		}
	}
	s.filter.AddString(key)
	s.exact[key] = struct{}{}
	return true
}

func (s *seenSet) reset() {
	s.filter.ClearAll()
	s.exact = make(map[string]struct{}, len(s.exact))
}

func (s *seenSet) len() int {
	return len(s.exact)
}
