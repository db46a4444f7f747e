package state

import (
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jobtracing/dbresolve/internal/resolver"
)

var bucketReports = []byte("reports")

// Store backends accepted by Open.
const (
	BackendBolt   = "bolt"
	BackendJSON   = "json"
	BackendGzip   = "gzip"
	BackendMemory = "memory"
)

// Backends lists every backend Open accepts.
var Backends = []string{BackendBolt, BackendJSON, BackendGzip, BackendMemory}

// Open creates the store for backend at path. An empty backend means bolt.
// The memory backend ignores path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", BackendBolt:
		return NewBoltStore(path)
	case BackendJSON:
		return NewFileStore(path, false), nil
	case BackendGzip:
		return NewFileStore(path, true), nil
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", backend)
	}
}

// ValidBackend reports whether Open accepts backend.
func ValidBackend(backend string) bool {
	if backend == "" {
		return true
	}
	for _, b := range Backends {
		if b == backend {
			return true
		}
	}
	return false
}

// BoltStore implements Store using BoltDB. Reports are keyed by a
// monotonic sequence so cursor order is insertion order.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed history store.
func NewBoltStore(path string) (*BoltStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketReports)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Append stores report after the existing ones.
func (s *BoltStore) Append(report *resolver.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReports)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// List returns up to limit reports, newest first. A limit <= 0 returns
// every report.
func (s *BoltStore) List(limit int) ([]*resolver.Report, error) {
	var reports []*resolver.Report

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReports)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(reports) >= limit {
				break
			}
			var r resolver.Report
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to unmarshal report %d: %w", binary.BigEndian.Uint64(k), err)
			}
			reports = append(reports, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// Prune deletes all but the newest keep reports.
func (s *BoltStore) Prune(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReports)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		excess := b.Stats().KeyN - keep
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// FileStore implements Store using a JSON file holding every report,
// oldest first.
type FileStore struct {
	mu         sync.Mutex
	path       string
	compressed bool
}

// NewFileStore creates a new file-based history store.
func NewFileStore(path string, compressed bool) *FileStore {
	return &FileStore{
		path:       path,
		compressed: compressed,
	}
}

// Append adds report to the file.
func (s *FileStore) Append(report *resolver.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reports, err := s.load()
	if err != nil {
		return err
	}
	return s.save(append(reports, report))
}

// List returns up to limit reports, newest first.
func (s *FileStore) List(limit int) ([]*resolver.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reports, err := s.load()
	if err != nil {
		return nil, err
	}
	return newestFirst(reports, limit), nil
}

// Prune keeps only the newest keep reports.
func (s *FileStore) Prune(keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reports, err := s.load()
	if err != nil || keep <= 0 || len(reports) <= keep {
		return 0, err
	}
	removed := len(reports) - keep
	return removed, s.save(reports[removed:])
}

// Close is a no-op for FileStore.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) save(reports []*resolver.Report) error {
	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if s.compressed {
		return s.saveCompressed(data)
	}
	return os.WriteFile(s.path, data, 0644)
}

// saveCompressed saves the history with gzip compression.
func (s *FileStore) saveCompressed(data []byte) error {
	file, err := os.Create(s.path + ".gz")
	if err != nil {
		return err
	}
	defer file.Close()

	gw := gzip.NewWriter(file)
	if _, err := gw.Write(data); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}

func (s *FileStore) load() ([]*resolver.Report, error) {
	var data []byte
	var err error

	if s.compressed {
		data, err = s.loadCompressed()
	} else {
		data, err = os.ReadFile(s.path)
	}

	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var reports []*resolver.Report
	if err := json.Unmarshal(data, &reports); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return reports, nil
}

// loadCompressed loads gzip-compressed history.
func (s *FileStore) loadCompressed() ([]byte, error) {
	file, err := os.Open(s.path + ".gz")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gr, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	return io.ReadAll(gr)
}

// MemoryStore implements Store using in-memory storage.
type MemoryStore struct {
	mu      sync.Mutex
	reports []*resolver.Report
}

// NewMemoryStore creates a new in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append keeps report in memory.
func (s *MemoryStore) Append(report *resolver.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return nil
}

// List returns up to limit reports, newest first.
func (s *MemoryStore) List(limit int) ([]*resolver.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(s.reports, limit), nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

func newestFirst(reports []*resolver.Report, limit int) []*resolver.Report {
	n := len(reports)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*resolver.Report, 0, n)
	for i := len(reports) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, reports[i])
	}
	return out
}
