// Package candidate derives alternative connection descriptors from an
// original one, in the order they should be tried.
package candidate

import (
	"fmt"
	"iter"

	"github.com/jobtracing/dbresolve/internal/uri"
)

// Transform names the single transformation that produced a Candidate.
type Transform int

const (
	// Original is the descriptor exactly as supplied.
	Original Transform = iota
	// SchemeFlip swaps mongodb:// and mongodb+srv:// on the original host.
	SchemeFlip
	// Alias substitutes a known host alias under the original scheme.
	Alias
	// AliasSchemeFlip substitutes a host alias under the other scheme.
	AliasSchemeFlip
	// UsernameOnly keeps the username and drops the password.
	UsernameOnly
	// NoAuth drops credentials entirely.
	NoAuth
	// LocalFallback points at a local server.
	LocalFallback
)

// String returns the string representation of Transform.
func (t Transform) String() string {
	switch t {
	case Original:
		return "original"
	case SchemeFlip:
		return "scheme_flip"
	case Alias:
		return "alias"
	case AliasSchemeFlip:
		return "alias_scheme_flip"
	case UsernameOnly:
		return "username_only"
	case NoAuth:
		return "no_auth"
	case LocalFallback:
		return "local_fallback"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Transform) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Transform) UnmarshalText(text []byte) error {
	for v := Original; v <= LocalFallback; v++ {
		if v.String() == string(text) {
			*t = v
			return nil
		}
	}
	return fmt.Errorf("unknown transform %q", text)
}

// ChangesCredentials reports whether the transform only alters credentials.
func (t Transform) ChangesCredentials() bool {
	return t == UsernameOnly || t == NoAuth
}

// Candidate is one descriptor to probe.
type Candidate struct {
	Index      int            `json:"index" yaml:"index"`
	Transform  Transform      `json:"transform" yaml:"transform"`
	Alias      string         `json:"alias,omitempty" yaml:"alias,omitempty"`
	Descriptor uri.Descriptor `json:"-" yaml:"-"`
}

// Masked returns the displayable form of the candidate's URI.
func (c Candidate) Masked() string {
	return c.Descriptor.Masked()
}

// Bound returns the maximum number of candidates for n aliases.
func Bound(aliases int) int {
	return 2 + 2*aliases + 3
}

// Generator yields candidates lazily in priority order. It is restartable
// via Reset and never yields two candidates with the same descriptor key.
// A Generator is not safe for concurrent use.
type Generator struct {
	original uri.Descriptor
	aliases  []string

	step    int
	yielded int
	seen    *seenSet
}

// New creates a generator for original with caller-ordered host aliases.
func New(original uri.Descriptor, aliases []string) *Generator {
	a := make([]string, len(aliases))
	copy(a, aliases)

	return &Generator{
		original: original,
		aliases:  a,
		seen:     newSeenSet(Bound(len(a))),
	}
}

// Bound returns the upper bound on candidates this generator can yield.
func (g *Generator) Bound() int {
	return Bound(len(g.aliases))
}

// Yielded returns how many candidates have been yielded since the last reset.
func (g *Generator) Yielded() int {
	return g.yielded
}

// Reset restarts the sequence from the original descriptor.
func (g *Generator) Reset() {
	g.step = 0
	g.yielded = 0
	g.seen.reset()
}

// Next returns the next candidate, or false when the sequence is exhausted.
func (g *Generator) Next() (Candidate, bool) {
	for g.step < g.steps() {
		c, ok := g.build(g.step)
		g.step++
		if !ok || !g.seen.add(c.Descriptor.Key()) {
			continue
		}
		g.yielded++
		c.Index = g.yielded
		return c, true
	}
	return Candidate{}, false
}

// Seq returns an iterator over the remaining candidates.
func (g *Generator) Seq() iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		for {
			c, ok := g.Next()
			if !ok || !yield(c) {
				return
			}
		}
	}
}

// All resets the generator and returns every candidate.
func (g *Generator) All() []Candidate {
	g.Reset()
	out := make([]Candidate, 0, g.Bound())
	for c := range g.Seq() {
		out = append(out, c)
	}
	return out
}

// steps: original, flip, two per alias, username-only, no-auth, local.
func (g *Generator) steps() int {
	return 2 + 2*len(g.aliases) + 3
}

// build computes the candidate for step i. Steps that do not apply to the
// original (e.g. credential variants of an anonymous URI) report false.
func (g *Generator) build(i int) (Candidate, bool) {
	o := g.original
	aliasSteps := 2 * len(g.aliases)

	switch {
	case i == 0:
		return Candidate{Transform: Original, Descriptor: o}, true

	case i == 1:
		d, ok := o.FlipScheme()
		return Candidate{Transform: SchemeFlip, Descriptor: d}, ok

	case i < 2+aliasSteps:
		alias := g.aliases[(i-2)/2]
		d := o.WithHost(alias)
		if (i-2)%2 == 0 {
			if o.Scheme == uri.SRV {
				// SRV hosts never carry a port.
				d = o.WithHost(d.Hostname())
			}
			return Candidate{Transform: Alias, Alias: alias, Descriptor: d}, true
		}
		flipped, ok := d.FlipScheme()
		return Candidate{Transform: AliasSchemeFlip, Alias: alias, Descriptor: flipped}, ok

	case i == 2+aliasSteps:
		if !o.HasPassword() {
			return Candidate{}, false
		}
		return Candidate{Transform: UsernameOnly, Descriptor: o.WithoutPassword()}, true

	case i == 3+aliasSteps:
		if !o.HasCredentials() {
			return Candidate{}, false
		}
		return Candidate{Transform: NoAuth, Descriptor: o.WithoutCredentials()}, true

	case i == 4+aliasSteps:
		return Candidate{Transform: LocalFallback, Descriptor: uri.Local(o.Database)}, true
	}

	return Candidate{}, false
}
