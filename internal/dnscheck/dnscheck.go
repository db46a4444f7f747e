// Package dnscheck runs the name-resolution checks an operator needs when a
// connection string will not resolve: address lookup for every host, SRV
// lookup for seed-list hosts, and the local resolver configuration.
package dnscheck

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jobtracing/dbresolve/internal/uri"
)

// SRVService and SRVProto form the record name a seed-list URI resolves.
const (
	SRVService = "mongodb"
	SRVProto   = "tcp"
)

// AtlasSuffix marks hosted cluster names, which always publish SRV records.
const AtlasSuffix = ".mongodb.net"

// Resolver performs DNS lookups. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// HostResult is the outcome of an address lookup.
type HostResult struct {
	Host      string        `json:"host" yaml:"host"`
	Addresses []string      `json:"addresses,omitempty" yaml:"addresses,omitempty"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// OK reports whether the lookup returned at least one address.
func (r HostResult) OK() bool {
	return r.Error == "" && len(r.Addresses) > 0
}

// SRVResult is the outcome of a seed-list lookup.
type SRVResult struct {
	Name    string   `json:"name" yaml:"name"`
	Targets []string `json:"targets,omitempty" yaml:"targets,omitempty"`
	Error   string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// OK reports whether the lookup returned at least one target.
func (r SRVResult) OK() bool {
	return r.Error == "" && len(r.Targets) > 0
}

// Report collects every check for one descriptor.
type Report struct {
	Target     string       `json:"target" yaml:"target"` // masked
	Hosts      []HostResult `json:"hosts" yaml:"hosts"`
	SRV        *SRVResult   `json:"srv,omitempty" yaml:"srv,omitempty"`
	ResolvConf string       `json:"resolv_conf,omitempty" yaml:"resolv_conf,omitempty"`
	HostsFile  string       `json:"hosts_file,omitempty" yaml:"hosts_file,omitempty"`

	// SeedList is set for mongodb+srv targets. Their name usually has no
	// address record, so Hosts is informational and only SRV counts.
	SeedList bool `json:"seed_list,omitempty" yaml:"seed_list,omitempty"`
}

// Healthy reports whether every lookup that decides reachability succeeded.
func (r *Report) Healthy() bool {
	if r.SeedList {
		return r.SRV != nil && r.SRV.OK()
	}
	for _, h := range r.Hosts {
		if !h.OK() {
			return false
		}
	}
	return r.SRV == nil || r.SRV.OK()
}

// Checker runs DNS diagnostics.
type Checker struct {
	resolver  Resolver
	readFile  func(string) ([]byte, error)
	timeout   time.Duration
	logger    zerolog.Logger
	resolvCfg string
	hostsFile string
}

// Option configures a Checker.
type Option func(*Checker)

// WithResolver replaces the system resolver.
func WithResolver(r Resolver) Option {
	return func(c *Checker) {
		c.resolver = r
	}
}

// WithTimeout bounds each lookup.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Checker) {
		c.logger = l.With().Str("component", "dnscheck").Logger()
	}
}

// WithFiles overrides where resolver configuration is read from. An empty
// path skips that file.
func WithFiles(resolvConf, hosts string, read func(string) ([]byte, error)) Option {
	return func(c *Checker) {
		c.resolvCfg = resolvConf
		c.hostsFile = hosts
		if read != nil {
			c.readFile = read
		}
	}
}

// New creates a Checker using the system resolver.
func New(opts ...Option) *Checker {
	c := &Checker{
		resolver:  net.DefaultResolver,
		readFile:  os.ReadFile,
		timeout:   5 * time.Second,
		logger:    zerolog.Nop(),
		resolvCfg: "/etc/resolv.conf",
		hostsFile: "/etc/hosts",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NeedsSRV reports whether d should be checked for a seed-list record.
func NeedsSRV(d uri.Descriptor) bool {
	if d.Scheme == uri.SRV {
		return true
	}
	return strings.HasSuffix(strings.ToLower(d.Hostname()), AtlasSuffix)
}

// SRVName returns the record name looked up for host.
func SRVName(host string) string {
	return fmt.Sprintf("_%s._%s.%s", SRVService, SRVProto, host)
}

// Check runs every lookup for d. Lookup failures are recorded in the
// report; only context cancellation is returned as an error.
func (c *Checker) Check(ctx context.Context, d uri.Descriptor) (*Report, error) {
	report := &Report{Target: d.Masked(), SeedList: d.Scheme == uri.SRV}

	for _, h := range d.Hosts() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Hosts = append(report.Hosts, c.LookupHost(ctx, h))
	}

	if NeedsSRV(d) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		srv := c.LookupSRV(ctx, d.Hostname())
		report.SRV = &srv
	}

	report.ResolvConf = c.read(c.resolvCfg)
	report.HostsFile = c.read(c.hostsFile)

	return report, nil
}

// LookupHost resolves host, which may carry a port.
func (c *Checker) LookupHost(ctx context.Context, host string) HostResult {
	name := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		name = h
	}

	lctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	addrs, err := c.resolver.LookupHost(lctx, name)
	res := HostResult{Host: name, Addresses: addrs, Duration: time.Since(start)}
	if err != nil {
		res.Error = err.Error()
		c.logger.Debug().Str("host", name).Err(err).Msg("Address lookup failed")
	} else {
		c.logger.Debug().Str("host", name).Strs("addresses", addrs).Msg("Address lookup succeeded")
	}
	return res
}

// LookupSRV resolves the seed-list record for host.
func (c *Checker) LookupSRV(ctx context.Context, host string) SRVResult {
	lctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res := SRVResult{Name: SRVName(host)}
	_, records, err := c.resolver.LookupSRV(lctx, SRVService, SRVProto, host)
	if err != nil {
		res.Error = err.Error()
		c.logger.Debug().Str("name", res.Name).Err(err).Msg("SRV lookup failed")
		return res
	}
	for _, r := range records {
		res.Targets = append(res.Targets, net.JoinHostPort(strings.TrimSuffix(r.Target, "."), fmt.Sprint(r.Port)))
	}
	return res
}

func (c *Checker) read(path string) string {
	if path == "" {
		return ""
	}
	data, err := c.readFile(path)
	if err != nil {
		c.logger.Debug().Str("path", path).Err(err).Msg("Cannot read resolver file")
		return ""
	}
	return string(data)
}

// WriteText renders report for a terminal.
func WriteText(w io.Writer, report *Report) error {
	var b strings.Builder

	fmt.Fprintf(&b, "DNS diagnostics for %s\n\n", report.Target)
	for _, h := range report.Hosts {
		switch {
		case h.OK():
			fmt.Fprintf(&b, "  [ok]   %s -> %s\n", h.Host, strings.Join(h.Addresses, ", "))
		case report.SeedList:
			fmt.Fprintf(&b, "  [info] %s: %s\n", h.Host, h.Error)
		default:
			fmt.Fprintf(&b, "  [fail] %s: %s\n", h.Host, h.Error)
		}
	}
	if s := report.SRV; s != nil {
		if s.OK() {
			fmt.Fprintf(&b, "  [ok]   %s -> %s\n", s.Name, strings.Join(s.Targets, ", "))
		} else {
			fmt.Fprintf(&b, "  [fail] %s: %s\n", s.Name, s.Error)
		}
	}

	if report.ResolvConf != "" {
		b.WriteString("\nresolv.conf:\n")
		writeIndented(&b, report.ResolvConf)
	}
	if report.HostsFile != "" {
		b.WriteString("\nhosts:\n")
		writeIndented(&b, report.HostsFile)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeIndented(b *strings.Builder, text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteString("\n")
	}
}
