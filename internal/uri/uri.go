// Package uri parses and re-serializes MongoDB connection strings.
//
// A Descriptor is a value: every transformation returns a modified copy and
// leaves the receiver untouched, so candidates derived from one original can
// be held side by side without aliasing.
package uri

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

// Scheme is the connection-string form.
type Scheme int

const (
	// Direct is the host:port form (mongodb://).
	Direct Scheme = iota
	// SRV is the DNS seed-list form (mongodb+srv://).
	SRV
)

const (
	directPrefix = "mongodb://"
	srvPrefix    = "mongodb+srv://"

	// LocalHost is the host used by the local fallback candidate.
	LocalHost = "localhost:27017"

	maskedCredentials = "*****:*****"
)

// String returns the URI prefix without "://".
func (s Scheme) String() string {
	if s == SRV {
		return "mongodb+srv"
	}
	return "mongodb"
}

// Prefix returns the full URI prefix.
func (s Scheme) Prefix() string {
	if s == SRV {
		return srvPrefix
	}
	return directPrefix
}

// Flip returns the other scheme.
func (s Scheme) Flip() Scheme {
	if s == SRV {
		return Direct
	}
	return SRV
}

// MarshalText implements encoding.TextMarshaler.
func (s Scheme) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrMalformed is matched by every *MalformedURIError via errors.Is.
var ErrMalformed = errors.New("malformed connection uri")

// MalformedURIError is returned by Parse for strings that cannot be used.
// It is a configuration error: retrying will not help.
type MalformedURIError struct {
	Input  string // masked
	Reason string
}

func (e *MalformedURIError) Error() string {
	return fmt.Sprintf("malformed connection uri %q: %s", e.Input, e.Reason)
}

// Is makes errors.Is(err, ErrMalformed) true.
func (e *MalformedURIError) Is(target error) bool {
	return target == ErrMalformed
}

// Credentials are the userinfo part of a connection string.
type Credentials struct {
	Username string `json:"-" yaml:"-"`
	Password string `json:"-" yaml:"-"`
}

// Descriptor is a parsed connection string.
type Descriptor struct {
	Scheme      Scheme            `json:"scheme" yaml:"scheme"`
	Credentials *Credentials      `json:"-" yaml:"-"`
	Host        string            `json:"host" yaml:"host"`
	Database    string            `json:"database,omitempty" yaml:"database,omitempty"`
	Params      map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Parse parses a raw connection string. No network access is performed.
func Parse(raw string) (Descriptor, error) {
	var d Descriptor
	trimmed := strings.TrimSpace(raw)

	var rest string
	switch {
	case strings.HasPrefix(trimmed, srvPrefix):
		d.Scheme = SRV
		rest = trimmed[len(srvPrefix):]
	case strings.HasPrefix(trimmed, directPrefix):
		d.Scheme = Direct
		rest = trimmed[len(directPrefix):]
	default:
		return Descriptor{}, &MalformedURIError{Input: MaskString(trimmed), Reason: "unrecognized scheme prefix"}
	}

	if userinfo, after, ok := splitUserinfo(rest); ok {
		creds, err := parseUserinfo(userinfo)
		if err != nil {
			return Descriptor{}, &MalformedURIError{Input: MaskString(trimmed), Reason: err.Error()}
		}
		d.Credentials = creds
		rest = after
	}

	authority, path := rest, ""
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		authority, path = rest[:i], rest[i:]
	}

	if authority == "" {
		return Descriptor{}, &MalformedURIError{Input: MaskString(trimmed), Reason: "missing host"}
	}
	d.Host = authority

	path = strings.TrimPrefix(path, "/")
	query := ""
	if i := strings.Index(path, "?"); i >= 0 {
		path, query = path[:i], path[i+1:]
	}

	db, err := url.PathUnescape(path)
	if err != nil {
		return Descriptor{}, &MalformedURIError{Input: MaskString(trimmed), Reason: "invalid database name"}
	}
	d.Database = db

	if query != "" {
		values, err := url.ParseQuery(query)
		if err != nil {
			return Descriptor{}, &MalformedURIError{Input: MaskString(trimmed), Reason: "invalid query parameters"}
		}
		d.Params = make(map[string]string, len(values))
		for k, v := range values {
			if len(v) > 0 {
				d.Params[k] = v[0]
			}
		}
	}

	return d, nil
}

func parseUserinfo(s string) (*Credentials, error) {
	user, pass, _ := strings.Cut(s, ":")

	username, err := url.PathUnescape(user)
	if err != nil {
		return nil, fmt.Errorf("invalid username encoding")
	}
	password, err := url.PathUnescape(pass)
	if err != nil {
		return nil, fmt.Errorf("invalid password encoding")
	}
	if username == "" && password == "" {
		return nil, nil
	}
	return &Credentials{Username: username, Password: password}, nil
}

// String serializes the descriptor into a connection string the driver accepts.
func (d Descriptor) String() string {
	return d.render(false)
}

// Masked serializes the descriptor with credentials replaced. It is the only
// form that may be logged or displayed.
func (d Descriptor) Masked() string {
	return d.render(true)
}

func (d Descriptor) render(mask bool) string {
	var b strings.Builder
	b.WriteString(d.Scheme.Prefix())

	if d.Credentials != nil {
		if mask {
			b.WriteString(maskedCredentials)
		} else if d.Credentials.Password != "" {
			b.WriteString(url.UserPassword(d.Credentials.Username, d.Credentials.Password).String())
		} else {
			b.WriteString(url.User(d.Credentials.Username).String())
		}
		b.WriteByte('@')
	}

	b.WriteString(d.Host)
	b.WriteByte('/')
	b.WriteString(url.PathEscape(d.Database))

	if len(d.Params) > 0 {
		keys := make([]string, 0, len(d.Params))
		for k := range d.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('?')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(d.Params[k]))
		}
	}

	return b.String()
}

// Key returns the canonical identity of the descriptor. Two descriptors with
// the same key connect the same way.
func (d Descriptor) Key() string {
	k := d.clone()
	k.Host = strings.ToLower(k.Host)
	return k.String()
}

// Hosts returns the individual host[:port] entries.
func (d Descriptor) Hosts() []string {
	parts := strings.Split(d.Host, ",")
	hosts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			hosts = append(hosts, p)
		}
	}
	return hosts
}

// Hostname returns the first host without its port.
func (d Descriptor) Hostname() string {
	hosts := d.Hosts()
	if len(hosts) == 0 {
		return ""
	}
	return stripPort(hosts[0])
}

// HasCredentials reports whether any userinfo is present.
func (d Descriptor) HasCredentials() bool {
	return d.Credentials != nil
}

// HasPassword reports whether a non-empty password is present.
func (d Descriptor) HasPassword() bool {
	return d.Credentials != nil && d.Credentials.Password != ""
}

// WithScheme returns a copy using scheme s. Moving to SRV drops the port,
// which the seed-list form does not allow; a multi-host list cannot be
// expressed as SRV and reports ok == false.
func (d Descriptor) WithScheme(s Scheme) (Descriptor, bool) {
	out := d.clone()
	out.Scheme = s
	if s == SRV && d.Scheme != SRV {
		hosts := d.Hosts()
		if len(hosts) != 1 {
			return Descriptor{}, false
		}
		out.Host = stripPort(hosts[0])
	}
	return out, true
}

// FlipScheme returns a copy under the other scheme.
func (d Descriptor) FlipScheme() (Descriptor, bool) {
	return d.WithScheme(d.Scheme.Flip())
}

// WithHost returns a copy pointed at host.
func (d Descriptor) WithHost(host string) Descriptor {
	out := d.clone()
	out.Host = host
	return out
}

// WithoutPassword returns a copy that keeps only the username.
func (d Descriptor) WithoutPassword() Descriptor {
	out := d.clone()
	if out.Credentials != nil {
		out.Credentials = &Credentials{Username: out.Credentials.Username}
	}
	return out
}

// WithoutCredentials returns an anonymous copy.
func (d Descriptor) WithoutCredentials() Descriptor {
	out := d.clone()
	out.Credentials = nil
	return out
}

// Local returns the local fallback descriptor for database.
func Local(database string) Descriptor {
	return Descriptor{
		Scheme:   Direct,
		Host:     LocalHost,
		Database: database,
	}
}

func (d Descriptor) clone() Descriptor {
	out := d
	if d.Credentials != nil {
		c := *d.Credentials
		out.Credentials = &c
	}
	if d.Params != nil {
		out.Params = make(map[string]string, len(d.Params))
		for k, v := range d.Params {
			out.Params[k] = v
		}
	}
	return out
}

// NormalizeHost lowercases a host name and converts it to its ASCII form.
// A port, if present, is preserved.
func NormalizeHost(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("empty host")
	}

	name, port := host, ""
	if h, p, err := net.SplitHostPort(host); err == nil {
		name, port = h, p
	}

	ascii, err := idna.Lookup.ToASCII(strings.ToLower(name))
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", host, err)
	}
	if port != "" {
		return net.JoinHostPort(ascii, port), nil
	}
	return ascii, nil
}

// MaskString masks credentials in a raw connection string without parsing
// it, for inputs that may not be valid.
func MaskString(raw string) string {
	scheme := ""
	rest := raw
	if i := strings.Index(raw, "://"); i >= 0 {
		scheme, rest = raw[:i+3], raw[i+3:]
	}

	if _, after, ok := splitUserinfo(rest); ok {
		return scheme + maskedCredentials + "@" + after
	}
	return raw
}

// splitUserinfo splits rest at the last '@' before the query. Unescaped '@'
// and '/' in a password are tolerated, so the userinfo may span what looks
// like a path.
func splitUserinfo(rest string) (userinfo, after string, ok bool) {
	end := len(rest)
	if i := strings.Index(rest, "?"); i >= 0 {
		end = i
	}
	i := strings.LastIndex(rest[:end], "@")
	if i < 0 {
		return "", rest, false
	}
	return rest[:i], rest[i+1:], true
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
