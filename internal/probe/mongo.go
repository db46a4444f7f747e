package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jobtracing/dbresolve/internal/candidate"
	reserrors "github.com/jobtracing/dbresolve/internal/errors"
	"github.com/jobtracing/dbresolve/internal/uri"
)

const (
	// DefaultTimeout is the per-attempt budget when none is given.
	DefaultTimeout = 5 * time.Second

	// DefaultDisconnectTimeout bounds the cleanup after an attempt.
	DefaultDisconnectTimeout = 2 * time.Second

	defaultAppName = "dbresolve"

	// Usernames shorter than this are only redacted next to ':' or '@'.
	minBareRedact = 4

	redacted = "*****"
)

// SRVResolver looks up seed-list records. *net.Resolver satisfies it.
type SRVResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// MongoProber probes candidates with the MongoDB driver: connect, ping the
// admin database, disconnect.
type MongoProber struct {
	AppName           string
	DisconnectTimeout time.Duration

	// Resolver checks mongodb+srv names before the driver sees them.
	Resolver SRVResolver
}

// NewMongoProber returns a prober with default settings.
func NewMongoProber() *MongoProber {
	return &MongoProber{
		AppName:           defaultAppName,
		DisconnectTimeout: DefaultDisconnectTimeout,
		Resolver:          net.DefaultResolver,
	}
}

// Attempt makes one bounded attempt against c.
func (p *MongoProber) Attempt(ctx context.Context, c candidate.Candidate, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	start := time.Now()
	err := p.ping(ctx, c.Descriptor, timeout)
	elapsed := time.Since(start)

	outcome := Classify(err, elapsed, timeout)
	detail := ""
	if err != nil {
		detail = Redact(err.Error(), c.Descriptor)
	}
	return NewResult(c, outcome, start, elapsed, detail)
}

func (p *MongoProber) ping(ctx context.Context, d uri.Descriptor, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts, err := buildOptions(ctx, p.Resolver, d, func() *options.ClientOptions {
		return p.clientOptions(d, timeout)
	})
	if err != nil {
		return err
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return err
	}
	defer p.disconnect(client)

	return client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
}

// disconnect uses its own context so a cancelled attempt still releases
// the client.
func (p *MongoProber) disconnect(client *mongo.Client) {
	timeout := p.DisconnectTimeout
	if timeout <= 0 {
		timeout = DefaultDisconnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = client.Disconnect(ctx)
}

func (p *MongoProber) clientOptions(d uri.Descriptor, timeout time.Duration) *options.ClientOptions {
	appName := p.AppName
	if appName == "" {
		appName = defaultAppName
	}
	return options.Client().
		ApplyURI(d.String()).
		SetAppName(appName).
		SetServerSelectionTimeout(timeout).
		SetConnectTimeout(timeout).
		SetMaxPoolSize(1).
		SetRetryReads(false).
		SetRetryWrites(false)
}

// Dial connects to d and verifies the connection with a ping. The caller
// owns the returned client and must disconnect it.
func Dial(ctx context.Context, d uri.Descriptor, timeout time.Duration) (*mongo.Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts, err := buildOptions(connectCtx, net.DefaultResolver, d, func() *options.ClientOptions {
		return options.Client().
			ApplyURI(d.String()).
			SetAppName(defaultAppName).
			SetServerSelectionTimeout(timeout).
			SetConnectTimeout(timeout)
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", d.Masked(), err)
	}

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", d.Masked(), err)
	}

	if err := client.Database("admin").RunCommand(connectCtx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		discCtx, discCancel := context.WithTimeout(context.Background(), DefaultDisconnectTimeout)
		defer discCancel()
		_ = client.Disconnect(discCtx)
		return nil, fmt.Errorf("ping %s: %w", d.Masked(), err)
	}

	return client, nil
}

// buildOptions returns the client options for d. For a seed-list name the
// SRV record is looked up under ctx first. The driver then resolves the
// name again without a context, so that step is abandoned, not waited
// for, once ctx ends.
func buildOptions(ctx context.Context, r SRVResolver, d uri.Descriptor, build func() *options.ClientOptions) (*options.ClientOptions, error) {
	if d.Scheme != uri.SRV {
		return build(), nil
	}
	if r == nil {
		r = net.DefaultResolver
	}
	if err := lookupSeedList(ctx, r, d); err != nil {
		return nil, err
	}

	done := make(chan *options.ClientOptions, 1)
	go func() {
		done <- build()
	}()

	select {
	case opts := <-done:
		return opts, nil
	case <-ctx.Done():
		return nil, contextError(ctx, d)
	}
}

func lookupSeedList(ctx context.Context, r SRVResolver, d uri.Descriptor) error {
	host := d.Hostname()
	_, records, err := r.LookupSRV(ctx, "mongodb", "tcp", host)
	if ctx.Err() != nil {
		return contextError(ctx, d)
	}
	if err == nil && len(records) == 0 {
		err = fmt.Errorf("no SRV records for %s", host)
	}
	if err != nil {
		return reserrors.NewDNSError(d.Masked(), "srv lookup", err)
	}
	return nil
}

func contextError(ctx context.Context, d uri.Descriptor) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return reserrors.NewTimeoutError(d.Masked(), "srv lookup", err)
	}
	return err
}

// Redact removes the descriptor's credentials from a driver message, in
// every escaping the driver may echo them with.
func Redact(msg string, d uri.Descriptor) string {
	msg = strings.ReplaceAll(msg, d.String(), d.Masked())
	if d.Credentials == nil {
		return msg
	}
	if pw := d.Credentials.Password; pw != "" {
		for _, form := range encodings(pw) {
			msg = strings.ReplaceAll(msg, form, redacted)
		}
	}
	if user := d.Credentials.Username; user != "" {
		for _, form := range encodings(user) {
			if len(form) >= minBareRedact {
				msg = strings.ReplaceAll(msg, form, redacted)
				continue
			}
			msg = strings.ReplaceAll(msg, form+":", redacted+":")
			msg = strings.ReplaceAll(msg, form+"@", redacted+"@")
		}
	}
	return msg
}

// encodings returns the distinct forms s may take in a message, longest
// first so a raw form never splits an escaped one.
func encodings(s string) []string {
	candidates := []string{
		strings.TrimPrefix(url.UserPassword("", s).String(), ":"),
		url.QueryEscape(s),
		url.PathEscape(s),
		s,
	}

	seen := make(map[string]bool, len(candidates))
	forms := candidates[:0]
	for _, f := range candidates {
		if f != "" && !seen[f] {
			seen[f] = true
			forms = append(forms, f)
		}
	}
	sort.SliceStable(forms, func(i, j int) bool {
		return len(forms[i]) > len(forms[j])
	})
	return forms
}
