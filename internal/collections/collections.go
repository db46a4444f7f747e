// Package collections creates the application's collections on a resolved
// database.
package collections

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jobtracing/dbresolve/internal/probe"
	"github.com/jobtracing/dbresolve/internal/uri"
)

// CodeNamespaceExists is the server error code for an existing collection.
const CodeNamespaceExists = 48

// DefaultDatabase is used when the URI names no database.
const DefaultDatabase = "jobtracing"

// Default lists the collections the application expects.
var Default = []string{
	"industries",
	"companies",
	"positions",
	"essays",
	"onlinetests",
	"interviews",
}

// Database is the subset of *mongo.Database used here.
type Database interface {
	Name() string
	CreateCollection(ctx context.Context, name string, opts ...*options.CreateCollectionOptions) error
	ListCollectionNames(ctx context.Context, filter interface{}, opts ...*options.ListCollectionsOptions) ([]string, error)
}

// Action is what happened to one collection.
type Action string

const (
	Created Action = "created"
	Existed Action = "existed"
	Failed  Action = "failed"
)

// Status is the result for one collection.
type Status struct {
	Name   string `json:"name" yaml:"name"`
	Action Action `json:"action" yaml:"action"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Ensure creates every named collection in db. Existing collections are
// reported, not failed. Every name is attempted; the returned error joins
// the failures.
func Ensure(ctx context.Context, db Database, names []string, logger zerolog.Logger) ([]Status, error) {
	statuses := make([]Status, 0, len(names))
	var errs []error

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return statuses, err
		}

		err := db.CreateCollection(ctx, name)
		switch {
		case err == nil:
			statuses = append(statuses, Status{Name: name, Action: Created})
			logger.Info().Str("db", db.Name()).Str("collection", name).Msg("Created collection")
		case IsNamespaceExists(err):
			statuses = append(statuses, Status{Name: name, Action: Existed})
			logger.Info().Str("db", db.Name()).Str("collection", name).Msg("Collection already exists")
		default:
			statuses = append(statuses, Status{Name: name, Action: Failed, Error: err.Error()})
			logger.Error().Err(err).Str("db", db.Name()).Str("collection", name).Msg("Failed to create collection")
			errs = append(errs, fmt.Errorf("create %s: %w", name, err))
		}
	}

	return statuses, errors.Join(errs...)
}

// List returns the collection names in db, sorted.
func List(ctx context.Context, db Database) ([]string, error) {
	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections in %s: %w", db.Name(), err)
	}
	sort.Strings(names)
	return names, nil
}

// IsNamespaceExists reports whether err is the server's "already exists"
// error.
func IsNamespaceExists(err error) bool {
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorCode(CodeNamespaceExists)
}

// DatabaseName returns the database d targets, or DefaultDatabase.
func DatabaseName(d uri.Descriptor) string {
	if d.Database != "" {
		return d.Database
	}
	return DefaultDatabase
}

// Session is an open connection to a resolved database.
type Session struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open dials d and selects its database. Close must be called.
func Open(ctx context.Context, d uri.Descriptor, timeout time.Duration) (*Session, error) {
	client, err := probe.Dial(ctx, d, timeout)
	if err != nil {
		return nil, err
	}
	return &Session{client: client, db: client.Database(DatabaseName(d))}, nil
}

// Database returns the selected database.
func (s *Session) Database() Database {
	return s.db
}

// Close disconnects the client.
func (s *Session) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
