package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/config-service/interfaces"
)

// DefaultSQLQuery selects the properties of one (application, profile, label) triple
// using positional "?" placeholders.
const DefaultSQLQuery = "SELECT KEY, VALUE FROM PROPERTIES WHERE APPLICATION=? AND PROFILE=? AND LABEL=?"

// DefaultPostgresQuery is DefaultSQLQuery with PostgreSQL-style placeholders.
const DefaultPostgresQuery = "SELECT key, value FROM properties WHERE application=$1 AND profile=$2 AND label=$3"

// SQLRepository serves configuration rows from a relational table.
//
// The query runs once per (application, profile) pair, with the shared
// "application" entry and the "default" profile always included. Pairs are
// visited most specific first: later applications before earlier ones, later
// profiles before earlier ones.
type SQLRepository struct {
	db          *sql.DB
	query       string
	failOnError bool
	order       int
	log         *slog.Logger
	locationURI string
}

// NewSQLRepository creates a repository running query against db. With failOnError a
// failing query aborts the lookup, otherwise it is logged and skipped.
func NewSQLRepository(db *sql.DB, query string, failOnError bool, order int, log *slog.Logger, locationURI string) *SQLRepository {
	if query == "" {
		query = DefaultSQLQuery
	}
	if log == nil {
		log = slog.Default()
	}
	return &SQLRepository{
		db:          db,
		query:       query,
		failOnError: failOnError,
		order:       order,
		log:         log,
		locationURI: locationURI,
	}
}

// FindOne queries every (application, profile) pair and adds a source named
// "{application}-{profile}" for each pair that returned rows. An empty label
// means "master".
func (b *SQLRepository) FindOne(ctx context.Context, application, profile, label string, includeOrigin bool) (*interfaces.Environment, error) {
	start := time.Now()
	if label == "" {
		label = "master"
	}
	if profile == "" {
		profile = "default"
	}
	if !strings.HasPrefix(profile, "default") {
		profile = "default," + profile
	}
	profiles := interfaces.SplitCSV(profile)
	env := interfaces.NewEnvironment(application, profiles, label)

	config := application
	if !strings.HasPrefix(config, "application") {
		config = "application," + config
	}
	apps := reversed(dedupe(interfaces.SplitCSV(config)))
	envs := reversed(dedupe(profiles))

	for _, app := range apps {
		for _, p := range envs {
			values, err := b.queryProperties(ctx, app, p, label, includeOrigin)
			if err != nil {
				if b.failOnError {
					return nil, err
				}
				b.log.Debug("Failed to retrieve configuration from SQL repository",
					slog.String("application", app),
					slog.String("profile", p),
					slog.String("label", label),
					"err", err)
				continue
			}
			if values.Len() > 0 {
				env.Add(interfaces.NewPropertySource(app+"-"+p, values))
			}
		}
	}

	b.log.Debug("Fetched environment from SQL",
		slog.String("application", application),
		slog.Int("property_sources", len(env.PropertySources)),
		slog.Duration("duration", time.Since(start)))

	return env, nil
}

func (b *SQLRepository) queryProperties(ctx context.Context, app, profile, label string, includeOrigin bool) (*interfaces.OrderedValues, error) {
	rows, err := b.db.QueryContext(ctx, b.query, app, profile, label)
	if err != nil {
		return nil, fmt.Errorf("querying %s-%s: %w", app, profile, err)
	}
	defer rows.Close()

	values := interfaces.NewOrderedValues()
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning %s-%s: %w", app, profile, err)
		}
		var v any
		if value.Valid {
			v = value.String
		}
		if includeOrigin {
			v = interfaces.OriginTrackedValue{Value: v, Origin: fmt.Sprintf("sql:%s-%s@%s", app, profile, label)}
		}
		values.Set(key, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s-%s: %w", app, profile, err)
	}
	return values, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func reversed(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[len(in)-1-i] = s
	}
	return out
}

// Order returns the precedence of this repository.
func (b *SQLRepository) Order() int {
	return b.order
}

// Name returns a unique identifier for this repository.
func (b *SQLRepository) Name() string {
	return "sql"
}

// LocationURI returns the URI that identifies this repository.
func (b *SQLRepository) LocationURI() string {
	return b.locationURI
}
