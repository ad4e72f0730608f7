package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ruteri/config-service/interfaces"
	"github.com/ruteri/config-service/metrics"
)

// CompositeRepository merges the Environments of several repositories.
// Repositories are consulted in order of precedence (lowest Order first) and their
// property sources are appended in that order, so earlier repositories win.
type CompositeRepository struct {
	repositories []interfaces.EnvironmentRepository
	failOnError  bool
	log          *slog.Logger
}

// NewCompositeRepository creates a composite over repositories, sorted stably by
// precedence. With failOnError any repository error aborts the lookup, otherwise
// failing repositories are logged and skipped.
func NewCompositeRepository(repositories []interfaces.EnvironmentRepository, failOnError bool, logger *slog.Logger) *CompositeRepository {
	if logger == nil {
		logger = slog.Default()
	}

	sorted := append([]interfaces.EnvironmentRepository(nil), repositories...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return orderOf(sorted[i]) < orderOf(sorted[j])
	})

	return &CompositeRepository{
		repositories: sorted,
		failOnError:  failOnError,
		log:          logger,
	}
}

// FindOne resolves the Environment. With a single repository its result is passed
// through with its version and state; with several the sources are concatenated
// and version and state are left empty.
func (c *CompositeRepository) FindOne(ctx context.Context, application, profile, label string, includeOrigin bool) (*interfaces.Environment, error) {
	start := time.Now()
	env := interfaces.NewEnvironment(application, interfaces.SplitCSV(profile), label)

	if len(c.repositories) == 1 {
		found, err := c.repositories[0].FindOne(ctx, application, profile, label, includeOrigin)
		if err != nil {
			return nil, err
		}
		env.AddAll(found.PropertySources)
		env.Version = found.Version
		env.State = found.State
		return env, nil
	}

	var errs []error
	for _, repo := range c.repositories {
		found, err := repo.FindOne(ctx, application, profile, label, includeOrigin)
		if err != nil {
			if c.failOnError {
				return nil, fmt.Errorf("%s: %w", nameOf(repo), err)
			}
			errs = append(errs, fmt.Errorf("%s: %w", nameOf(repo), err))
			metrics.CompositeSkips.WithLabelValues(nameOf(repo)).Inc()
			c.log.Warn("Error getting the Environment, skipping repository",
				slog.String("backend_name", nameOf(repo)),
				slog.String("application", application),
				slog.String("profile", profile),
				slog.String("label", label),
				slog.Bool("include_origin", includeOrigin),
				"err", err)
			continue
		}
		env.AddAll(found.PropertySources)
	}

	c.log.Debug("Resolved composite environment",
		slog.String("application", application),
		slog.Int("property_sources", len(env.PropertySources)),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return env, nil
}

// Name returns the name of this repository.
func (c *CompositeRepository) Name() string {
	return "composite"
}

// LocationURI returns a combined URI of all member repositories.
func (c *CompositeRepository) LocationURI() string {
	var locations []string
	for _, repo := range c.repositories {
		if l, ok := repo.(interface{ LocationURI() string }); ok {
			locations = append(locations, l.LocationURI())
		}
	}
	return "composite:[" + strings.Join(locations, ",") + "]"
}

// WithOrder assigns an explicit precedence to a repository.
func WithOrder(repo interfaces.EnvironmentRepository, order int) interfaces.EnvironmentRepository {
	return &orderedRepository{EnvironmentRepository: repo, order: order}
}

type orderedRepository struct {
	interfaces.EnvironmentRepository
	order int
}

func (o *orderedRepository) Order() int { return o.order }

func (o *orderedRepository) Name() string { return nameOf(o.EnvironmentRepository) }

func (o *orderedRepository) LocationURI() string {
	if l, ok := o.EnvironmentRepository.(interface{ LocationURI() string }); ok {
		return l.LocationURI()
	}
	return ""
}

func orderOf(repo interfaces.EnvironmentRepository) int {
	if o, ok := repo.(interfaces.Ordered); ok {
		return o.Order()
	}
	return interfaces.LowestPrecedence
}

func nameOf(repo interfaces.EnvironmentRepository) string {
	if n, ok := repo.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", repo)
}
