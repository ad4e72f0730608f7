package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/config-service/interfaces"
)

// FileRepository serves configuration documents from a directory on the local file system.
//
// Documents are looked up as {application}-{profile}.{ext} and {application}.{ext}
// (and the shared "application" equivalents). When a label is given and a
// sub-directory of that name exists, it is searched before the root.
type FileRepository struct {
	baseDir     string
	uri         string
	order       int
	log         *slog.Logger
	locationURI string
}

// NewFileRepository creates a repository rooted at baseDir. When canonicalURI is
// non-empty, source names and origins are rewritten against it instead of
// the local path.
func NewFileRepository(baseDir, canonicalURI string, order int, log *slog.Logger) (*FileRepository, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", interfaces.ErrInvalidLocationURI, abs)
	}
	if log == nil {
		log = slog.Default()
	}

	return &FileRepository{
		baseDir:     abs,
		uri:         canonicalURI,
		order:       order,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", abs),
	}, nil
}

// FindOne reads every matching document, highest precedence first.
// The version is the content hash of the documents read.
func (b *FileRepository) FindOne(ctx context.Context, application, profile, label string, includeOrigin bool) (*interfaces.Environment, error) {
	profiles := profilesOf(profile)
	env := interfaces.NewEnvironment(application, profiles, label)

	dirs := []string{b.baseDir}
	if label != "" {
		labelDir := filepath.Join(b.baseDir, filepath.FromSlash(label))
		if info, err := os.Stat(labelDir); err == nil && info.IsDir() && b.contains(labelDir) {
			dirs = []string{labelDir, b.baseDir}
		}
	}

	var digest []byte
	for _, name := range candidateNames(application, profiles) {
		for _, dir := range dirs {
			for _, ext := range DocumentExtensions {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				path := filepath.Join(dir, name+"."+ext)
				data, err := os.ReadFile(path)
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				if err != nil {
					return nil, fmt.Errorf("failed to read file: %w", err)
				}

				rel, _ := filepath.Rel(b.baseDir, path)
				values, err := ParseDocument(filepath.ToSlash(rel), data, includeOrigin)
				if err != nil {
					return nil, err
				}
				env.Add(interfaces.NewPropertySource(applicationConfigPrefix+path+"]", values))
				digest = append(digest, data...)

				b.log.Debug("Read configuration document",
					slog.String("path", path),
					slog.Int("size", len(data)))
			}
		}
	}

	if len(env.PropertySources) > 0 {
		env.Version = interfaces.ComputeID(digest).String()
	}

	if b.uri != "" {
		return CleanEnvironment(env, b.baseDir+string(filepath.Separator), b.uri), nil
	}
	return env, nil
}

// contains reports whether dir is baseDir itself or lies below it.
func (b *FileRepository) contains(dir string) bool {
	rel, err := filepath.Rel(b.baseDir, dir)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Order returns the precedence of this repository.
func (b *FileRepository) Order() int {
	return b.order
}

// Name returns a unique identifier for this repository.
func (b *FileRepository) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this repository.
func (b *FileRepository) LocationURI() string {
	return b.locationURI
}
