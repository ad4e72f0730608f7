package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/ruteri/config-service/interfaces"
)

// IPFSShell is the subset of the IPFS HTTP API used by IPFSRepository.
type IPFSShell interface {
	IsUp() bool
	List(path string) ([]*shell.LsLink, error)
	Cat(path string) (io.ReadCloser, error)
}

// IPFSRepository serves configuration documents from an IPFS directory, typically an
// /ipns/ name so that publishing a new directory revision updates the configuration.
// Labels select sub-directories.
type IPFSRepository struct {
	shell       IPFSShell
	root        string
	order       int
	log         *slog.Logger
	locationURI string
}

// NewIPFSRepository creates a repository reading root (an /ipfs/ or /ipns/ path)
// through the IPFS API at host:port.
func NewIPFSRepository(host, port, root string, order int, log *slog.Logger) *IPFSRepository {
	apiURL := fmt.Sprintf("%s:%s", host, port)
	return NewIPFSRepositoryWithShell(shell.NewShell(apiURL), root, order, log,
		fmt.Sprintf("ipfs://%s%s", apiURL, root))
}

// NewIPFSRepositoryWithShell creates a repository around an existing IPFS API client.
func NewIPFSRepositoryWithShell(sh IPFSShell, root string, order int, log *slog.Logger, locationURI string) *IPFSRepository {
	if log == nil {
		log = slog.Default()
	}
	return &IPFSRepository{
		shell:       sh,
		root:        "/" + strings.Trim(root, "/"),
		order:       order,
		log:         log,
		locationURI: locationURI,
	}
}

// FindOne lists the label's directory and reads the matching documents.
// The version is derived from the content hashes of the documents read.
func (b *IPFSRepository) FindOne(ctx context.Context, application, profile, label string, includeOrigin bool) (*interfaces.Environment, error) {
	start := time.Now()
	profiles := profilesOf(profile)
	env := interfaces.NewEnvironment(application, profiles, label)

	if !b.shell.IsUp() {
		b.log.Warn("IPFS node unavailable", slog.String("root", b.root))
		return nil, interfaces.ErrBackendUnavailable
	}

	dir := b.root
	if label != "" {
		dir = path.Join(b.root, label)
	}

	links, err := b.shell.List(dir)
	if err != nil {
		if strings.Contains(err.Error(), "no link named") {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, dir)
		}
		return nil, fmt.Errorf("failed to list IPFS directory: %w", err)
	}
	hashes := make(map[string]string, len(links))
	for _, link := range links {
		hashes[link.Name] = link.Hash
	}

	var cids []string
	for _, name := range candidateNames(application, profiles) {
		for _, ext := range DocumentExtensions {
			file := name + "." + ext
			cid, ok := hashes[file]
			if !ok {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			reader, err := b.shell.Cat(path.Join(dir, file))
			if err != nil {
				return nil, fmt.Errorf("failed to read from IPFS: %w", err)
			}
			data, err := io.ReadAll(reader)
			reader.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read from IPFS: %w", err)
			}

			rel := strings.TrimPrefix(path.Join(dir, file), b.root+"/")
			values, err := ParseDocument(rel, data, includeOrigin)
			if err != nil {
				return nil, err
			}
			env.Add(interfaces.NewPropertySource(applicationConfigPrefix+rel+"]", values))
			cids = append(cids, cid)
		}
	}

	b.log.Debug("Fetched environment from IPFS",
		slog.String("path", dir),
		slog.Int("documents", len(cids)),
		slog.Duration("duration", time.Since(start)))

	if len(cids) > 0 {
		env.Version = interfaces.ComputeID([]byte(strings.Join(cids, ","))).String()
	}
	return CleanEnvironment(env, "", "ipfs:/"+b.root), nil
}

// Order returns the precedence of this repository.
func (b *IPFSRepository) Order() int {
	return b.order
}

// Name returns a unique identifier for this repository.
func (b *IPFSRepository) Name() string {
	return "ipfs" + strings.ReplaceAll(b.root, "/", "-")
}

// LocationURI returns the URI that identifies this repository.
func (b *IPFSRepository) LocationURI() string {
	return b.locationURI
}
