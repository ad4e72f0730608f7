package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ruteri/config-service/interfaces"
)

// GitHubRepository is a read-only repository serving configuration documents from a
// GitHub repository through the contents API. The label selects the git ref.
type GitHubRepository struct {
	owner        string
	repo         string
	searchPath   string
	defaultLabel string
	token        string
	apiURL       string
	client       *http.Client
	order        int
	log          *slog.Logger
	locationURI  string
}

// GitHubContent represents one entry of GitHub's contents API.
type GitHubContent struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// NewGitHubRepository creates a repository reading from owner/repo. searchPath is the
// directory inside the repository holding the documents, token is optional.
func NewGitHubRepository(owner, repo, searchPath, defaultLabel, token string, order int, log *slog.Logger) *GitHubRepository {
	if defaultLabel == "" {
		defaultLabel = "main"
	}
	if log == nil {
		log = slog.Default()
	}
	return &GitHubRepository{
		owner:        owner,
		repo:         repo,
		searchPath:   strings.Trim(searchPath, "/"),
		defaultLabel: defaultLabel,
		token:        token,
		apiURL:       "https://api.github.com",
		client:       &http.Client{Timeout: 30 * time.Second},
		order:        order,
		log:          log,
		locationURI:  fmt.Sprintf("github://%s/%s", owner, repo),
	}
}

// WithAPIURL points the repository at a different API root, such as GitHub Enterprise.
func (b *GitHubRepository) WithAPIURL(apiURL string) *GitHubRepository {
	b.apiURL = strings.TrimSuffix(apiURL, "/")
	return b
}

// FindOne lists the search directory at the requested ref and reads the matching documents.
// A ref that does not exist yields ErrNotFound.
func (b *GitHubRepository) FindOne(ctx context.Context, application, profile, label string, includeOrigin bool) (*interfaces.Environment, error) {
	if label == "" {
		label = b.defaultLabel
	}
	profiles := profilesOf(profile)
	env := interfaces.NewEnvironment(application, profiles, label)

	listing, err := b.listDirectory(ctx, label)
	if err != nil {
		return nil, err
	}
	files := make(map[string]GitHubContent, len(listing))
	for _, entry := range listing {
		if entry.Type == "file" {
			files[entry.Name] = entry
		}
	}

	canonical := fmt.Sprintf("https://github.com/%s/%s/blob/%s", b.owner, b.repo, label)
	var shas []string
	for _, name := range candidateNames(application, profiles) {
		for _, ext := range DocumentExtensions {
			entry, ok := files[name+"."+ext]
			if !ok {
				continue
			}
			data, err := b.fetchFile(ctx, entry.Path, label)
			if err != nil {
				return nil, err
			}
			values, err := ParseDocument(entry.Path, data, includeOrigin)
			if err != nil {
				return nil, err
			}
			env.Add(interfaces.NewPropertySource(applicationConfigPrefix+entry.Path+"]", values))
			shas = append(shas, entry.SHA)

			b.log.Debug("Fetched document from GitHub",
				slog.String("path", entry.Path),
				slog.String("ref", label),
				slog.Int("size", len(data)))
		}
	}

	if len(shas) > 0 {
		env.Version = interfaces.ComputeID([]byte(strings.Join(shas, ","))).String()
	}
	return CleanEnvironment(env, "", canonical), nil
}

func (b *GitHubRepository) listDirectory(ctx context.Context, ref string) ([]GitHubContent, error) {
	body, err := b.get(ctx, b.searchPath, ref)
	if err != nil {
		return nil, err
	}
	var entries []GitHubContent
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode directory listing: %w", err)
	}
	return entries, nil
}

func (b *GitHubRepository) fetchFile(ctx context.Context, filePath, ref string) ([]byte, error) {
	body, err := b.get(ctx, filePath, ref)
	if err != nil {
		return nil, err
	}
	var content GitHubContent
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, fmt.Errorf("failed to decode file content: %w", err)
	}
	if content.Encoding != "base64" {
		return nil, fmt.Errorf("unexpected content encoding: %s", content.Encoding)
	}
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("failed to decode file content: %w", err)
	}
	return data, nil
}

func (b *GitHubRepository) get(ctx context.Context, contentPath, ref string) ([]byte, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s",
		b.apiURL, b.owner, b.repo, path.Clean("/" + contentPath)[1:], url.QueryEscape(ref))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s at ref %s", interfaces.ErrNotFound, contentPath, ref)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API error: %s, %s", resp.Status, string(body))
	}
	return body, nil
}

// Order returns the precedence of this repository.
func (b *GitHubRepository) Order() int {
	return b.order
}

// Name returns a unique identifier for this repository.
func (b *GitHubRepository) Name() string {
	return fmt.Sprintf("github-%s-%s", b.owner, b.repo)
}

// LocationURI returns the URI that identifies this repository.
func (b *GitHubRepository) LocationURI() string {
	return b.locationURI
}
