package importers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
	"github.com/code-sleuth/ike-rag/pkg/util"

	"github.com/rs/zerolog"
)

const (
	// Minimum required URL parts for GitHub URL.
	minURLParts          = 2
	defaultGitHubAPIBase = "https://api.github.com"
	sourceTypeGitHub     = "github"
)

var (
	ErrInvalidGitHubURL       = errors.New("invalid GitHub URL: missing owner or repository")
	ErrNotGitHubURL           = errors.New("not a GitHub URL")
	ErrInvalidGitHubURLFormat = errors.New("invalid GitHub URL format")
	ErrUnsupportedEncoding    = errors.New("unsupported GitHub content encoding")
)

// GitHubRepoInfo represents repository information.
type GitHubRepoInfo struct {
	Owner string
	Repo  string
	Ref   string // branch, tag, or commit SHA
	Path  string // file path; empty means the repository README
}

// GitHubFileResponse represents the response from GitHub's contents API.
type GitHubFileResponse struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Size     int64  `json:"size"`
	HTMLURL  string `json:"html_url"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// GitHubFetcher retrieves files from GitHub repositories through the
// contents API, so private repositories work with a token and the fetched
// body is the raw file rather than the rendered page.
type GitHubFetcher struct {
	http    *HTTPFetcher
	apiBase string
	token   string
	logger  zerolog.Logger
}

var _ interfaces.Fetcher = (*GitHubFetcher)(nil)

// NewGitHubFetcher creates a GitHub fetcher sharing throttling and body
// limits with httpFetcher. GITHUB_TOKEN authenticates when set.
func NewGitHubFetcher(httpFetcher *HTTPFetcher) *GitHubFetcher {
	return &GitHubFetcher{
		http:    httpFetcher,
		apiBase: defaultGitHubAPIBase,
		token:   os.Getenv("GITHUB_TOKEN"),
		logger:  util.NewLogger(zerolog.ErrorLevel),
	}
}

func (g *GitHubFetcher) SetToken(token string) {
	g.token = token
}

// SetAPIBase points the fetcher at another GitHub API host.
func (g *GitHubFetcher) SetAPIBase(base string) {
	g.apiBase = strings.TrimRight(base, "/")
}

func (g *GitHubFetcher) GetSourceType() string {
	return sourceTypeGitHub
}

// ValidateSource accepts github.com repository and blob URLs.
func (g *GitHubFetcher) ValidateSource(sourceURL string) error {
	repoInfo, err := ParseGitHubURL(sourceURL)
	if err != nil {
		return err
	}
	if repoInfo.Owner == "" || repoInfo.Repo == "" {
		return ErrInvalidGitHubURL
	}
	return nil
}

// Fetch downloads the file named by a blob URL, or the README of a
// repository URL, and returns the decoded file contents.
func (g *GitHubFetcher) Fetch(ctx context.Context, sourceURL string) (*interfaces.FetchResult, error) {
	repoInfo, err := ParseGitHubURL(sourceURL)
	if err != nil {
		return nil, interfaces.Permanent(fmt.Errorf("%w: %w", interfaces.ErrFetch, err))
	}

	apiURL := g.contentsURL(repoInfo)
	headers := map[string]string{"Accept": "application/vnd.github.v3+json"}
	if g.token != "" {
		headers["Authorization"] = "token " + g.token
	}

	res, err := g.http.get(ctx, apiURL, headers)
	if err != nil {
		g.logger.Error().Err(err).Str("owner", repoInfo.Owner).Str("repo", repoInfo.Repo).
			Str("file_path", repoInfo.Path).Msg("GitHub API request failed")
		return nil, err
	}

	var file GitHubFileResponse
	if err := json.Unmarshal(res.Body, &file); err != nil {
		g.logger.Error().Err(err).Str("file_path", repoInfo.Path).Msg("Failed to decode response")
		return nil, interfaces.Permanent(fmt.Errorf("%w: decode contents response: %w", interfaces.ErrFetch, err))
	}

	content, err := decodeContent(&file)
	if err != nil {
		return nil, interfaces.Permanent(fmt.Errorf("%w: %w", interfaces.ErrFetch, err))
	}

	finalURL := file.HTMLURL
	if finalURL == "" {
		finalURL = sourceURL
	}
	return &interfaces.FetchResult{
		URL:         sourceURL,
		FinalURL:    finalURL,
		StatusCode:  res.StatusCode,
		ContentType: contentTypeForPath(file.Path),
		Body:        content,
	}, nil
}

func (g *GitHubFetcher) contentsURL(repoInfo *GitHubRepoInfo) string {
	if repoInfo.Path == "" {
		u := fmt.Sprintf("%s/repos/%s/%s/readme", g.apiBase, repoInfo.Owner, repoInfo.Repo)
		if repoInfo.Ref != "" {
			u += "?ref=" + url.QueryEscape(repoInfo.Ref)
		}
		return u
	}
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s",
		g.apiBase, repoInfo.Owner, repoInfo.Repo, repoInfo.Path, url.QueryEscape(repoInfo.Ref))
}

// ParseGitHubURL parses https://github.com/owner/repo[/blob|tree/ref[/path]].
func ParseGitHubURL(sourceURL string) (*GitHubRepoInfo, error) {
	parsedURL, err := url.Parse(sourceURL)
	if err != nil {
		return nil, err
	}

	if parsedURL.Host != "github.com" && parsedURL.Host != "www.github.com" {
		return nil, ErrNotGitHubURL
	}

	parts := strings.Split(strings.Trim(parsedURL.Path, "/"), "/")
	if len(parts) < minURLParts || parts[0] == "" || parts[1] == "" {
		return nil, ErrInvalidGitHubURLFormat
	}

	repoInfo := &GitHubRepoInfo{
		Owner: parts[0],
		Repo:  strings.TrimSuffix(parts[1], ".git"),
	}

	if len(parts) >= 4 && (parts[2] == "blob" || parts[2] == "tree") {
		repoInfo.Ref = parts[3]
		if parts[2] == "blob" {
			if len(parts) < 5 {
				return nil, ErrInvalidGitHubURLFormat
			}
			repoInfo.Path = strings.Join(parts[4:], "/")
		}
	} else if len(parts) > 2 {
		return nil, ErrInvalidGitHubURLFormat
	}

	return repoInfo, nil
}

func decodeContent(file *GitHubFileResponse) ([]byte, error) {
	switch file.Encoding {
	case "base64":
		cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(file.Content)
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("decode base64 content: %w", err)
		}
		return decoded, nil
	case "", "utf-8":
		return []byte(file.Content), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, file.Encoding)
	}
}

func contentTypeForPath(filePath string) string {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".md", ".markdown":
		return "text/markdown; charset=utf-8"
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}
