// Package transformers turns fetched payloads into titled plain text.
package transformers

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
)

const (
	extJSON = ".json"
	extYAML = ".yaml"
	extYML  = ".yml"
)

var (
	blankRuns      = regexp.MustCompile(`\n{3,}`)
	trailingSpaces = regexp.MustCompile(`[ \t]+\n`)
	markdownTitle  = regexp.MustCompile(`(?m)^#\s+(.+)$`)
)

// TextTransformer passes plain text and markdown through. Source files are
// wrapped in a fenced block tagged with their language so chunks keep the
// context that they are code.
type TextTransformer struct{}

var _ interfaces.Transformer = (*TextTransformer)(nil)

func NewTextTransformer() *TextTransformer {
	return &TextTransformer{}
}

func (t *TextTransformer) GetSourceType() string {
	return "text"
}

func (t *TextTransformer) CanTransform(contentType string) bool {
	mt := mediaType(contentType)
	return strings.HasPrefix(mt, "text/") && mt != "text/html"
}

func (t *TextTransformer) Transform(
	_ context.Context,
	sourceURL string,
	body []byte,
	contentType string,
) (*interfaces.TransformResult, error) {
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("%w: body is not valid UTF-8", interfaces.ErrParse)
	}
	content := string(body)

	var title string
	if m := markdownTitle.FindStringSubmatch(content); m != nil {
		title = strings.TrimSpace(m[1])
	}

	ext := strings.ToLower(path.Ext(urlPath(sourceURL)))
	if lang := languageFromExtension(ext); lang != "" && strings.TrimSpace(content) != "" {
		content = fmt.Sprintf("```%s\n%s\n```", lang, strings.TrimRight(content, "\n"))
	}

	return &interfaces.TransformResult{
		Title:       fallbackTitle(title, sourceURL),
		Content:     normalizeText(content),
		ContentType: mediaType(contentType),
	}, nil
}

// languageFromExtension returns the fence language for source files; prose
// formats return "".
func languageFromExtension(ext string) string {
	languageMap := map[string]string{
		".py":    "python",
		".js":    "javascript",
		".ts":    "typescript",
		".go":    "go",
		".java":  "java",
		".cpp":   "cpp",
		".c":     "c",
		".h":     "c",
		".hpp":   "cpp",
		".css":   "css",
		".xml":   "xml",
		extJSON:  "json",
		extYAML:  "yaml",
		extYML:   "yaml",
		".toml":  "toml",
		".ini":   "ini",
		".cfg":   "ini",
		".conf":  "ini",
		".sh":    "bash",
		".bash":  "bash",
		".sql":   "sql",
		".rb":    "ruby",
		".php":   "php",
		".swift": "swift",
		".kt":    "kotlin",
		".scala": "scala",
		".rs":    "rust",
		".lua":   "lua",
	}
	return languageMap[ext]
}

// mediaType strips parameters from a Content-Type header value.
func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mt
}

func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = trailingSpaces.ReplaceAllString(s, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// fallbackTitle uses the last path segment, or the host, when a document
// has no title of its own.
func fallbackTitle(title, sourceURL string) string {
	if title = strings.TrimSpace(title); title != "" {
		return title
	}
	u, err := url.Parse(sourceURL)
	if err != nil {
		return sourceURL
	}
	if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
		return base
	}
	if u.Host != "" {
		return u.Host
	}
	return sourceURL
}

func urlPath(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return ""
	}
	return u.Path
}
