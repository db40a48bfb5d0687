package transformers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
	"github.com/code-sleuth/ike-rag/pkg/util"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/rs/zerolog"
)

var (
	ErrNotWordPressJSON  = errors.New("not a WordPress JSON response")
	ErrNoRenderedContent = errors.New("no rendered content found")
)

type wpRendered struct {
	Rendered string `json:"rendered"`
}

// wpPost is the subset of a /wp-json/wp/v2/posts (or pages) item in use.
type wpPost struct {
	ID      int         `json:"id"`
	Link    string      `json:"link"`
	Title   wpRendered  `json:"title"`
	Content *wpRendered `json:"content"`
	Excerpt wpRendered  `json:"excerpt"`
}

// WPJSONTransformer renders WordPress REST API posts as markdown. It accepts
// a single post or a listing; a listing becomes one document with a section
// per post.
type WPJSONTransformer struct {
	markdownConverter *md.Converter
	logger            zerolog.Logger
}

var _ interfaces.Transformer = (*WPJSONTransformer)(nil)

func NewWPJSONTransformer() *WPJSONTransformer {
	return &WPJSONTransformer{
		markdownConverter: md.NewConverter("", true, nil),
		logger:            util.NewLogger(zerolog.ErrorLevel),
	}
}

func (w *WPJSONTransformer) GetSourceType() string {
	return "wp-json"
}

func (w *WPJSONTransformer) CanTransform(contentType string) bool {
	return mediaType(contentType) == "application/json"
}

func (w *WPJSONTransformer) Transform(
	_ context.Context,
	sourceURL string,
	body []byte,
	contentType string,
) (*interfaces.TransformResult, error) {
	posts, single, err := decodePosts(body)
	if err != nil {
		w.logger.Error().Err(err).Str("source_url", sourceURL).Msg("Failed to decode WordPress JSON")
		return nil, fmt.Errorf("%w: %w", interfaces.ErrParse, err)
	}

	var title string
	var sections []string
	for _, post := range posts {
		content, err := w.extractContent(post)
		if err != nil {
			w.logger.Error().Err(err).Int("post_id", post.ID).Msg("Failed to extract post content")
			return nil, fmt.Errorf("%w: post %d: %w", interfaces.ErrParse, post.ID, err)
		}
		postTitle := w.convertInline(post.Title.Rendered)
		if single {
			title = postTitle
			sections = append(sections, content)
			continue
		}
		if postTitle != "" {
			content = "## " + postTitle + "\n\n" + content
		}
		sections = append(sections, content)
	}

	return &interfaces.TransformResult{
		Title:       fallbackTitle(title, sourceURL),
		Content:     normalizeText(strings.Join(sections, "\n\n")),
		ContentType: mediaType(contentType),
	}, nil
}

// decodePosts accepts a post object or an array of posts.
func decodePosts(body []byte) ([]wpPost, bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false, ErrNotWordPressJSON
	}

	if trimmed[0] == '[' {
		var posts []wpPost
		if err := json.Unmarshal(trimmed, &posts); err != nil {
			return nil, false, err
		}
		if len(posts) == 0 {
			return nil, false, ErrNotWordPressJSON
		}
		for _, p := range posts {
			if p.Content == nil {
				return nil, false, ErrNotWordPressJSON
			}
		}
		return posts, false, nil
	}

	var post wpPost
	if err := json.Unmarshal(trimmed, &post); err != nil {
		return nil, false, err
	}
	if post.Content == nil {
		return nil, false, ErrNotWordPressJSON
	}
	return []wpPost{post}, true, nil
}

func (w *WPJSONTransformer) extractContent(post wpPost) (string, error) {
	if strings.TrimSpace(post.Content.Rendered) == "" {
		return "", ErrNoRenderedContent
	}
	markdown, err := w.markdownConverter.ConvertString(post.Content.Rendered)
	if err != nil {
		return "", err
	}
	return markdown, nil
}

// convertInline renders a short HTML fragment such as a title.
func (w *WPJSONTransformer) convertInline(fragment string) string {
	if fragment == "" {
		return ""
	}
	out, err := w.markdownConverter.ConvertString(fragment)
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.TrimSpace(out)
}
