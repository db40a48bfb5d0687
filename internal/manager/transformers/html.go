package transformers

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
	"github.com/code-sleuth/ike-rag/pkg/util"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/go-shiori/go-readability"
	"github.com/rs/zerolog"
)

// HTMLTransformer extracts the main article of an HTML page with readability
// and renders it as markdown. Pages readability cannot handle are converted
// whole.
type HTMLTransformer struct {
	markdownConverter *md.Converter
	logger            zerolog.Logger
}

var _ interfaces.Transformer = (*HTMLTransformer)(nil)

func NewHTMLTransformer() *HTMLTransformer {
	return &HTMLTransformer{
		markdownConverter: md.NewConverter("", true, nil),
		logger:            util.NewLogger(zerolog.ErrorLevel),
	}
}

func (h *HTMLTransformer) GetSourceType() string {
	return "html"
}

func (h *HTMLTransformer) CanTransform(contentType string) bool {
	switch mediaType(contentType) {
	case "text/html", "application/xhtml+xml":
		return true
	default:
		return false
	}
}

func (h *HTMLTransformer) Transform(
	_ context.Context,
	sourceURL string,
	body []byte,
	contentType string,
) (*interfaces.TransformResult, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty HTML body", interfaces.ErrParse)
	}

	pageURL, err := url.Parse(sourceURL)
	if err != nil {
		pageURL = &url.URL{}
	}

	var title, content string
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		h.logger.Warn().Err(err).Str("source_url", sourceURL).Msg("Readability extraction failed, converting whole page")
	} else {
		title = strings.TrimSpace(article.Title)
		if article.Content != "" {
			content, err = h.markdownConverter.ConvertString(article.Content)
			if err != nil {
				h.logger.Warn().Err(err).Str("source_url", sourceURL).Msg("Failed to convert article to markdown")
				content = ""
			}
		}
		if strings.TrimSpace(content) == "" {
			content = article.TextContent
		}
	}

	if strings.TrimSpace(content) == "" {
		content, err = h.markdownConverter.ConvertString(string(body))
		if err != nil {
			h.logger.Error().Err(err).Str("source_url", sourceURL).Msg("Failed to convert HTML to markdown")
			return nil, fmt.Errorf("%w: %w", interfaces.ErrParse, err)
		}
	}

	return &interfaces.TransformResult{
		Title:       fallbackTitle(title, sourceURL),
		Content:     normalizeText(content),
		ContentType: mediaType(contentType),
	}, nil
}
