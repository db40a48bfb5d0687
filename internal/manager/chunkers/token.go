package chunkers

import (
	"strings"
	"unicode/utf8"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
	"github.com/code-sleuth/ike-rag/pkg/util"

	"github.com/rs/zerolog"
	"github.com/tiktoken-go/tokenizer"
)

const defaultEncoding = "cl100k_base"

// TokenChunker implements token-based chunking using tiktoken. Sizes in
// ChunkOptions are token counts.
type TokenChunker struct {
	encoding     tokenizer.Codec
	encodingName string
	logger       zerolog.Logger
}

var _ interfaces.Chunker = (*TokenChunker)(nil)

// NewTokenChunker creates a token chunker for the named encoding; unknown or
// empty names use cl100k_base.
func NewTokenChunker(encodingName string) (*TokenChunker, error) {
	logger := util.NewLogger(zerolog.ErrorLevel)

	name := strings.ToLower(strings.TrimSpace(encodingName))
	if name == "" {
		name = defaultEncoding
	}
	encoding, err := getTokenizerEncoding(name)
	if err != nil {
		logger.Error().Err(err).Str("tokenizer", name).Msg("failed to get tokenizer")
		return nil, err
	}

	return &TokenChunker{
		encoding:     encoding,
		encodingName: name,
		logger:       logger,
	}, nil
}

// GetChunkingStrategy returns the strategy name used by this chunker.
func (t *TokenChunker) GetChunkingStrategy() string {
	return "token"
}

// Encoding returns the tokenizer encoding name.
func (t *TokenChunker) Encoding() string {
	return t.encodingName
}

// ChunkDocument splits content into overlapping windows of at most
// opts.MaxSize tokens.
func (t *TokenChunker) ChunkDocument(content string, opts interfaces.ChunkOptions) ([]string, error) {
	if err := validateOptions(opts); err != nil {
		t.logger.Warn().Err(err).Msg("invalid chunk options")
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		t.logger.Warn().Msg("content is empty")
		return nil, ErrContentEmpty
	}

	// Tokenize the entire content
	tokens, pieces, err := t.encoding.Encode(content)
	if err != nil {
		t.logger.Err(err).Msg("failed to tokenize content")
		return nil, err
	}

	totalTokens := len(tokens)

	// If content fits in one chunk, return it as-is
	if totalTokens <= opts.MaxSize {
		return []string{content}, nil
	}

	offsets, ok := t.byteOffsets(pieces, len(content))

	var chunks []string
	stepSize := opts.MaxSize - opts.OverlapSize

	for i := 0; i < totalTokens; i += stepSize {
		end := min(i+opts.MaxSize, totalTokens)

		var chunkText string
		if ok {
			// A token edge can fall inside a multi-byte rune; both edges move
			// back to the rune start so windows stay valid UTF-8 and tile
			// the content.
			chunkText = content[runeStart(content, offsets[i]):runeStart(content, offsets[end])]
		} else {
			decoded, err := t.encoding.Decode(tokens[i:end])
			if err != nil {
				t.logger.Err(err).Msg("failed to decode chunk tokens")
				return nil, err
			}
			chunkText = strings.ToValidUTF8(decoded, "")
		}
		if chunkText != "" {
			chunks = append(chunks, chunkText)
		}

		if end >= totalTokens {
			break
		}
	}

	if len(chunks) == 0 {
		return nil, ErrContentEmpty
	}
	return chunks, nil
}

// byteOffsets returns the byte offset in the source of every token edge,
// len(pieces)+1 entries. It reports false when the pieces do not add up to
// the source length.
func (t *TokenChunker) byteOffsets(pieces []string, size int) ([]int, bool) {
	offsets := make([]int, len(pieces)+1)
	for i, piece := range pieces {
		offsets[i+1] = offsets[i] + len(piece)
	}
	if offsets[len(pieces)] != size {
		t.logger.Warn().Int("tokenized", offsets[len(pieces)]).Int("size", size).
			Msg("token pieces do not cover content, decoding windows instead")
		return nil, false
	}
	return offsets, true
}

func runeStart(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// CountTokens returns the number of tokens in the given text.
func (t *TokenChunker) CountTokens(text string) (int, error) {
	tokens, _, err := t.encoding.Encode(text)
	if err != nil {
		t.logger.Err(err).Msg("failed to tokenize text")
		return 0, err
	}
	return len(tokens), nil
}

// getTokenizerEncoding returns the tokenizer encoding for the given name.
func getTokenizerEncoding(name string) (tokenizer.Codec, error) {
	switch name {
	case "p50k_base":
		return tokenizer.Get(tokenizer.P50kBase)
	case "r50k_base":
		return tokenizer.Get(tokenizer.R50kBase)
	default:
		return tokenizer.Get(tokenizer.Cl100kBase)
	}
}
