package embedders

import "errors"

var (
	ErrAPIKeyNotSet     = errors.New("API key not set")
	ErrUnsupportedModel = errors.New("unsupported model")
	ErrContentEmpty     = errors.New("content is empty")
	ErrAPIRequestFailed = errors.New("API request failed")
	ErrNoEmbeddingData  = errors.New("no embedding data in response")
	ErrBatchTooLarge    = errors.New("batch exceeds embedder limit")
	ErrResponseMismatch = errors.New("embedding response does not match request")
	ErrInvalidDimension = errors.New("embedding dimension must be positive")
	ErrUnknownEmbedder  = errors.New("unknown embedder type")
)
