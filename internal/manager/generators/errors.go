package generators

import "errors"

var (
	ErrAPIKeyNotSet     = errors.New("API key not set")
	ErrAPIRequestFailed = errors.New("API request failed")
	ErrNoChoices        = errors.New("no choices in completion response")
	ErrNoContext        = errors.New("no context chunks supplied")
	ErrGenerationFailed = errors.New("answer generation failed")
	ErrUnknownGenerator = errors.New("unknown generator type")
)
