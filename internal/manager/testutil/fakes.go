package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/code-sleuth/ike-rag/internal/manager/embedders"
	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
)

// FakePage is what a FakeFetcher serves for one URL.
type FakePage struct {
	Body        string
	ContentType string
	// FailTimes makes the first FailTimes fetches return Err.
	FailTimes int
	Err       error
}

// FakeFetcher serves pages from memory. Unknown URLs fail permanently with
// a 404-style error.
type FakeFetcher struct {
	mu    sync.Mutex
	pages map[string]*FakePage
	calls map[string]int
	// Hook, when set, runs at the start of every Fetch.
	Hook func(ctx context.Context, sourceURL string) error
}

var _ interfaces.Fetcher = (*FakeFetcher)(nil)

func NewFakeFetcher() *FakeFetcher {
	return &FakeFetcher{
		pages: make(map[string]*FakePage),
		calls: make(map[string]int),
	}
}

// Serve registers page for sourceURL, text/plain unless set.
func (f *FakeFetcher) Serve(sourceURL string, page FakePage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if page.ContentType == "" {
		page.ContentType = "text/plain; charset=utf-8"
	}
	f.pages[sourceURL] = &page
}

// Calls returns how many times sourceURL was fetched.
func (f *FakeFetcher) Calls(sourceURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[sourceURL]
}

func (f *FakeFetcher) ValidateSource(string) error {
	return nil
}

func (f *FakeFetcher) Fetch(ctx context.Context, sourceURL string) (*interfaces.FetchResult, error) {
	if f.Hook != nil {
		if err := f.Hook(ctx, sourceURL); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	f.calls[sourceURL]++
	call := f.calls[sourceURL]
	page, ok := f.pages[sourceURL]
	f.mu.Unlock()

	if !ok {
		return nil, interfaces.Permanent(fmt.Errorf("%w: %s returned status 404", interfaces.ErrFetch, sourceURL))
	}
	if call <= page.FailTimes {
		err := page.Err
		if err == nil {
			err = fmt.Errorf("%w: %w", interfaces.ErrFetch, context.DeadlineExceeded)
		}
		return nil, err
	}
	return &interfaces.FetchResult{
		URL:         sourceURL,
		FinalURL:    sourceURL,
		StatusCode:  200,
		ContentType: page.ContentType,
		Body:        []byte(page.Body),
	}, nil
}

// FakeEmbedder embeds with the hash embedder and can be told to fail or to
// return vectors of the wrong size.
type FakeEmbedder struct {
	inner *embedders.HashEmbedder
	// FailTimes makes the first FailTimes batch calls fail with a retryable error.
	FailTimes int32
	// AlwaysFail makes every call fail.
	AlwaysFail bool
	// WrongDimension returns vectors one element short.
	WrongDimension bool
	MaxBatch       int
	// Hook, when set, runs at the start of every batch call.
	Hook   func(ctx context.Context, contents []string) error
	calls  atomic.Int32
	inputs atomic.Int32
}

var _ interfaces.Embedder = (*FakeEmbedder)(nil)

func NewFakeEmbedder(dimension int) *FakeEmbedder {
	return &FakeEmbedder{inner: embedders.NewHashEmbedder(dimension), MaxBatch: 1024}
}

// Calls returns the number of GenerateEmbedding(s) calls made.
func (e *FakeEmbedder) Calls() int {
	return int(e.calls.Load())
}

// Inputs returns the number of texts embedded across all calls.
func (e *FakeEmbedder) Inputs() int {
	return int(e.inputs.Load())
}

func (e *FakeEmbedder) GenerateEmbedding(ctx context.Context, content string) ([]float32, error) {
	out, err := e.GenerateEmbeddings(ctx, []string{content})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *FakeEmbedder) GenerateEmbeddings(ctx context.Context, contents []string) ([][]float32, error) {
	call := e.calls.Add(1)
	e.inputs.Add(int32(len(contents)))
	if e.Hook != nil {
		if err := e.Hook(ctx, contents); err != nil {
			return nil, err
		}
	}
	if e.AlwaysFail || call <= e.FailTimes {
		return nil, fmt.Errorf("%w: simulated outage", interfaces.ErrEmbedding)
	}
	out, err := e.inner.GenerateEmbeddings(ctx, contents)
	if err != nil {
		return nil, err
	}
	if e.WrongDimension {
		for i := range out {
			out[i] = out[i][:len(out[i])-1]
		}
	}
	return out, nil
}

func (e *FakeEmbedder) GetModelName() string {
	return "fake-" + e.inner.GetModelName()
}

func (e *FakeEmbedder) GetDimension() int {
	return e.inner.GetDimension()
}

func (e *FakeEmbedder) GetMaxBatchSize() int {
	return e.MaxBatch
}

// FakeGenerator answers with a fixed string, or with Answer(prompt, chunks)
// when set, and records the context it was given.
type FakeGenerator struct {
	Fixed  string
	Answer func(prompt string, chunks []interfaces.ContextChunk) string
	Err    error

	mu   sync.Mutex
	seen [][]interfaces.ContextChunk
}

var _ interfaces.Generator = (*FakeGenerator)(nil)

func (g *FakeGenerator) Generate(_ context.Context, prompt string, chunks []interfaces.ContextChunk) (string, error) {
	g.mu.Lock()
	g.seen = append(g.seen, chunks)
	g.mu.Unlock()

	if g.Err != nil {
		return "", g.Err
	}
	if g.Answer != nil {
		return g.Answer(prompt, chunks), nil
	}
	return g.Fixed, nil
}

func (g *FakeGenerator) GetModelName() string {
	return "fake"
}

// LastContext returns the chunks passed to the most recent Generate call.
func (g *FakeGenerator) LastContext() []interfaces.ContextChunk {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.seen) == 0 {
		return nil
	}
	return g.seen[len(g.seen)-1]
}
