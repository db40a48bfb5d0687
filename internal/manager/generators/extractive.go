package generators

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
	"github.com/code-sleuth/ike-rag/internal/manager/textutil"
)

const defaultMaxSentences = 3

var sentencePattern = regexp.MustCompile(`(?s)[^.!?\n]+(?:[.!?]+|\n|$)`)

// ExtractiveGenerator answers without a language model: it ranks the
// context sentences by overlap with the prompt and by term frequency
// across the context, then returns the best ones, each followed by the
// [n] marker of the chunk it came from.
type ExtractiveGenerator struct {
	maxSentences int
}

var _ interfaces.Generator = (*ExtractiveGenerator)(nil)

// NewExtractiveGenerator creates an extractive generator; maxSentences <= 0
// selects 3.
func NewExtractiveGenerator(maxSentences int) *ExtractiveGenerator {
	if maxSentences <= 0 {
		maxSentences = defaultMaxSentences
	}
	return &ExtractiveGenerator{maxSentences: maxSentences}
}

type candidate struct {
	number   int
	order    int
	sentence string
	score    float64
}

func (g *ExtractiveGenerator) Generate(ctx context.Context, prompt string, contextChunks []interfaces.ContextChunk) (string, error) {
	if len(contextChunks) == 0 {
		return "", ErrNoContext
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	promptTerms := make(map[string]struct{})
	for _, tok := range textutil.Terms(prompt) {
		promptTerms[tok] = struct{}{}
	}

	var candidates []candidate
	freq := make(map[string]float64)
	for _, c := range contextChunks {
		for _, sent := range sentencePattern.FindAllString(c.Text, -1) {
			sent = strings.TrimSpace(sent)
			if sent == "" || len(textutil.Terms(sent)) == 0 {
				continue
			}
			candidates = append(candidates, candidate{number: c.Number, order: len(candidates), sentence: sent})
			for _, tok := range textutil.Terms(sent) {
				freq[tok]++
			}
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, ErrNoContext)
	}

	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}

	for i := range candidates {
		terms := textutil.Terms(candidates[i].sentence)
		var overlap, score float64
		for _, tok := range terms {
			score += freq[tok] / maxF
			if _, ok := promptTerms[tok]; ok {
				overlap++
			}
		}
		score /= math.Sqrt(float64(len(terms)))
		candidates[i].score = overlap*2 + score
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].order < candidates[j].order
	})

	limit := min(g.maxSentences, len(candidates))
	parts := make([]string, 0, limit)
	for _, c := range candidates[:limit] {
		parts = append(parts, fmt.Sprintf("%s [%d]", strings.TrimRight(c.sentence, "\n"), c.number))
	}
	return strings.Join(parts, " "), nil
}

func (g *ExtractiveGenerator) GetModelName() string {
	return "extractive"
}
