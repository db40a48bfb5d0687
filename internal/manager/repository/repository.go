// Package repository maps the domain models onto vector store collections.
package repository

import (
	"errors"
	"fmt"

	"github.com/code-sleuth/ike-rag/internal/manager/vectorstore"
)

// Collection names in the vector store.
const (
	CollectionIngestJob       = "IngestJob"
	CollectionRawDoc          = "RawDoc"
	CollectionDocChunk        = "DocChunk"
	CollectionChatInteraction = "ChatInteraction"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrChunkNotFound    = errors.New("chunk not found")
	ErrChatNotFound     = errors.New("chat interaction not found")
	ErrStaleStatus      = errors.New("job status changed concurrently")
)

func decodeAll[T any](recs []vectorstore.Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for i := range recs {
		var v T
		if err := recs[i].Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func notFound(err, sentinel error, id string) error {
	if errors.Is(err, vectorstore.ErrNotFound) {
		return fmt.Errorf("%w: %s", sentinel, id)
	}
	return err
}
