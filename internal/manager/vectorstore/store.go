// Package vectorstore is the storage adapter the ingestion pipeline and the
// retrieval engine share. A Store holds named collections of records; each
// record carries a JSON document, an optional embedding and a creation time.
package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidCollection = errors.New("invalid collection name")
	ErrInvalidField      = errors.New("invalid field name")
	ErrInvalidRecord     = errors.New("invalid record")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

var identPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Record is one stored entry of a collection.
type Record struct {
	ID        string
	Data      json.RawMessage
	Vector    []float32
	CreatedAt time.Time
}

// Neighbor is a nearest-neighbor hit, Distance being the cosine distance
// (1 - cosine similarity) to the query vector.
type Neighbor struct {
	Record
	Distance float64
}

// Store is the contract the core relies on. Implementations must make
// CompareAndSwap atomic; nothing else is assumed to be transactional.
type Store interface {
	// Upsert inserts or replaces the record with rec.ID
	Upsert(ctx context.Context, collection string, rec Record) error

	// Get returns the record or ErrNotFound
	Get(ctx context.Context, collection, id string) (*Record, error)

	// Delete removes the record; deleting a missing record is not an error
	Delete(ctx context.Context, collection, id string) error

	// NearestNeighbors returns up to k records ordered by ascending cosine
	// distance, ties broken by CreatedAt ascending then ID
	NearestNeighbors(ctx context.Context, collection string, query []float32, k int) ([]Neighbor, error)

	// List returns every record of the collection ordered by CreatedAt
	// ascending then ID
	List(ctx context.Context, collection string) ([]Record, error)

	// FindByField returns records whose top-level JSON field equals value,
	// ordered by CreatedAt ascending then ID
	FindByField(ctx context.Context, collection, field, value string) ([]Record, error)

	// CompareAndSwap replaces the record only if its field currently equals expected
	CompareAndSwap(ctx context.Context, collection, id, field, expected string, rec Record) (bool, error)

	// Count returns the number of records in the collection
	Count(ctx context.Context, collection string) (int, error)

	// Close releases resources
	Close() error
}

// NewRecord marshals doc into a Record.
func NewRecord(id string, doc any, vector []float32, createdAt time.Time) (Record, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return Record{}, fmt.Errorf("marshal record %s: %w", id, err)
	}
	return Record{ID: id, Data: data, Vector: vector, CreatedAt: createdAt}, nil
}

// Decode unmarshals the record document into out.
func (r *Record) Decode(out any) error {
	if err := json.Unmarshal(r.Data, out); err != nil {
		return fmt.Errorf("decode record %s: %w", r.ID, err)
	}
	return nil
}

// CosineDistance returns 1 - cos(a, b). A zero vector is maximally distant.
func CosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func validateCollection(collection string) error {
	if !identPattern.MatchString(collection) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, collection)
	}
	return nil
}

func validateField(field string) error {
	if !identPattern.MatchString(field) {
		return fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	return nil
}

func validateRecord(rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if len(rec.Data) == 0 || !json.Valid(rec.Data) {
		return fmt.Errorf("%w: %s has no JSON document", ErrInvalidRecord, rec.ID)
	}
	return nil
}

// rankNeighbors scores candidates against query and keeps the best k.
func rankNeighbors(candidates []Record, query []float32, k int) []Neighbor {
	hits := make([]Neighbor, 0, len(candidates))
	for _, rec := range candidates {
		if len(rec.Vector) == 0 || len(rec.Vector) != len(query) {
			continue
		}
		hits = append(hits, Neighbor{Record: rec, Distance: CosineDistance(query, rec.Vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		if !hits[i].CreatedAt.Equal(hits[j].CreatedAt) {
			return hits[i].CreatedAt.Before(hits[j].CreatedAt)
		}
		return hits[i].ID < hits[j].ID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func sortByCreated(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}

// fieldEquals reports whether the top-level JSON field of data equals value.
// Strings compare verbatim, other scalars by their JSON text.
func fieldEquals(data json.RawMessage, field, value string) bool {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	raw, ok := doc[field]
	if !ok {
		return false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s == value
	}
	return string(raw) == value
}
