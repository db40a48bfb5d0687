package repository

import (
	"context"
	"sort"

	"github.com/code-sleuth/ike-rag/internal/manager/models"
	"github.com/code-sleuth/ike-rag/internal/manager/vectorstore"
	"github.com/code-sleuth/ike-rag/pkg/util"

	"github.com/rs/zerolog"
)

// DocumentRepository persists RawDocs and their DocChunks.
//
// Several RawDocs may exist for one source URL while a re-ingest is in
// flight. The live document of a URL is the one with the latest CreatedAt
// (ties broken by DocID); chunks of any other document are invisible to
// readers.
type DocumentRepository struct {
	store  vectorstore.Store
	logger zerolog.Logger
}

func NewDocumentRepository(store vectorstore.Store) *DocumentRepository {
	return &DocumentRepository{
		store:  store,
		logger: util.NewLogger(zerolog.ErrorLevel),
	}
}

// WithLogger replaces the repository logger.
func (r *DocumentRepository) WithLogger(logger zerolog.Logger) *DocumentRepository {
	r.logger = logger
	return r
}

func (r *DocumentRepository) CreateRawDoc(ctx context.Context, doc *models.RawDoc) error {
	rec, err := vectorstore.NewRecord(doc.DocID, doc, nil, doc.CreatedAt)
	if err != nil {
		return err
	}
	if err := r.store.Upsert(ctx, CollectionRawDoc, rec); err != nil {
		r.logger.Error().Err(err).Str("doc_id", doc.DocID).Msg("Failed to create raw doc")
		return err
	}
	return nil
}

func (r *DocumentRepository) GetRawDoc(ctx context.Context, docID string) (*models.RawDoc, error) {
	rec, err := r.store.Get(ctx, CollectionRawDoc, docID)
	if err != nil {
		return nil, notFound(err, ErrDocumentNotFound, docID)
	}
	var doc models.RawDoc
	if err := rec.Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindBySourceURL returns every document stored for sourceURL, oldest first.
func (r *DocumentRepository) FindBySourceURL(ctx context.Context, sourceURL string) ([]models.RawDoc, error) {
	recs, err := r.store.FindByField(ctx, CollectionRawDoc, "sourceUrl", sourceURL)
	if err != nil {
		r.logger.Error().Err(err).Str("source_url", sourceURL).Msg("Failed to find raw docs")
		return nil, err
	}
	return decodeAll[models.RawDoc](recs)
}

// LiveBySourceURL returns the live document for sourceURL.
func (r *DocumentRepository) LiveBySourceURL(ctx context.Context, sourceURL string) (*models.RawDoc, error) {
	docs, err := r.FindBySourceURL(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrDocumentNotFound
	}
	live := docs[len(docs)-1]
	return &live, nil
}

// List returns the live document of every source URL, newest first.
func (r *DocumentRepository) List(ctx context.Context) ([]models.RawDoc, error) {
	recs, err := r.store.List(ctx, CollectionRawDoc)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list raw docs")
		return nil, err
	}
	docs, err := decodeAll[models.RawDoc](recs)
	if err != nil {
		return nil, err
	}

	// recs are ordered oldest first, so the last doc seen per URL is live.
	latest := make(map[string]models.RawDoc, len(docs))
	for _, doc := range docs {
		latest[doc.SourceURL] = doc
	}
	out := make([]models.RawDoc, 0, len(latest))
	for _, doc := range latest {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].DocID > out[j].DocID
	})
	return out, nil
}

// DeleteRawDoc removes the document record only; callers delete its chunks.
func (r *DocumentRepository) DeleteRawDoc(ctx context.Context, docID string) error {
	if err := r.store.Delete(ctx, CollectionRawDoc, docID); err != nil {
		r.logger.Error().Err(err).Str("doc_id", docID).Msg("Failed to delete raw doc")
		return err
	}
	return nil
}

// DeleteDocument removes a document and all of its chunks, chunks first.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, docID string) error {
	chunks, err := r.ChunksByDoc(ctx, docID)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := r.DeleteChunk(ctx, chunk.ChunkID); err != nil {
			return err
		}
	}
	return r.DeleteRawDoc(ctx, docID)
}

// CreateChunk stores chunk with its embedding as the record vector.
func (r *DocumentRepository) CreateChunk(ctx context.Context, chunk *models.DocChunk) error {
	rec, err := vectorstore.NewRecord(chunk.ChunkID, chunk, chunk.Embedding, chunk.CreatedAt)
	if err != nil {
		return err
	}
	if err := r.store.Upsert(ctx, CollectionDocChunk, rec); err != nil {
		r.logger.Error().Err(err).
			Str("chunk_id", chunk.ChunkID).
			Str("doc_id", chunk.DocID).
			Msg("Failed to create chunk")
		return err
	}
	return nil
}

func (r *DocumentRepository) GetChunk(ctx context.Context, chunkID string) (*models.DocChunk, error) {
	rec, err := r.store.Get(ctx, CollectionDocChunk, chunkID)
	if err != nil {
		return nil, notFound(err, ErrChunkNotFound, chunkID)
	}
	return decodeChunk(rec)
}

// ChunksByDoc returns the chunks of docID ordered by ChunkIndex.
func (r *DocumentRepository) ChunksByDoc(ctx context.Context, docID string) ([]models.DocChunk, error) {
	recs, err := r.store.FindByField(ctx, CollectionDocChunk, "docId", docID)
	if err != nil {
		r.logger.Error().Err(err).Str("doc_id", docID).Msg("Failed to find chunks")
		return nil, err
	}
	chunks := make([]models.DocChunk, 0, len(recs))
	for i := range recs {
		chunk, err := decodeChunk(&recs[i])
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
	return chunks, nil
}

func (r *DocumentRepository) DeleteChunk(ctx context.Context, chunkID string) error {
	if err := r.store.Delete(ctx, CollectionDocChunk, chunkID); err != nil {
		r.logger.Error().Err(err).Str("chunk_id", chunkID).Msg("Failed to delete chunk")
		return err
	}
	return nil
}

// NearestChunks returns up to k chunks nearest to query, live or not.
func (r *DocumentRepository) NearestChunks(ctx context.Context, query []float32, k int) ([]models.ScoredChunk, error) {
	hits, err := r.store.NearestNeighbors(ctx, CollectionDocChunk, query, k)
	if err != nil {
		r.logger.Error().Err(err).Int("k", k).Msg("Failed to query nearest chunks")
		return nil, err
	}
	out := make([]models.ScoredChunk, 0, len(hits))
	for i := range hits {
		chunk, err := decodeChunk(&hits[i].Record)
		if err != nil {
			return nil, err
		}
		out = append(out, models.ScoredChunk{Chunk: chunk, Distance: hits[i].Distance})
	}
	return out, nil
}

func decodeChunk(rec *vectorstore.Record) (*models.DocChunk, error) {
	var chunk models.DocChunk
	if err := rec.Decode(&chunk); err != nil {
		return nil, err
	}
	chunk.Embedding = rec.Vector
	return &chunk, nil
}
