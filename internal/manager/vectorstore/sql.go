package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/code-sleuth/ike-rag/pkg/util"

	"github.com/rs/zerolog"
)

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var ErrCorruptVector = errors.New("stored vector has invalid length")

// SQLStore keeps every collection in the records table of a SQLite-dialect
// database (local SQLite or libsql/Turso). Nearest-neighbor queries rank
// vectors of the requested dimension in process.
type SQLStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps an open database whose schema has been migrated.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{
		db:     db,
		logger: util.NewLogger(zerolog.ErrorLevel),
	}
}

// WithLogger replaces the store logger.
func (s *SQLStore) WithLogger(logger zerolog.Logger) *SQLStore {
	s.logger = logger
	return s
}

func (s *SQLStore) Upsert(ctx context.Context, collection string, rec Record) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	if err := validateRecord(rec); err != nil {
		return err
	}

	query := `INSERT INTO records (collection, id, data, vector, dimension, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (collection, id) DO UPDATE SET
			   data = excluded.data,
			   vector = excluded.vector,
			   dimension = excluded.dimension,
			   created_at = excluded.created_at`

	_, err := s.db.ExecContext(ctx, query, collection, rec.ID, string(rec.Data),
		encodeVector(rec.Vector), len(rec.Vector), formatTime(rec.CreatedAt))
	if err != nil {
		s.logger.Error().Err(err).Str("collection", collection).Str("id", rec.ID).Msg("Failed to upsert record")
		return err
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}

	query := `SELECT id, data, vector, created_at FROM records WHERE collection = ? AND id = ?`
	row := s.db.QueryRowContext(ctx, query, collection, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error().Err(err).Str("collection", collection).Str("id", id).Msg("Failed to get record")
		return nil, err
	}
	return rec, nil
}

func (s *SQLStore) Delete(ctx context.Context, collection, id string) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		s.logger.Error().Err(err).Str("collection", collection).Str("id", id).Msg("Failed to delete record")
	}
	return err
}

func (s *SQLStore) NearestNeighbors(
	ctx context.Context,
	collection string,
	query []float32,
	k int,
) ([]Neighbor, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrDimensionMismatch)
	}

	candidates, err := s.queryRecords(ctx,
		`SELECT id, data, vector, created_at FROM records WHERE collection = ? AND dimension = ?`,
		collection, len(query))
	if err != nil {
		s.logger.Error().Err(err).Str("collection", collection).Msg("Failed to load vectors")
		return nil, err
	}
	return rankNeighbors(candidates, query, k), nil
}

func (s *SQLStore) List(ctx context.Context, collection string) ([]Record, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	recs, err := s.queryRecords(ctx,
		`SELECT id, data, vector, created_at FROM records WHERE collection = ? ORDER BY created_at, id`,
		collection)
	if err != nil {
		s.logger.Error().Err(err).Str("collection", collection).Msg("Failed to list records")
		return nil, err
	}
	return recs, nil
}

func (s *SQLStore) FindByField(ctx context.Context, collection, field, value string) ([]Record, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if err := validateField(field); err != nil {
		return nil, err
	}

	// field is validated as an identifier, so inlining the JSON path is safe
	// and lets SQLite use the expression indexes.
	query := fmt.Sprintf(`SELECT id, data, vector, created_at FROM records
		 WHERE collection = ? AND json_extract(data, '$.%s') = ?
		 ORDER BY created_at, id`, field) // #nosec G201 -- field matches identPattern
	recs, err := s.queryRecords(ctx, query, collection, value)
	if err != nil {
		s.logger.Error().Err(err).Str("collection", collection).Str("field", field).Msg("Failed to find records")
		return nil, err
	}
	return recs, nil
}

func (s *SQLStore) CompareAndSwap(
	ctx context.Context,
	collection, id, field, expected string,
	rec Record,
) (bool, error) {
	if err := validateCollection(collection); err != nil {
		return false, err
	}
	if err := validateField(field); err != nil {
		return false, err
	}
	if err := validateRecord(rec); err != nil {
		return false, err
	}

	// A single conditional UPDATE is atomic in SQLite, which is what makes
	// this usable as the job-claim primitive.
	query := fmt.Sprintf(`UPDATE records SET data = ?, vector = ?, dimension = ?, created_at = ?
			 WHERE collection = ? AND id = ? AND json_extract(data, '$.%s') = ?`, field) // #nosec G201

	res, err := s.db.ExecContext(ctx, query, string(rec.Data), encodeVector(rec.Vector), len(rec.Vector),
		formatTime(rec.CreatedAt), collection, id, expected)
	if err != nil {
		s.logger.Error().Err(err).Str("collection", collection).Str("id", id).Msg("Failed to compare-and-swap record")
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLStore) Count(ctx context.Context, collection string) (int, error) {
	if err := validateCollection(collection); err != nil {
		return 0, err
	}
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE collection = ?`, collection).Scan(&count)
	if err != nil {
		s.logger.Error().Err(err).Str("collection", collection).Msg("Failed to count records")
		return 0, err
	}
	return count, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec          Record
		data         string
		vector       []byte
		createdAtStr string
	)
	if err := row.Scan(&rec.ID, &data, &vector, &createdAtStr); err != nil {
		return nil, err
	}
	rec.Data = []byte(data)

	vec, err := decodeVector(vector)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rec.Vector = vec

	createdAt, err := time.Parse(timeLayout, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("record %s: parse created_at: %w", rec.ID, err)
	}
	rec.CreatedAt = createdAt
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// encodeVector packs a vector as little-endian float32s.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data)%4 != 0 {
		return nil, ErrCorruptVector
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}
