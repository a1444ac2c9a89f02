package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/viant/vec/search"

	"github.com/kalambet/reviewqa/internal/domain"
)

// Compile-time check that SQLiteStore implements DocumentStore.
var _ DocumentStore = (*SQLiteStore)(nil)

// SQLiteStore provides document storage and brute-force cosine similarity
// search backed by the documents table. Rows are scoped by a collection key
// built from the store namespace and collection name.
type SQLiteStore struct {
	db         *sql.DB
	collection string
}

// NewSQLiteStore wraps an existing *sql.DB for one collection.
// The documents table must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB, namespace, collection string) *SQLiteStore {
	return &SQLiteStore{db: db, collection: CollectionKey(namespace, collection)}
}

// CollectionKey joins namespace and collection into the stored key.
func CollectionKey(namespace, collection string) string {
	if namespace == "" {
		return collection
	}
	return namespace + "/" + collection
}

// Collection returns the collection key this store is scoped to.
func (s *SQLiteStore) Collection() string {
	return s.collection
}

// Insert adds records to the collection in a single transaction.
func (s *SQLiteStore) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StoreUnavailable("beginning insert transaction", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (id, collection, content, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return domain.StoreUnavailable("preparing insert statement", err)
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := json.Marshal(r.Document.Metadata)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encoding metadata for %s: %w", r.Document.ID, err)
		}
		createdAt := r.Document.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, r.Document.ID, s.collection, r.Document.Content, string(meta),
			encodeFloat32s(r.Embedding), createdAt.Format(time.RFC3339Nano)); err != nil {
			tx.Rollback()
			return domain.StoreUnavailable(fmt.Sprintf("inserting document %s", r.Document.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.StoreUnavailable("committing insert", err)
	}
	return nil
}

// seqScore holds only the row sequence and score during the scan phase of
// Search. Full documents are fetched only for the top-k winners.
type seqScore struct {
	Seq   int64
	Score float32
}

// worse reports whether a ranks below b: lower score, or equal score and
// inserted later.
func worse(a, b seqScore) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Seq > b.Seq
}

// Search performs brute-force cosine similarity search over the collection,
// returning the k most similar documents.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, k int) ([]domain.ScoredDocument, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("collection %s: %w", s.collection, domain.ErrNotReady)
	}
	if k <= 0 {
		return nil, nil
	}

	query := search.Float32s(vector)
	queryMag := query.Magnitude()
	if queryMag == 0 {
		return nil, nil
	}

	// Phase 1: scan only seq + embedding to find top-k candidates.
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, embedding FROM documents WHERE collection = ? ORDER BY seq`, s.collection)
	if err != nil {
		return nil, domain.StoreUnavailable("querying vectors", err)
	}
	defer rows.Close()

	h := &seqScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var seq int64
		var blob []byte
		if err := rows.Scan(&seq, &blob); err != nil {
			return nil, domain.StoreUnavailable("scanning row", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, domain.StoreUnavailable(fmt.Sprintf("decoding embedding of row %d", seq), err)
		}

		score, ok := cosine(query, queryMag, buf)
		if !ok {
			continue
		}
		item := seqScore{Seq: seq, Score: score}
		if h.Len() < k {
			heap.Push(h, item)
		} else if worse((*h)[0], item) {
			(*h)[0] = item
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreUnavailable("iterating rows", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full documents only for the top-k rows.
	top := make([]seqScore, h.Len())
	for i := len(top) - 1; i >= 0; i-- {
		top[i] = heap.Pop(h).(seqScore)
	}

	queryArgs := make([]any, len(top))
	for i, t := range top {
		queryArgs[i] = t.Seq
	}
	fullQuery := `SELECT seq, id, content, metadata, created_at
		FROM documents WHERE seq IN (?` + strings.Repeat(",?", len(top)-1) + `)`

	fullRows, err := s.db.QueryContext(ctx, fullQuery, queryArgs...)
	if err != nil {
		return nil, domain.StoreUnavailable("fetching top-k documents", err)
	}
	defer fullRows.Close()

	bySeq := make(map[int64]domain.Document, len(top))
	for fullRows.Next() {
		var seq int64
		var d domain.Document
		var meta, createdAt string
		if err := fullRows.Scan(&seq, &d.ID, &d.Content, &meta, &createdAt); err != nil {
			return nil, domain.StoreUnavailable("scanning document", err)
		}
		if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", d.ID, err)
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", d.ID, err)
		}
		d.CreatedAt = t
		bySeq[seq] = d
	}
	if err := fullRows.Err(); err != nil {
		return nil, domain.StoreUnavailable("iterating documents", err)
	}

	// top is already best-first; the IN query does not preserve that order.
	results := make([]domain.ScoredDocument, 0, len(top))
	for _, t := range top {
		d, ok := bySeq[t.Seq]
		if !ok {
			continue
		}
		results = append(results, domain.ScoredDocument{Document: d, Score: t.Score})
	}
	return results, nil
}

// Count returns the number of documents in the collection.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE collection = ?", s.collection).Scan(&count)
	if err != nil {
		return 0, domain.StoreUnavailable("counting documents", err)
	}
	return count, nil
}

// Reset deletes every document of the collection.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE collection = ?", s.collection); err != nil {
		return domain.StoreUnavailable("resetting collection", err)
	}
	return nil
}

// cosine returns the cosine similarity of the query and v. ok is false when
// the dimensions differ or v has zero magnitude.
func cosine(query search.Float32s, queryMag float32, v []float32) (float32, bool) {
	if len(v) != len(query) {
		return 0, false
	}
	mag := search.Float32s(v).Magnitude()
	if mag == 0 {
		return 0, false
	}
	return 1 - query.CosineDistanceWithMagnitude(v, queryMag, mag), true
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// seqScoreHeap is a min-heap whose root is the worst retained candidate.
type seqScoreHeap []seqScore

func (h seqScoreHeap) Len() int           { return len(h) }
func (h seqScoreHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h seqScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *seqScoreHeap) Push(x any)        { *h = append(*h, x.(seqScore)) }
func (h *seqScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
