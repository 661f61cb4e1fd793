package reel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound reports that no live blob record exists for an id.
var ErrNotFound = errors.New("blob record not found")

// BlobRecord is the metadata for one stored blob plus its ordered chunk
// references. A record becomes visible only once every chunk it references
// has been durably written.
type BlobRecord struct {
	ID          string
	Filename    string
	Title       string
	Length      int64
	ContentType string
	ChunkSize   int64
	CreatedAt   time.Time

	// Chunks is ordered by sequence index; insertion order is byte order.
	// List results leave it empty.
	Chunks []ChunkRef
}

// RecordStore maps blob ids to metadata and chunk references, backed by the
// metadata database.
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore returns a RecordStore over an already-migrated database.
func NewRecordStore(db *sql.DB) *RecordStore {
	return &RecordStore{db: db}
}

// WithTransaction runs a function within a database transaction.
func WithTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

// Create commits a new blob record and its chunk references in a single
// transaction, which is the sole point where an upload becomes visible to
// readers.
func (s *RecordStore) Create(ctx context.Context, rec BlobRecord) error {
	return WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO videos(id, filename, title, length, content_type, chunk_size, created_at)
			 VALUES(?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Filename, rec.Title, rec.Length, rec.ContentType, rec.ChunkSize, rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert blob record: %w", err)
		}

		for _, ref := range rec.Chunks {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO video_chunks(video_id, seq, storage_key, size) VALUES(?, ?, ?, ?)`,
				rec.ID, ref.Seq, ref.Key, ref.Size,
			); err != nil {
				return fmt.Errorf("insert chunk reference %d: %w", ref.Seq, err)
			}
		}

		return nil
	})
}

// Get returns the record for id including its ordered chunk references, or
// ErrNotFound.
func (s *RecordStore) Get(ctx context.Context, id string) (BlobRecord, error) {
	var rec BlobRecord

	err := s.db.QueryRowContext(ctx,
		`SELECT id, filename, title, length, content_type, chunk_size, created_at
		 FROM videos WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Filename, &rec.Title, &rec.Length, &rec.ContentType, &rec.ChunkSize, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return BlobRecord{}, ErrNotFound
	}
	if err != nil {
		return BlobRecord{}, fmt.Errorf("lookup blob record: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, storage_key, size FROM video_chunks WHERE video_id = ? ORDER BY seq`, id,
	)
	if err != nil {
		return BlobRecord{}, fmt.Errorf("lookup chunk references: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref ChunkRef
		if err := rows.Scan(&ref.Seq, &ref.Key, &ref.Size); err != nil {
			return BlobRecord{}, fmt.Errorf("scan chunk reference: %w", err)
		}
		rec.Chunks = append(rec.Chunks, ref)
	}
	if err := rows.Err(); err != nil {
		return BlobRecord{}, fmt.Errorf("iterate chunk references: %w", err)
	}

	return rec, nil
}

// List returns the metadata of every live blob record, without chunk
// references. An empty result is distinguished from a store failure by the
// error value.
func (s *RecordStore) List(ctx context.Context) ([]BlobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, title, length, content_type, chunk_size, created_at
		 FROM videos ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list blob records: %w", err)
	}
	defer rows.Close()

	records := make([]BlobRecord, 0)
	for rows.Next() {
		var rec BlobRecord
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.Title, &rec.Length, &rec.ContentType, &rec.ChunkSize, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan blob record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blob records: %w", err)
	}

	return records, nil
}

// UpdateTitle replaces the title of the record for id in place, touching no
// chunk data.
func (s *RecordStore) UpdateTitle(ctx context.Context, id string, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE videos SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes the record for id together with its chunk references and
// returns those references so the caller can reclaim the chunk payloads.
func (s *RecordStore) Delete(ctx context.Context, id string) ([]ChunkRef, error) {
	var refs []ChunkRef

	err := WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT seq, storage_key, size FROM video_chunks WHERE video_id = ? ORDER BY seq`, id,
		)
		if err != nil {
			return fmt.Errorf("lookup chunk references: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var ref ChunkRef
			if err := rows.Scan(&ref.Seq, &ref.Key, &ref.Size); err != nil {
				return fmt.Errorf("scan chunk reference: %w", err)
			}
			refs = append(refs, ref)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate chunk references: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM videos WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete blob record: %w", err)
		}
		deleted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete blob record: %w", err)
		}
		if deleted == 0 {
			return ErrNotFound
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM video_chunks WHERE video_id = ?`, id); err != nil {
			return fmt.Errorf("delete chunk references: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return refs, nil
}
