package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"progress/internal/document/model"
)

var ErrNotFound = errors.New("document not found")

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const documentColumns = `id, user_id, school_id, timetable_id, date, status, notes, created_at, updated_at`

func scanDocument(row pgx.Row) (model.Document, error) {
	var doc model.Document
	err := row.Scan(
		&doc.ID,
		&doc.UserID,
		&doc.SchoolID,
		&doc.TimetableID,
		&doc.Date,
		&doc.Status,
		&doc.Notes,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return doc, ErrNotFound
	}
	return doc, err
}

func (s *Store) CreateDocument(ctx context.Context, doc model.Document) (model.Document, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO documents (user_id, school_id, timetable_id, date, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+documentColumns+`
	`, doc.UserID, doc.SchoolID, doc.TimetableID, doc.Date, doc.Status, doc.Notes, now)
	return scanDocument(row)
}

func (s *Store) GetDocument(ctx context.Context, id int64) (model.Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

func (s *Store) ListDocuments(ctx context.Context) ([]model.Document, error) {
	return s.list(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY id`)
}

func (s *Store) ListDocumentsByUser(ctx context.Context, userID int64) ([]model.Document, error) {
	return s.list(ctx, `SELECT `+documentColumns+` FROM documents WHERE user_id = $1 ORDER BY id`, userID)
}

func (s *Store) ListDocumentsBySchool(ctx context.Context, schoolID int64) ([]model.Document, error) {
	return s.list(ctx, `SELECT `+documentColumns+` FROM documents WHERE school_id = $1 ORDER BY id`, schoolID)
}

func (s *Store) FindByUserAndDate(ctx context.Context, userID int64, date time.Time) (model.Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE user_id = $1 AND date = $2
	`, userID, date)
	return scanDocument(row)
}

type DocumentUpdate struct {
	Date   *time.Time
	Status *string
	Notes  *string
}

func (s *Store) UpdateDocument(ctx context.Context, id int64, update DocumentUpdate) (model.Document, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE documents
		SET date = COALESCE($2, date),
		    status = COALESCE($3, status),
		    notes = COALESCE($4, notes),
		    updated_at = $5
		WHERE id = $1
		RETURNING `+documentColumns+`
	`, id, update.Date, update.Status, update.Notes, time.Now().UTC())
	return scanDocument(row)
}

func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) list(ctx context.Context, query string, args ...interface{}) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
