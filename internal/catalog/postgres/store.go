// Package postgres implements catalog.Store on PostgreSQL through lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/booksphere/booksphere/internal/catalog"
	apperrors "github.com/booksphere/booksphere/pkg/errors"
	"github.com/booksphere/booksphere/pkg/postgres"
	"github.com/lib/pq"
)

// Schema creates the catalog tables and the admin merchant row. Every
// statement is idempotent.
var Schema = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
	`DO $$ BEGIN
		CREATE TYPE book_status AS ENUM ('pending', 'published', 'unpublished');
	EXCEPTION WHEN duplicate_object THEN NULL;
	END $$`,
	`CREATE TABLE IF NOT EXISTS merchants (
		id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		store_name  TEXT NOT NULL,
		description TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		title       TEXT NOT NULL,
		author      TEXT NOT NULL,
		description TEXT,
		price       INTEGER NOT NULL,
		stock       INTEGER NOT NULL DEFAULT 0,
		category    TEXT,
		image_url   TEXT,
		merchant_id UUID NOT NULL REFERENCES merchants(id),
		status      book_status NOT NULL DEFAULT 'pending',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS books_status_created_idx ON books (status, created_at DESC)`,
	`INSERT INTO merchants (id, store_name) VALUES ('` + catalog.AdminMerchantID + `', 'BookSphere')
		ON CONFLICT (id) DO NOTHING`,
}

const bookColumns = `id, title, author, COALESCE(description, ''), price, stock,
	COALESCE(category, ''), COALESCE(image_url, ''), merchant_id, status, created_at`

// pq error codes the store translates.
const (
	codeForeignKeyViolation = "23503"
	codeInvalidText         = "22P02"
)

type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "catalog-store"),
	}
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.Migrate(ctx, Schema...); err != nil {
		return fmt.Errorf("migrating catalog schema: %w", err)
	}
	s.logger.Info("catalog schema ready")
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (catalog.Book, error) {
	var b catalog.Book
	var status string
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Description, &b.Price, &b.Stock,
		&b.Category, &b.ImageURL, &b.MerchantID, &status, &b.CreatedAt)
	if err != nil {
		return b, err
	}
	b.Status, err = catalog.ParseStatus(status)
	return b, err
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]catalog.Book, error) {
	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying books: %w", err)
	}
	defer rows.Close()

	books := make([]catalog.Book, 0)
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning book: %w", err)
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating books: %w", err)
	}
	return books, nil
}

func (s *Store) ListPublished(ctx context.Context) ([]catalog.Book, error) {
	return s.list(ctx,
		`SELECT `+bookColumns+` FROM books WHERE status = 'published' ORDER BY created_at DESC, id`)
}

func (s *Store) ListByMerchant(ctx context.Context, merchantID string) ([]catalog.Book, error) {
	books, err := s.list(ctx,
		`SELECT `+bookColumns+` FROM books WHERE merchant_id = $1 ORDER BY created_at DESC, id`, merchantID)
	if isCode(err, codeInvalidText) {
		return []catalog.Book{}, nil
	}
	return books, err
}

func (s *Store) GetBook(ctx context.Context, id string) (catalog.Book, error) {
	b, err := scanBook(s.db.DB.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = $1`, id))
	return b, s.translate(err, "getting book")
}

func (s *Store) CreateBook(ctx context.Context, b catalog.Book) (catalog.Book, error) {
	var created catalog.Book
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = scanBook(tx.QueryRowContext(ctx,
			`INSERT INTO books (title, author, description, price, stock, category, image_url, merchant_id, status)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9)
			RETURNING `+bookColumns,
			b.Title, b.Author, b.Description, b.Price, b.Stock, b.Category, b.ImageURL, b.MerchantID, string(b.Status)))
		return err
	})
	if isCode(err, codeForeignKeyViolation) || isCode(err, codeInvalidText) {
		return catalog.Book{}, apperrors.ErrMerchantNotFound
	}
	if err != nil {
		return catalog.Book{}, fmt.Errorf("inserting book: %w", err)
	}
	return created, nil
}

func (s *Store) UpdateBook(ctx context.Context, b catalog.Book) (catalog.Book, error) {
	updated, err := scanBook(s.db.DB.QueryRowContext(ctx,
		`UPDATE books SET title = $2, author = $3, description = NULLIF($4, ''), price = $5,
			stock = $6, category = NULLIF($7, ''), image_url = NULLIF($8, '')
		WHERE id = $1
		RETURNING `+bookColumns,
		b.ID, b.Title, b.Author, b.Description, b.Price, b.Stock, b.Category, b.ImageURL))
	return updated, s.translate(err, "updating book")
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status catalog.Status) (catalog.Book, error) {
	b, err := scanBook(s.db.DB.QueryRowContext(ctx,
		`UPDATE books SET status = $2 WHERE id = $1 RETURNING `+bookColumns, id, string(status)))
	return b, s.translate(err, "updating book status")
}

func (s *Store) DeleteBook(ctx context.Context, id string) error {
	res, err := s.db.DB.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return s.translate(err, "deleting book")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting book: %w", err)
	}
	if n == 0 {
		return apperrors.ErrBookNotFound
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// translate maps missing rows and malformed ids to ErrBookNotFound.
func (s *Store) translate(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows), isCode(err, codeInvalidText):
		return apperrors.ErrBookNotFound
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func isCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}
