package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/depparse/pkg/common"
	"github.com/OFFIS-RIT/depparse/pkg/logger"
	"github.com/OFFIS-RIT/depparse/pkg/store"
	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const copyChunkSize = 1000

var dependencyColumns = []string{"id", "document_id", "sentence_id", "relation", "annotation_set", "text_class", "head", "dependent"}

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// DocumentDBStorage implements store.DocumentStorage on PostgreSQL. The
// document itself is kept as JSON while every dependency gets its own row.
type DocumentDBStorage struct {
	conn pgxIConn
}

var _ store.DocumentStorage = (*DocumentDBStorage)(nil)

// NewDocumentDBStorageWithConnection creates a storage on an existing pool or
// connection.
func NewDocumentDBStorageWithConnection(conn pgxIConn) *DocumentDBStorage {
	return &DocumentDBStorage{conn: conn}
}

func (s *DocumentDBStorage) CreateDocument(ctx context.Context, id string) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO documents (id, status)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, error = NULL, updated_at = now()`,
		id, store.StatusQueued,
	)
	if err != nil {
		return fmt.Errorf("failed to create document %s: %w", id, err)
	}
	return nil
}

func (s *DocumentDBStorage) SetStatus(ctx context.Context, id string, status string, errMsg string) error {
	var msg *string
	if status == store.StatusFailed && errMsg != "" {
		clean := sanitizeText(errMsg)
		msg = &clean
	}
	tag, err := s.conn.Exec(ctx, `
		UPDATE documents SET status = $2, error = $3, updated_at = now()
		WHERE id = $1`,
		id, status, msg,
	)
	if err != nil {
		return fmt.Errorf("failed to update status of document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// SaveDocument writes the document and replaces all of its dependency rows in
// a single transaction.
func (s *DocumentDBStorage) SaveDocument(ctx context.Context, doc *common.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
	}
	rows := dependencyRows(doc)

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, status, body, sentences, dependencies)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			error = NULL,
			body = EXCLUDED.body,
			sentences = EXCLUDED.sentences,
			dependencies = EXCLUDED.dependencies,
			updated_at = now()`,
		doc.ID, store.StatusParsed, body, len(doc.Sentences), len(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM dependencies WHERE document_id = $1`, doc.ID); err != nil {
		return fmt.Errorf("failed to clear dependencies of document %s: %w", doc.ID, err)
	}

	err = store.ChunkRange(len(rows), copyChunkSize, func(start, end int) error {
		_, err := tx.CopyFrom(
			ctx,
			pgxv5.Identifier{"dependencies"},
			dependencyColumns,
			pgxv5.CopyFromRows(rows[start:end]),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save dependencies of document %s: %w", doc.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Debug("[Store][SaveDocument] Document saved", "id", doc.ID, "sentences", len(doc.Sentences), "dependencies", len(rows))
	return nil
}

func (s *DocumentDBStorage) GetDocument(ctx context.Context, id string) (*common.Document, error) {
	var body []byte
	err := s.conn.QueryRow(ctx, `SELECT body FROM documents WHERE id = $1 AND body IS NOT NULL`, id).Scan(&body)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", id, store.ErrNotFound)
		}
		return nil, err
	}

	doc := &common.Document{}
	if err := json.Unmarshal(body, doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return doc, nil
}

func (s *DocumentDBStorage) GetDocumentInfo(ctx context.Context, id string) (*store.DocumentInfo, error) {
	info := &store.DocumentInfo{}
	err := s.conn.QueryRow(ctx, `
		SELECT id, status, COALESCE(error, ''), sentences, dependencies, created_at, updated_at
		FROM documents WHERE id = $1`, id,
	).Scan(&info.ID, &info.Status, &info.Error, &info.Sentences, &info.Dependencies, &info.CreatedAt, &info.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", id, store.ErrNotFound)
		}
		return nil, err
	}
	return info, nil
}

// DeleteDocument removes a document. Its dependencies are removed by the
// foreign key cascade.
func (s *DocumentDBStorage) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.conn.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// dependencyRows flattens the dependency layers of doc into rows matching
// dependencyColumns.
func dependencyRows(doc *common.Document) [][]any {
	var rows [][]any
	for _, sent := range doc.Sentences {
		if sent.Dependencies == nil {
			continue
		}
		for _, dep := range sent.Dependencies.Dependencies {
			rows = append(rows, []any{
				dep.ID,
				doc.ID,
				sent.ID,
				sanitizeText(dep.Class),
				dep.Set,
				dep.TextClass,
				dep.Head,
				dep.Dependent,
			})
		}
	}
	return rows
}

func sanitizeText(value string) string {
	if value == "" {
		return value
	}
	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}
