package store

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/depparse/pkg/common"
)

// Document states as recorded by the storage.
const (
	StatusQueued  = "queued"
	StatusParsing = "parsing"
	StatusParsed  = "parsed"
	StatusFailed  = "failed"
)

var ErrNotFound = errors.New("document not found")

// DocumentInfo is the bookkeeping row of a stored document.
type DocumentInfo struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	Sentences    int       `json:"sentences"`
	Dependencies int       `json:"dependencies"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DocumentStorage persists parsed documents and their dependency relations.
type DocumentStorage interface {
	// CreateDocument registers a document that is waiting to be parsed.
	CreateDocument(ctx context.Context, id string) error
	// SetStatus updates the state of a document. errMsg is stored for
	// StatusFailed and cleared otherwise.
	SetStatus(ctx context.Context, id string, status string, errMsg string) error
	// SaveDocument stores a parsed document and replaces its dependencies.
	SaveDocument(ctx context.Context, doc *common.Document) error
	GetDocument(ctx context.Context, id string) (*common.Document, error)
	GetDocumentInfo(ctx context.Context, id string) (*DocumentInfo, error)
	DeleteDocument(ctx context.Context, id string) error
}
