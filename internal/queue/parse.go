package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/depparse/pkg/common"
	"github.com/OFFIS-RIT/depparse/pkg/logger"
	"github.com/OFFIS-RIT/depparse/pkg/parser"
	"github.com/OFFIS-RIT/depparse/pkg/store"

	"github.com/tidwall/gjson"
)

var ErrInvalidMessage = errors.New("invalid parse message")

// ParseMessage asks a worker to parse the document stored under Key.
type ParseMessage struct {
	DocumentID string `json:"document_id"`
	Bucket     string `json:"bucket,omitempty"`
	Key        string `json:"key"`
}

// ParsedEvent is published on TopicParsed once a document is stored.
type ParsedEvent struct {
	DocumentID   string `json:"document_id"`
	Sentences    int    `json:"sentences"`
	Dependencies int    `json:"dependencies"`
}

// FailedEvent is published on TopicFailed when a document is given up on.
type FailedEvent struct {
	DocumentID string `json:"document_id"`
	Error      string `json:"error"`
}

// DocumentParser parses all sentences of a document in place.
type DocumentParser interface {
	ParseDocument(ctx context.Context, doc *common.Document) error
}

// FetchFunc loads the raw document stored under bucket/key.
type FetchFunc func(ctx context.Context, bucket, key string) ([]byte, error)

type ParseHandler struct {
	parser DocumentParser
	docs   store.DocumentStorage
	fetch  FetchFunc
	ch     Channel
	bucket string
}

type NewParseHandlerParams struct {
	Parser  DocumentParser
	Docs    store.DocumentStorage
	Fetch   FetchFunc
	Channel Channel
	// Bucket is used for messages that do not name one.
	Bucket string
}

func NewParseHandler(params NewParseHandlerParams) *ParseHandler {
	return &ParseHandler{
		parser: params.Parser,
		docs:   params.Docs,
		fetch:  params.Fetch,
		ch:     params.Channel,
		bucket: params.Bucket,
	}
}

// DecodeParseMessage reads a parse message and checks its required fields.
func DecodeParseMessage(body string) (ParseMessage, error) {
	if !gjson.Valid(body) {
		return ParseMessage{}, fmt.Errorf("%w: body is not valid JSON", ErrInvalidMessage)
	}
	fields := gjson.GetMany(body, "document_id", "bucket", "key")
	msg := ParseMessage{
		DocumentID: fields[0].String(),
		Bucket:     fields[1].String(),
		Key:        fields[2].String(),
	}
	if msg.DocumentID == "" {
		return msg, fmt.Errorf("%w: missing document_id", ErrInvalidMessage)
	}
	if msg.Key == "" {
		return msg, fmt.Errorf("%w: missing key", ErrInvalidMessage)
	}
	return msg, nil
}

// IsInputError reports whether err was caused by the message or the document
// it points to. Such messages will never succeed and are not retried.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidMessage) || parser.IsInputError(err)
}

// Process handles one message of ParseQueue: it loads the document, parses
// it, stores the result and announces it on TopicParsed.
func (h *ParseHandler) Process(ctx context.Context, body string) error {
	msg, err := DecodeParseMessage(body)
	if err != nil {
		return err
	}
	bucket := msg.Bucket
	if bucket == "" {
		bucket = h.bucket
	}

	logger.Info("[Queue] Parsing document", "id", msg.DocumentID, "bucket", bucket, "key", msg.Key)

	if err := h.docs.SetStatus(ctx, msg.DocumentID, store.StatusParsing, ""); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := h.docs.CreateDocument(ctx, msg.DocumentID); err != nil {
			return err
		}
	}

	data, err := h.fetch(ctx, bucket, msg.Key)
	if err != nil {
		return fmt.Errorf("failed to fetch document %s: %w", msg.DocumentID, err)
	}

	doc := &common.Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("%w: document %s: %w", ErrInvalidMessage, msg.DocumentID, err)
	}
	if doc.ID == "" {
		doc.ID = msg.DocumentID
	}
	if doc.ID != msg.DocumentID {
		return fmt.Errorf("%w: stored document has id %s, expected %s", ErrInvalidMessage, doc.ID, msg.DocumentID)
	}

	for _, sent := range doc.Sentences {
		if err := sent.Check(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
		}
	}

	if err := h.parser.ParseDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to parse document %s: %w", doc.ID, err)
	}

	if err := h.docs.SaveDocument(ctx, doc); err != nil {
		return err
	}

	deps := 0
	for _, layer := range doc.Dependencies() {
		deps += len(layer.Dependencies)
	}
	event, err := json.Marshal(ParsedEvent{
		DocumentID:   doc.ID,
		Sentences:    len(doc.Sentences),
		Dependencies: deps,
	})
	if err != nil {
		return err
	}
	if err := PublishTopic(h.ch, TopicParsed, event); err != nil {
		logger.Error("[Queue] Failed to publish parsed event", "id", doc.ID, "err", err)
	}

	logger.Info("[Queue] Document parsed", "id", doc.ID, "sentences", len(doc.Sentences))
	return nil
}

// Fail marks the document of a message that is given up on as failed and
// announces it on TopicFailed.
func (h *ParseHandler) Fail(ctx context.Context, body string, cause error) {
	id := gjson.Get(body, "document_id").String()
	if id == "" {
		return
	}

	if err := h.docs.SetStatus(ctx, id, store.StatusFailed, cause.Error()); err != nil {
		logger.Error("[Queue] Failed to mark document as failed", "id", id, "err", err)
	}

	event, err := json.Marshal(FailedEvent{DocumentID: id, Error: cause.Error()})
	if err != nil {
		return
	}
	if err := PublishTopic(h.ch, TopicFailed, event); err != nil {
		logger.Error("[Queue] Failed to publish failed event", "id", id, "err", err)
	}
}
