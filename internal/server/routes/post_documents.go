package routes

import (
	"encoding/json"
	"net/http"

	"github.com/OFFIS-RIT/depparse/internal/queue"
	"github.com/OFFIS-RIT/depparse/internal/server/middleware"
	"github.com/OFFIS-RIT/depparse/internal/storage"
	"github.com/OFFIS-RIT/depparse/pkg/common"
	"github.com/OFFIS-RIT/depparse/pkg/logger"
	"github.com/OFFIS-RIT/depparse/pkg/store"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type createDocumentResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
	Status  string `json:"status,omitempty"`
}

func documentKey(id string) string {
	return "documents/" + id + ".json"
}

// CreateDocumentHandler stores a posted document and queues it for parsing.
func CreateDocumentHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	data := new(parseBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createDocumentResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createDocumentResponse{
			Message: "Invalid request body",
		})
	}

	for _, sent := range data.Sentences {
		if err := sent.Check(); err != nil {
			return c.JSON(http.StatusUnprocessableEntity, createDocumentResponse{
				Message: err.Error(),
			})
		}
	}

	id, err := gonanoid.New()
	if err != nil {
		logger.Error("[Server] Failed to generate document id", "err", err)
		return c.JSON(http.StatusInternalServerError, createDocumentResponse{
			Message: "Internal server error",
		})
	}

	body, err := json.Marshal(&common.Document{ID: id, Sentences: data.Sentences})
	if err != nil {
		return c.JSON(http.StatusBadRequest, createDocumentResponse{
			Message: "Invalid request body",
		})
	}

	key := documentKey(id)
	if err := storage.PutFile(ctx, app.S3, app.Bucket, key, body, echo.MIMEApplicationJSON); err != nil {
		logger.Error("[Server] Failed to upload document", "id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, createDocumentResponse{
			Message: "Internal server error",
		})
	}

	if err := app.Docs.CreateDocument(ctx, id); err != nil {
		logger.Error("[Server] Failed to register document", "id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, createDocumentResponse{
			Message: "Internal server error",
		})
	}

	msg, err := json.Marshal(queue.ParseMessage{DocumentID: id, Bucket: app.Bucket, Key: key})
	if err != nil {
		return err
	}
	if err := queue.PublishFIFO(app.Queue, queue.ParseQueue, msg); err != nil {
		logger.Error("[Server] Failed to queue document", "id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, createDocumentResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusAccepted, createDocumentResponse{
		Message: "Document queued",
		ID:      id,
		Status:  store.StatusQueued,
	})
}
