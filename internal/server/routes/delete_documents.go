package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/depparse/internal/server/middleware"
	"github.com/OFFIS-RIT/depparse/internal/storage"
	"github.com/OFFIS-RIT/depparse/pkg/logger"
	"github.com/OFFIS-RIT/depparse/pkg/store"

	"github.com/labstack/echo/v4"
)

// DeleteDocumentHandler removes a document with its dependencies and the
// uploaded source.
func DeleteDocumentHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()
	id := c.Param("id")

	if err := app.Docs.DeleteDocument(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"message": "Document not found"})
		}
		logger.Error("[Server] Failed to delete document", "id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	if err := storage.DeleteFile(ctx, app.S3, app.Bucket, documentKey(id)); err != nil {
		logger.Warn("[Server] Failed to delete uploaded document", "id", id, "err", err)
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Document deleted"})
}
