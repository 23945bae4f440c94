package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/depparse/internal/server/middleware"
	"github.com/OFFIS-RIT/depparse/pkg/common"
	"github.com/OFFIS-RIT/depparse/pkg/logger"
	"github.com/OFFIS-RIT/depparse/pkg/store"

	"github.com/labstack/echo/v4"
)

type getDocumentResponse struct {
	Message  string              `json:"message"`
	Info     *store.DocumentInfo `json:"info,omitempty"`
	Document *common.Document    `json:"document,omitempty"`
}

// GetDocumentHandler returns the state of a queued document together with
// the parsed document once it is available.
func GetDocumentHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()
	id := c.Param("id")

	info, err := app.Docs.GetDocumentInfo(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, getDocumentResponse{
				Message: "Document not found",
			})
		}
		logger.Error("[Server] Failed to get document", "id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, getDocumentResponse{
			Message: "Internal server error",
		})
	}

	res := getDocumentResponse{Message: "Document " + info.Status, Info: info}
	if info.Status != store.StatusParsed {
		return c.JSON(http.StatusOK, res)
	}

	doc, err := app.Docs.GetDocument(ctx, id)
	if err != nil {
		logger.Error("[Server] Failed to load parsed document", "id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, getDocumentResponse{
			Message: "Internal server error",
		})
	}
	res.Document = doc
	return c.JSON(http.StatusOK, res)
}
