package routes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/OFFIS-RIT/depparse/internal/server/middleware"
	"github.com/OFFIS-RIT/depparse/pkg/common"
	"github.com/OFFIS-RIT/depparse/pkg/format/conll"
	"github.com/OFFIS-RIT/depparse/pkg/logger"
	"github.com/OFFIS-RIT/depparse/pkg/parser"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type parseBody struct {
	ID        string             `json:"id"`
	Sentences []*common.Sentence `json:"sentences" validate:"required,min=1,dive,required"`
}

type parseResponse struct {
	Message  string           `json:"message"`
	Document *common.Document `json:"document,omitempty"`
}

// ParseHandler parses the posted sentences synchronously. JSON bodies hold a
// document, text/plain bodies tagged sentences in the CoNLL layout. The answer
// uses the same format as the request.
func ParseHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMETextPlain) {
		return parseCoNLL(c, app.Parser)
	}

	data := new(parseBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, parseResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, parseResponse{
			Message: "Invalid request body",
		})
	}

	doc := &common.Document{ID: data.ID, Sentences: data.Sentences}
	if doc.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			logger.Error("[Server] Failed to generate document id", "err", err)
			return c.JSON(http.StatusInternalServerError, parseResponse{
				Message: "Internal server error",
			})
		}
		doc.ID = id
	}
	for i, sent := range doc.Sentences {
		if sent.ID == "" {
			sent.ID = fmt.Sprintf("%s.s.%d", doc.ID, i+1)
		}
		if err := sent.Check(); err != nil {
			return c.JSON(http.StatusUnprocessableEntity, parseResponse{
				Message: err.Error(),
			})
		}
	}

	if status, msg := parseDocument(ctx, app.Parser, doc); status != http.StatusOK {
		return c.JSON(status, parseResponse{Message: msg})
	}

	return c.JSON(http.StatusOK, parseResponse{
		Message:  "Document parsed",
		Document: doc,
	})
}

func parseCoNLL(c echo.Context, p *parser.Parser) error {
	id, err := gonanoid.New()
	if err != nil {
		logger.Error("[Server] Failed to generate document id", "err", err)
		return c.String(http.StatusInternalServerError, "Internal server error")
	}

	doc, err := conll.Read(c.Request().Body, id)
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	if len(doc.Sentences) == 0 {
		return c.String(http.StatusBadRequest, "Invalid request body")
	}

	if status, msg := parseDocument(c.Request().Context(), p, doc); status != http.StatusOK {
		return c.String(status, msg)
	}

	var out bytes.Buffer
	if err := conll.Write(&out, doc); err != nil {
		logger.Error("[Server] Failed to write parse result", "err", err)
		return c.String(http.StatusInternalServerError, "Internal server error")
	}
	return c.Blob(http.StatusOK, echo.MIMETextPlainCharsetUTF8, out.Bytes())
}

// parseDocument runs the parser and maps its errors to a status code. A
// misconfigured or unreachable classifier cannot serve any later request
// either, so it terminates the process.
func parseDocument(ctx context.Context, p *parser.Parser, doc *common.Document) (int, string) {
	err := p.ParseDocument(ctx, doc)
	switch {
	case err == nil:
		return http.StatusOK, ""
	case parser.IsInputError(err):
		return http.StatusUnprocessableEntity, err.Error()
	case parser.IsFatal(err):
		logger.Fatal("[Server] Parser failed", "id", doc.ID, "err", err)
		return http.StatusInternalServerError, "Internal server error"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "Request cancelled"
	default:
		logger.Error("[Server] Failed to parse document", "id", doc.ID, "err", err)
		return http.StatusInternalServerError, "Internal server error"
	}
}
