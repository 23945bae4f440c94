package middleware

import (
	"github.com/OFFIS-RIT/depparse/internal/queue"
	"github.com/OFFIS-RIT/depparse/pkg/parser"
	"github.com/OFFIS-RIT/depparse/pkg/store"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/labstack/echo/v4"
)

type App struct {
	Parser *parser.Parser
	Docs   store.DocumentStorage
	Queue  queue.Channel
	S3     *s3.Client
	Bucket string
	APIKey string
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
