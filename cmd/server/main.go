package main

import (
	"github.com/OFFIS-RIT/depparse/internal/server"
	"github.com/OFFIS-RIT/depparse/internal/util"
	"github.com/OFFIS-RIT/depparse/pkg/logger"
	"github.com/OFFIS-RIT/depparse/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		JSON:   util.GetEnvBool("LOG_JSON", false),
		Prefix: "server",
	})
	logger.Init(consoleLogger)

	server.Init()
}
