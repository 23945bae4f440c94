package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/depparse/internal/queue"
	"github.com/OFFIS-RIT/depparse/internal/storage"
	"github.com/OFFIS-RIT/depparse/internal/util"
	"github.com/OFFIS-RIT/depparse/pkg/config"
	"github.com/OFFIS-RIT/depparse/pkg/logger"
	"github.com/OFFIS-RIT/depparse/pkg/logger/console"
	"github.com/OFFIS-RIT/depparse/pkg/parser"
	pgstore "github.com/OFFIS-RIT/depparse/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		JSON:   util.GetEnvBool("LOG_JSON", false),
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	// Init s3 client
	client, err := storage.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("Could not create S3 client", "err", err)
	}

	// Parser
	cfg, err := config.Load(util.GetEnvString("PARSER_CONFIG", "config/parser.yaml"))
	if err != nil {
		logger.Fatal("Could not load parser configuration", "err", err)
	}
	p := parser.NewParser(parser.NewParserParams{Open: storage.Opener(client)})
	if err := p.Init(ctx, cfg); err != nil {
		logger.Fatal("Could not initialize parser", "err", err)
	}

	// Init pgx client
	pgConn, err := pgxpool.New(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	// Init rabbitmq
	conn, err := queue.Init(ctx)
	if err != nil {
		logger.Fatal("Unable to connect to queue", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.ParseQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	// One document at a time
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.ParseQueue,
		queue.ParseQueue+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.ParseQueue, "err", err)
	}

	handler := queue.NewParseHandler(queue.NewParseHandlerParams{
		Parser:  p,
		Docs:    pgstore.NewDocumentDBStorageWithConnection(pgConn),
		Channel: ch,
		Bucket:  storage.Bucket(),
		Fetch: func(ctx context.Context, bucket, key string) ([]byte, error) {
			return storage.GetFile(ctx, client, bucket, key)
		},
	})

	logger.Info("Listening for messages", "queue", queue.ParseQueue)

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Info("Message channel closed", "queue", queue.ParseQueue)
					stop()
					return
				}

				startTime := time.Now()
				logger.Info("Received message", "queue", queue.ParseQueue)

				processingErr := handler.Process(ctx, string(msg.Body))
				switch {
				case processingErr == nil:
					if err := msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", queue.ParseQueue)
				case queue.IsInputError(processingErr):
					logger.Error("Rejecting message", "queue", queue.ParseQueue, "err", processingErr)
					queue.DeadLetter(ch, msg, queue.ParseQueue)
					handler.Fail(ctx, string(msg.Body), processingErr)
				case parser.IsFatal(processingErr):
					msg.Nack(false, true)
					logger.Fatal("Parser failed", "queue", queue.ParseQueue, "err", processingErr)
				default:
					logger.Error("Error processing message", "queue", queue.ParseQueue, "err", processingErr)
					if queue.HandleProcessingError(ch, msg, queue.ParseQueue) {
						handler.Fail(ctx, string(msg.Body), processingErr)
					}
				}

				for name, metrics := range p.ClassifierMetrics() {
					logger.Info(
						"Classifier Metrics",
						"classifier", name,
						"calls", metrics.Calls,
						"instances", metrics.Instances,
						"duration", util.FormatDuration(time.Duration(metrics.DurationMs)*time.Millisecond),
					)
				}
				logger.Info(
					"Processing time",
					"duration", util.FormatDuration(time.Since(startTime)),
				)
				logger.Info("Waiting for next message")
				p.ResetMetrics()
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}
