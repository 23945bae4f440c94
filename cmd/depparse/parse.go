package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/OFFIS-RIT/depparse/internal/storage"
	"github.com/OFFIS-RIT/depparse/internal/util"
	"github.com/OFFIS-RIT/depparse/pkg/config"
	"github.com/OFFIS-RIT/depparse/pkg/format/conll"
	"github.com/OFFIS-RIT/depparse/pkg/logger"
	"github.com/OFFIS-RIT/depparse/pkg/parser"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/urfave/cli/v2"
)

const (
	formatCoNLL = "conll"
	formatJSON  = "json"
)

func parseCommand(ui UI) *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "parse tagged sentences",
		ArgsUsage: "[input file]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "parser configuration file",
				Value:   "config/parser.yaml",
				EnvVars: []string{"PARSER_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "write the result to `FILE` instead of stdout",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "output format, conll or json",
				Value: formatCoNLL,
			},
			&cli.StringFlag{
				Name:  "id",
				Usage: "document id",
				Value: "doc",
			},
			&cli.BoolFlag{
				Name:    "s3",
				Usage:   "open s3:// instance bases through the S3 client",
				EnvVars: []string{"PARSER_S3"},
			},
		},
		Action: func(c *cli.Context) error {
			format := c.String("format")
			if format != formatCoNLL && format != formatJSON {
				return fmt.Errorf("unknown output format %q", format)
			}

			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}

			var client *s3.Client
			if c.Bool("s3") {
				client, err = storage.NewS3Client(c.Context)
				if err != nil {
					return err
				}
			}

			in, closeIn, err := openInput(ui, c.Args().First())
			if err != nil {
				return err
			}
			defer closeIn()

			doc, err := conll.Read(in, c.String("id"))
			if err != nil {
				return err
			}

			p := parser.NewParser(parser.NewParserParams{Open: storage.Opener(client)})
			if err := p.Init(c.Context, cfg); err != nil {
				return err
			}

			start := time.Now()
			if err := p.ParseDocument(c.Context, doc); err != nil {
				return err
			}
			for name, metrics := range p.ClassifierMetrics() {
				logger.Debug("Classifier Metrics", "classifier", name, "calls", metrics.Calls, "instances", metrics.Instances)
			}
			logger.Info("Parsed document", "sentences", len(doc.Sentences), "duration", util.FormatDuration(time.Since(start)))

			out, closeOut, err := openOutput(ui, c.String("output"))
			if err != nil {
				return err
			}
			defer closeOut()

			if format == formatJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			}
			return conll.Write(out, doc)
		},
	}
}

func openInput(ui UI, path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return ui.In, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func openOutput(ui UI, path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return ui.Out, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
