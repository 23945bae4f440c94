package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/OFFIS-RIT/depparse/pkg/config"
	"github.com/OFFIS-RIT/depparse/pkg/format/conll"
	"github.com/OFFIS-RIT/depparse/pkg/parser"
	"github.com/OFFIS-RIT/depparse/pkg/units"

	"github.com/urfave/cli/v2"
)

var instanceSuffixes = []string{"pairs", "dir", "rels"}

func instancesCommand(ui UI) *cli.Command {
	return &cli.Command{
		Name:      "instances",
		Usage:     "write the classifier instances of tagged sentences",
		ArgsUsage: "[input file]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "prefix",
				Aliases: []string{"p"},
				Usage:   "write PREFIX.pairs, PREFIX.dir and PREFIX.rels",
				Value:   "instances",
			},
			&cli.IntFlag{
				Name:  "max-dep-span",
				Usage: "largest distance between a dependent and its head",
				Value: config.DefaultMaxDepSpan,
			},
			&cli.StringFlag{
				Name:  "char-filter",
				Usage: "character filter applied to words",
			},
		},
		Action: func(c *cli.Context) error {
			span := c.Int("max-dep-span")
			if span < 0 || span > 49 {
				return fmt.Errorf("max-dep-span must be between 0 and 49, got %d", span)
			}

			var filter *units.CharFilter
			if path := c.String("char-filter"); path != "" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				filter, err = units.LoadCharFilter(f)
				f.Close()
				if err != nil {
					return err
				}
			}

			in, closeIn, err := openInput(ui, c.Args().First())
			if err != nil {
				return err
			}
			defer closeIn()

			doc, err := conll.Read(in, "doc")
			if err != nil {
				return err
			}

			files := make([]*os.File, len(instanceSuffixes))
			writers := make([]*bufio.Writer, len(instanceSuffixes))
			for i, suffix := range instanceSuffixes {
				f, err := os.Create(c.String("prefix") + "." + suffix)
				if err != nil {
					return err
				}
				defer f.Close()
				files[i] = f
				writers[i] = bufio.NewWriter(f)
			}

			for _, sent := range doc.Sentences {
				inst, err := parser.BuildInstances(sent, span, filter)
				if err != nil {
					return err
				}
				for i, lines := range [][]string{inst.Pairs, inst.Dirs, inst.Rels} {
					for _, line := range lines {
						if _, err := writers[i].WriteString(line + "\n"); err != nil {
							return err
						}
					}
				}
			}

			for i, w := range writers {
				if err := w.Flush(); err != nil {
					return err
				}
				if err := files[i].Close(); err != nil {
					return err
				}
			}
			fmt.Fprintf(ui.Out, "wrote instances of %d sentences to %s.{pairs,dir,rels}\n", len(doc.Sentences), c.String("prefix"))
			return nil
		},
	}
}
