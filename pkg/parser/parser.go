// Package parser ties the parsing stages together: it collapses a sentence
// into units, encodes the three instance sets, classifies them concurrently,
// resolves the results into a tree and projects that tree onto the document.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/OFFIS-RIT/depparse/pkg/classifier"
	"github.com/OFFIS-RIT/depparse/pkg/classifier/mbl"
	"github.com/OFFIS-RIT/depparse/pkg/classifier/remote"
	"github.com/OFFIS-RIT/depparse/pkg/common"
	"github.com/OFFIS-RIT/depparse/pkg/config"
	"github.com/OFFIS-RIT/depparse/pkg/csi"
	"github.com/OFFIS-RIT/depparse/pkg/instance"
	"github.com/OFFIS-RIT/depparse/pkg/logger"
	"github.com/OFFIS-RIT/depparse/pkg/units"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"
)

const (
	ProcessorName  = "dep-parser"
	AnnotationType = "dependency"

	currentClass = "current"
)

var (
	ErrNotInitialized = errors.New("parser not initialized")
	ErrConfig         = errors.New("parser configuration error")
	ErrInvalidResult  = errors.New("invalid parse result")
)

// Opener opens a file named in the configuration.
type Opener func(ctx context.Context, name string) (io.ReadCloser, error)

func openFile(_ context.Context, name string) (io.ReadCloser, error) {
	return os.Open(name)
}

// Parser is safe for concurrent use once Init has succeeded.
type Parser struct {
	open Opener

	settings *config.ParserSettings
	filter   *units.CharFilter

	pairs classifier.Classifier
	dirs  classifier.Classifier
	rels  classifier.Classifier

	initialized atomic.Bool
}

// NewParserParams contains the dependencies of a new Parser.
type NewParserParams struct {
	// Open resolves instance base and filter names. Defaults to os.Open.
	Open Opener

	// Pairs, Dirs and Rels replace the classifiers otherwise built from the
	// configuration. All three must be set to take effect.
	Pairs classifier.Classifier
	Dirs  classifier.Classifier
	Rels  classifier.Classifier
}

func NewParser(params NewParserParams) *Parser {
	open := params.Open
	if open == nil {
		open = openFile
	}
	return &Parser{
		open:  open,
		pairs: params.Pairs,
		dirs:  params.Dirs,
		rels:  params.Rels,
	}
}

// Init reads the parser settings and prepares the classifiers. On failure
// the parser stays uninitialized and every later Parse returns
// ErrNotInitialized.
func (p *Parser) Init(ctx context.Context, cfg *config.Config) error {
	settings, err := cfg.ParserSettings()
	if err != nil {
		logger.Error("[Parser] Invalid configuration", "err", err)
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	var filter *units.CharFilter
	if settings.CharFilterFile != "" {
		filter, err = p.loadCharFilter(ctx, settings.CharFilterFile)
		if err != nil {
			logger.Error("[Parser] Failed to load character filter", "file", settings.CharFilterFile, "err", err)
			return fmt.Errorf("%w: %w", ErrConfig, err)
		}
	}

	pairs, dirs, rels := p.pairs, p.dirs, p.rels
	if pairs == nil || dirs == nil || rels == nil {
		if settings.IsRemote() {
			pairs, dirs, rels = remoteClassifiers(settings)
			logger.Info("[Parser] Using classification server", "host", settings.Remote.Host, "port", settings.Remote.Port)
		} else {
			pairs, dirs, rels, err = p.loadLocal(ctx, settings.Local)
			if err != nil {
				logger.Error("[Parser] Failed to load instance bases", "err", err)
				return fmt.Errorf("%w: %w", ErrConfig, err)
			}
		}
	}

	p.settings = settings
	p.filter = filter
	p.pairs, p.dirs, p.rels = pairs, dirs, rels
	p.initialized.Store(true)

	logger.Info("[Parser] Initialized", "maxDepSpan", settings.MaxDepSpan, "set", settings.Set, "version", settings.Version)
	return nil
}

// Initialized reports whether Init succeeded.
func (p *Parser) Initialized() bool {
	return p.initialized.Load()
}

// Settings returns the active settings, nil before Init.
func (p *Parser) Settings() *config.ParserSettings {
	if !p.initialized.Load() {
		return nil
	}
	return p.settings
}

func (p *Parser) loadCharFilter(ctx context.Context, name string) (*units.CharFilter, error) {
	rc, err := p.open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open character filter: %w", err)
	}
	defer rc.Close()

	return units.LoadCharFilter(rc)
}

func remoteClassifiers(s *config.ParserSettings) (pairs, dirs, rels classifier.Classifier) {
	client := func(base string) *remote.Client {
		return remote.NewClient(remote.NewClientParams{
			Host:           s.Remote.Host,
			Port:           s.Remote.Port,
			Base:           base,
			Timeout:        s.Timeout,
			MaxConnections: s.MaxConnections,
		})
	}
	return client(s.Remote.PairsBase), client(s.Remote.DirsBase), client(s.Remote.RelsBase)
}

func (p *Parser) loadLocal(ctx context.Context, s *config.LocalSettings) (pairs, dirs, rels classifier.Classifier, err error) {
	bases := [3]struct{ file, options string }{
		{s.PairsFile, s.PairsOptions},
		{s.DirFile, s.DirOptions},
		{s.RelsFile, s.RelsOptions},
	}
	loaded := make([]*mbl.Classifier, len(bases))

	g, gctx := errgroup.WithContext(ctx)
	for i, base := range bases {
		g.Go(func() error {
			rc, err := p.open(gctx, base.file)
			if err != nil {
				return fmt.Errorf("failed to open instance base %s: %w", base.file, err)
			}
			defer rc.Close()

			c, err := mbl.Load(base.file, rc, base.options)
			if err != nil {
				return err
			}
			loaded[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return loaded[0], loaded[1], loaded[2], nil
}

// Instances are the units of a sentence together with the three instance
// sets built from them.
type Instances struct {
	Units units.Units
	Pairs []string
	Dirs  []string
	Rels  []string
}

// BuildInstances collapses sent and encodes its instances.
func BuildInstances(sent *common.Sentence, maxDepSpan int, filter *units.CharFilter) (Instances, error) {
	u, err := units.Collapse(sent.Tokens, sent.SpanMap(), filter)
	if err != nil {
		return Instances{}, err
	}
	return Instances{
		Units: u,
		Pairs: instance.PairInstances(u, maxDepSpan),
		Dirs:  instance.DirInstances(u),
		Rels:  instance.RelInstances(u),
	}, nil
}

// Parse parses one sentence and stores the result in sent.Units. Empty
// sentences and sentences longer than max_tokens are skipped without error
// and are left without units.
func (p *Parser) Parse(ctx context.Context, sent *common.Sentence) error {
	if !p.initialized.Load() {
		logger.Error("[Parser] Not initialized, refusing to parse", "sentence", sent.ID)
		return ErrNotInitialized
	}
	defer observe(stageParse, time.Now())
	sent.Units = nil

	n := len(sent.Tokens)
	if n == 0 {
		logger.Warn("[Parser] Skipping empty sentence", "sentence", sent.ID)
		sentencesTotal.WithLabelValues(outcomeEmpty).Inc()
		return nil
	}
	if p.settings.MaxTokens > 0 && n > p.settings.MaxTokens {
		logger.Warn("[Parser] Sentence too long, skipping", "sentence", sent.ID, "tokens", n, "max_tokens", p.settings.MaxTokens)
		sentencesTotal.WithLabelValues(outcomeSkipped).Inc()
		return nil
	}

	start := time.Now()
	inst, err := BuildInstances(sent, p.settings.MaxDepSpan, p.filter)
	if err != nil {
		sentencesTotal.WithLabelValues(outcomeFailed).Inc()
		return fmt.Errorf("sentence %s: %w", sent.ID, err)
	}
	prepareTime := observe(stagePrepare, start)

	var pairs, dirs, rels []classifier.Result
	var pairsTime, dirTime, relsTime time.Duration

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		res, err := p.pairs.Classify(gctx, inst.Pairs)
		if err != nil {
			return fmt.Errorf("pairs classifier: %w", err)
		}
		pairs = res
		pairsTime = observe(stagePairs, start)
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		res, err := p.dirs.Classify(gctx, inst.Dirs)
		if err != nil {
			return fmt.Errorf("dir classifier: %w", err)
		}
		dirs = res
		dirTime = observe(stageDir, start)
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		res, err := p.rels.Classify(gctx, inst.Rels)
		if err != nil {
			return fmt.Errorf("rels classifier: %w", err)
		}
		rels = res
		relsTime = observe(stageRels, start)
		return nil
	})
	if err := g.Wait(); err != nil {
		sentencesTotal.WithLabelValues(outcomeFailed).Inc()
		return fmt.Errorf("sentence %s: %w", sent.ID, err)
	}

	start = time.Now()
	edges, err := csi.Resolve(pairs, dirs, rels, inst.Units.Len(), p.settings.MaxDepSpan)
	if err != nil {
		sentencesTotal.WithLabelValues(outcomeFailed).Inc()
		return fmt.Errorf("sentence %s: %w", sent.ID, err)
	}
	csiTime := observe(stageCSI, start)

	records := inst.Units.Records()
	for i, e := range edges {
		records[i].ParseIndex = e.Head
		records[i].ParseRole = e.Relation
	}
	sent.Units = records
	sentencesTotal.WithLabelValues(outcomeParsed).Inc()

	logger.Debug("[Parser] Parsed sentence",
		"sentence", sent.ID,
		"units", len(records),
		"prepare", prepareTime,
		"pairs", pairsTime,
		"dir", dirTime,
		"rels", relsTime,
		"csi", csiTime,
	)
	return nil
}

// AddResult projects the parse stored in sent onto doc as one dependency
// layer. Multi-word units expand to all of their tokens on both sides of a
// dependency. Sentences without units are left alone.
func (p *Parser) AddResult(doc *common.Document, sent *common.Sentence) error {
	if !p.initialized.Load() {
		return ErrNotInitialized
	}
	if len(sent.Units) == 0 {
		return nil
	}

	if err := checkUnits(sent); err != nil {
		return fmt.Errorf("%w: sentence %s: %w", ErrInvalidResult, sent.ID, err)
	}

	layerID := sent.ID + ".dependencies.1"
	layer := &common.DependencyLayer{ID: layerID, Set: p.settings.Set}
	for _, unit := range sent.Units {
		if unit.ParseIndex == 0 {
			continue
		}

		head := sent.Units[unit.ParseIndex-1]
		dep := common.Dependency{
			ID:        fmt.Sprintf("%s.dependency.%d", layerID, len(layer.Dependencies)+1),
			Class:     unit.ParseRole,
			Set:       p.settings.Set,
			Head:      tokenIDs(sent, head.Parts),
			Dependent: tokenIDs(sent, unit.Parts),
		}
		if p.settings.OutputClass != currentClass {
			dep.TextClass = p.settings.OutputClass
		}
		layer.Dependencies = append(layer.Dependencies, dep)
	}

	return doc.AppendDependencyLayer(sent, layer)
}

// checkUnits verifies that the units of sent form a tree and that every
// unit covers existing tokens.
func checkUnits(sent *common.Sentence) error {
	edges := make([]csi.Edge, len(sent.Units))
	for i, unit := range sent.Units {
		if len(unit.Parts) == 0 {
			return fmt.Errorf("unit %d covers no tokens", i+1)
		}
		for _, pos := range unit.Parts {
			if pos < 0 || pos >= len(sent.Tokens) {
				return fmt.Errorf("unit %d covers token %d of %d", i+1, pos+1, len(sent.Tokens))
			}
		}
		edges[i] = csi.Edge{Head: unit.ParseIndex, Relation: unit.ParseRole}
	}
	return csi.Validate(edges)
}

func tokenIDs(sent *common.Sentence, parts []int) []string {
	ids := make([]string, len(parts))
	for i, pos := range parts {
		ids[i] = sent.TokenID(pos)
	}
	return ids
}

// AddProvenance registers the parser as a processor of doc and declares the
// dependency set it annotates with. It returns the processor id.
func (p *Parser) AddProvenance(doc *common.Document) (string, error) {
	if !p.initialized.Load() {
		return "", ErrNotInitialized
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate processor id: %w", err)
	}
	procID := ProcessorName + "." + id

	doc.AddProcessor(common.Processor{
		ID:            procID,
		Name:          ProcessorName,
		Version:       p.settings.Version,
		BeginDatetime: time.Now().UTC().Format(time.RFC3339),
	})
	doc.Declare(common.Declaration{
		Annotation: AnnotationType,
		Set:        p.settings.Set,
		Processor:  procID,
	})
	return procID, nil
}

// ParseDocument adds provenance to doc and parses all of its sentences,
// parallel_sentences at a time. The first error stops the remaining work.
func (p *Parser) ParseDocument(ctx context.Context, doc *common.Document) error {
	if _, err := p.AddProvenance(doc); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.settings.ParallelSentences)
	for _, sent := range doc.Sentences {
		g.Go(func() error {
			if err := p.Parse(gctx, sent); err != nil {
				return err
			}
			return p.AddResult(doc, sent)
		})
	}
	return g.Wait()
}

// ClassifierMetrics returns the counters of the three classifiers.
func (p *Parser) ClassifierMetrics() map[string]classifier.Metrics {
	if !p.initialized.Load() {
		return nil
	}
	return map[string]classifier.Metrics{
		"pairs": p.pairs.GetMetrics(),
		"dir":   p.dirs.GetMetrics(),
		"rels":  p.rels.GetMetrics(),
	}
}

// ResetMetrics clears the counters of the three classifiers.
func (p *Parser) ResetMetrics() {
	if !p.initialized.Load() {
		return
	}
	p.pairs.ResetMetrics()
	p.dirs.ResetMetrics()
	p.rels.ResetMetrics()
}

// IsFatal reports whether err means the parser cannot continue at all.
// Spans or classifier results that do not fit the sentence are defects of
// the caller or the classifier and count as fatal too.
func IsFatal(err error) bool {
	for _, target := range []error{
		ErrConfig,
		ErrNotInitialized,
		classifier.ErrConnect,
		classifier.ErrProtocol,
		csi.ErrMisaligned,
		units.ErrSpanOutOfRange,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsInputError reports whether err was caused by parse results supplied with
// the sentence itself.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidResult)
}
