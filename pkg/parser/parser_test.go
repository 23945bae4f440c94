package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/OFFIS-RIT/depparse/pkg/classifier"
	"github.com/OFFIS-RIT/depparse/pkg/common"
	"github.com/OFFIS-RIT/depparse/pkg/config"
	"github.com/OFFIS-RIT/depparse/pkg/csi"
	"github.com/OFFIS-RIT/depparse/pkg/instance"
	"github.com/OFFIS-RIT/depparse/pkg/units"
)

// stub answers every call with the same results.
type stub struct {
	results []classifier.Result
	err     error
	calls   atomic.Int32
}

func (s *stub) Classify(_ context.Context, instances []string) ([]classifier.Result, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	if len(instances) != len(s.results) {
		return nil, fmt.Errorf("stub expected %d instances, got %d", len(s.results), len(instances))
	}
	return s.results, nil
}

func (s *stub) GetMetrics() classifier.Metrics {
	return classifier.Metrics{Calls: int(s.calls.Load())}
}

func (s *stub) ResetMetrics() {
	s.calls.Store(0)
}

func res(category string) classifier.Result {
	return classifier.Result{
		Category:     category,
		Confidence:   1,
		Distribution: []classifier.Score{{Label: category, Value: 1}},
	}
}

// threeUnitStubs describe the tree 1 <- 2 -> 3 with relations rel1 and rel3.
func threeUnitStubs(rel1, rel3 string) (pairs, dirs, rels *stub) {
	decisions := instance.Pairs(3, config.DefaultMaxDepSpan)
	pairResults := make([]classifier.Result, len(decisions))
	for i, d := range decisions {
		switch d {
		case instance.Pair{Dependent: 1, Head: instance.RootCandidate}:
			pairResults[i] = res("ROOT")
		case instance.Pair{Dependent: 0, Head: 1}:
			pairResults[i] = res(rel1)
		case instance.Pair{Dependent: 2, Head: 1}:
			pairResults[i] = res(rel3)
		default:
			pairResults[i] = res("__")
		}
	}
	return &stub{results: pairResults},
		&stub{results: []classifier.Result{res("RIGHT"), res("ROOT"), res("LEFT")}},
		&stub{results: []classifier.Result{res(rel1), res("ROOT"), res(rel3)}}
}

func remoteConfig() *config.Config {
	c := config.New()
	for k, v := range map[string]string{
		"host":       "localhost",
		"port":       "7000",
		"pairs_base": "pairs",
		"dirs_base":  "dir",
		"rels_base":  "rels",
	} {
		c.Set(config.ParserSection, k, v)
	}
	return c
}

func initStubbed(t *testing.T, cfg *config.Config, pairs, dirs, rels classifier.Classifier) *Parser {
	t.Helper()
	p := NewParser(NewParserParams{Pairs: pairs, Dirs: dirs, Rels: rels})
	if err := p.Init(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected init error: %v", err)
	}
	return p
}

func janLooptSnel() *common.Sentence {
	return &common.Sentence{
		ID: "s.1",
		Tokens: []common.Token{
			{Word: "Jan", Tag: "SPEC(deeleigen)"},
			{Word: "loopt", Tag: "WW(pv,tgw,met-t)"},
			{Word: "snel", Tag: "ADJ(vrij,basis,zonder)"},
		},
	}
}

func TestParse_JanLooptSnel(t *testing.T) {
	pairs, dirs, rels := threeUnitStubs("su", "mod")
	p := initStubbed(t, remoteConfig(), pairs, dirs, rels)

	sent := janLooptSnel()
	if err := p.Parse(context.Background(), sent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []common.Unit{
		{Word: "Jan", Tag: "SPEC(deeleigen)", Parts: []int{0}, ParseIndex: 2, ParseRole: "su"},
		{Word: "loopt", Tag: "WW(pv,tgw,met-t)", Parts: []int{1}, ParseIndex: 0, ParseRole: "ROOT"},
		{Word: "snel", Tag: "ADJ(vrij,basis,zonder)", Parts: []int{2}, ParseIndex: 2, ParseRole: "mod"},
	}
	if !reflect.DeepEqual(sent.Units, want) {
		t.Fatalf("units = %+v, want %+v", sent.Units, want)
	}
	for _, s := range []*stub{pairs, dirs, rels} {
		if s.calls.Load() != 1 {
			t.Errorf("expected exactly one classify call per classifier, got %d", s.calls.Load())
		}
	}
}

func TestParse_MultiWordUnitProjection(t *testing.T) {
	pairs, dirs, rels := threeUnitStubs("su", "predc")
	cfg := remoteConfig()
	cfg.Set(config.ParserSection, "outputclass", "OCR")
	p := initStubbed(t, cfg, pairs, dirs, rels)

	sent := &common.Sentence{
		ID: "doc.p.1.s.1",
		Tokens: []common.Token{
			{ID: "doc.p.1.s.1.w.1", Word: "New", Tag: "SPEC(deeleigen)"},
			{ID: "doc.p.1.s.1.w.2", Word: "York", Tag: "SPEC(deeleigen)"},
			{ID: "doc.p.1.s.1.w.3", Word: "is", Tag: "WW(pv,tgw,ev)"},
			{ID: "doc.p.1.s.1.w.4", Word: "groot", Tag: "ADJ(vrij,basis,zonder)"},
		},
		MWUs: []common.Span{{Start: 0, End: 1}},
	}
	doc := &common.Document{ID: "doc", Sentences: []*common.Sentence{sent}}

	if err := p.Parse(context.Background(), sent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent.Units[0].Word != "New_York" {
		t.Fatalf("expected the collapsed unit New_York, got %q", sent.Units[0].Word)
	}
	if err := p.AddResult(doc, sent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := &common.DependencyLayer{
		ID:  "doc.p.1.s.1.dependencies.1",
		Set: config.DefaultSet,
		Dependencies: []common.Dependency{
			{
				ID:        "doc.p.1.s.1.dependencies.1.dependency.1",
				Class:     "su",
				Set:       config.DefaultSet,
				TextClass: "OCR",
				Head:      []string{"doc.p.1.s.1.w.3"},
				Dependent: []string{"doc.p.1.s.1.w.1", "doc.p.1.s.1.w.2"},
			},
			{
				ID:        "doc.p.1.s.1.dependencies.1.dependency.2",
				Class:     "predc",
				Set:       config.DefaultSet,
				TextClass: "OCR",
				Head:      []string{"doc.p.1.s.1.w.3"},
				Dependent: []string{"doc.p.1.s.1.w.4"},
			},
		},
	}
	if !reflect.DeepEqual(sent.Dependencies, want) {
		t.Fatalf("layer = %+v, want %+v", sent.Dependencies, want)
	}

	if err := p.AddResult(doc, sent); !errors.Is(err, common.ErrDuplicateLayer) {
		t.Fatalf("expected ErrDuplicateLayer on a second projection, got %v", err)
	}
}

func TestInit_LoadFailureLeavesParserUninitialized(t *testing.T) {
	cfg := config.New()
	cfg.Set(config.ParserSection, "pairsFile", "pairs.train")
	cfg.Set(config.ParserSection, "dirFile", "dir.train")
	cfg.Set(config.ParserSection, "relsFile", "rels.train")

	p := NewParser(NewParserParams{
		Open: func(_ context.Context, name string) (io.ReadCloser, error) {
			return nil, fmt.Errorf("%s: no such file", name)
		},
	})
	err := p.Init(context.Background(), cfg)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if !IsFatal(err) {
		t.Fatal("expected a load failure to be fatal")
	}
	if p.Initialized() {
		t.Fatal("expected the parser to stay uninitialized")
	}

	sent := janLooptSnel()
	if err := p.Parse(context.Background(), sent); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if sent.Units != nil {
		t.Fatalf("expected units to stay untouched, got %+v", sent.Units)
	}
}

func TestInit_InvalidSettingsNeverClassify(t *testing.T) {
	pairs, dirs, rels := threeUnitStubs("su", "mod")
	cfg := remoteConfig()
	cfg.Set(config.ParserSection, "maxDepSpan", "50")

	p := NewParser(NewParserParams{Pairs: pairs, Dirs: dirs, Rels: rels})
	if err := p.Init(context.Background(), cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if err := p.Parse(context.Background(), janLooptSnel()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if pairs.calls.Load()+dirs.calls.Load()+rels.calls.Load() != 0 {
		t.Fatal("expected no classifier calls")
	}
	if _, err := p.AddProvenance(&common.Document{}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized from AddProvenance, got %v", err)
	}
}

func TestParse_Skips(t *testing.T) {
	pairs, dirs, rels := threeUnitStubs("su", "mod")
	cfg := remoteConfig()
	cfg.Set(config.ParserSection, "max_tokens", "2")
	p := initStubbed(t, cfg, pairs, dirs, rels)

	tests := []struct {
		name string
		sent *common.Sentence
	}{
		{"empty", &common.Sentence{ID: "s.empty"}},
		{"too long", janLooptSnel()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.sent.Units = []common.Unit{{Word: "stale", Tag: "N", Parts: []int{9}, ParseIndex: 0, ParseRole: "ROOT"}}
			if err := p.Parse(context.Background(), tt.sent); err != nil {
				t.Fatalf("expected a skip without error, got %v", err)
			}
			if tt.sent.Units != nil {
				t.Fatalf("expected no units, got %+v", tt.sent.Units)
			}
		})
	}
	if pairs.calls.Load() != 0 {
		t.Fatal("expected skipped sentences not to be classified")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		sent    *common.Sentence
		pairErr error
		fatal   bool
		input   bool
	}{
		{
			name:    "connect",
			sent:    janLooptSnel(),
			pairErr: fmt.Errorf("%w: refused", classifier.ErrConnect),
			fatal:   true,
		},
		{
			name:    "protocol",
			sent:    janLooptSnel(),
			pairErr: fmt.Errorf("%w: garbage", classifier.ErrProtocol),
			fatal:   true,
		},
		{
			name: "span out of range",
			sent: &common.Sentence{
				ID:     "s.bad",
				Tokens: []common.Token{{Word: "a", Tag: "N"}},
				MWUs:   []common.Span{{Start: 0, End: 3}},
			},
			fatal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pairs, dirs, rels := threeUnitStubs("su", "mod")
			pairs.err = tt.pairErr
			p := initStubbed(t, remoteConfig(), pairs, dirs, rels)

			err := p.Parse(context.Background(), tt.sent)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if IsFatal(err) != tt.fatal {
				t.Errorf("IsFatal(%v) = %v, want %v", err, IsFatal(err), tt.fatal)
			}
			if IsInputError(err) != tt.input {
				t.Errorf("IsInputError(%v) = %v, want %v", err, IsInputError(err), tt.input)
			}
			if tt.sent.Units != nil {
				t.Errorf("expected units to stay untouched, got %+v", tt.sent.Units)
			}
		})
	}
}

func TestParse_MisalignedResultsAreFatal(t *testing.T) {
	pairs, dirs, rels := threeUnitStubs("su", "mod")
	// a classifier answering with the wrong number of results
	dirs.results = dirs.results[:2]
	p := initStubbed(t, remoteConfig(), pairs, &passthrough{dirs}, rels)

	err := p.Parse(context.Background(), janLooptSnel())
	if !errors.Is(err, csi.ErrMisaligned) {
		t.Fatalf("expected ErrMisaligned, got %v", err)
	}
	if !IsFatal(err) {
		t.Fatal("expected misaligned results to be fatal")
	}
}

// passthrough returns the stub's results regardless of the instance count.
type passthrough struct {
	*stub
}

func (p *passthrough) Classify(_ context.Context, _ []string) ([]classifier.Result, error) {
	p.calls.Add(1)
	return p.results, nil
}

func TestParseDocument(t *testing.T) {
	pairs, dirs, rels := threeUnitStubs("su", "mod")
	p := initStubbed(t, remoteConfig(), pairs, dirs, rels)

	doc := &common.Document{ID: "doc"}
	for i := range 10 {
		s := janLooptSnel()
		s.ID = fmt.Sprintf("doc.s.%d", i+1)
		doc.Sentences = append(doc.Sentences, s)
	}
	doc.Sentences = append(doc.Sentences, &common.Sentence{ID: "doc.s.empty"})

	if err := p.ParseDocument(context.Background(), doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	layers := doc.Dependencies()
	if len(layers) != 10 {
		t.Fatalf("expected 10 dependency layers, got %d", len(layers))
	}
	for id, layer := range layers {
		if len(layer.Dependencies) != 2 {
			t.Errorf("sentence %s: expected 2 dependencies, got %d", id, len(layer.Dependencies))
		}
		if layer.Dependencies[0].TextClass != "" {
			t.Errorf("sentence %s: expected no text class for the current class", id)
		}
	}

	if len(doc.Processors) != 1 || doc.Processors[0].Name != ProcessorName {
		t.Fatalf("expected one dep-parser processor, got %+v", doc.Processors)
	}
	proc := doc.Processors[0]
	if !strings.HasPrefix(proc.ID, ProcessorName+".") || proc.Version != config.DefaultVersion || proc.BeginDatetime == "" {
		t.Errorf("unexpected processor %+v", proc)
	}
	wantDecl := common.Declaration{Annotation: AnnotationType, Set: config.DefaultSet, Processor: proc.ID}
	if !reflect.DeepEqual(doc.Declarations, []common.Declaration{wantDecl}) {
		t.Errorf("declarations = %+v, want %+v", doc.Declarations, wantDecl)
	}

	if m := p.ClassifierMetrics(); m["pairs"].Calls != 10 {
		t.Errorf("expected 10 pair classifier calls, got %+v", m)
	}
	p.ResetMetrics()
	if m := p.ClassifierMetrics(); m["rels"].Calls != 0 {
		t.Errorf("expected reset metrics, got %+v", m)
	}
}

// trainingBase turns instances into training lines by replacing the class
// slot with the gold class.
func trainingBase(instances []string, classes []string) string {
	var b strings.Builder
	for i, inst := range instances {
		fields := strings.Fields(inst)
		fields[len(fields)-1] = classes[i]
		b.WriteString(strings.Join(fields, " "))
		b.WriteByte('\n')
	}
	return b.String()
}

func TestParse_LocalInstanceBases(t *testing.T) {
	sent := janLooptSnel()
	inst, err := BuildInstances(sent, config.DefaultMaxDepSpan, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pairClasses := make([]string, len(inst.Pairs))
	for i, d := range instance.Pairs(inst.Units.Len(), config.DefaultMaxDepSpan) {
		switch d {
		case instance.Pair{Dependent: 1, Head: instance.RootCandidate}:
			pairClasses[i] = "ROOT"
		case instance.Pair{Dependent: 0, Head: 1}:
			pairClasses[i] = "su"
		case instance.Pair{Dependent: 2, Head: 1}:
			pairClasses[i] = "mod"
		default:
			pairClasses[i] = "__"
		}
	}
	files := map[string]string{
		"/models/pairs.train": trainingBase(inst.Pairs, pairClasses),
		"/models/dir.train":   trainingBase(inst.Dirs, []string{"RIGHT", "ROOT", "LEFT"}),
		"/models/rels.train":  trainingBase(inst.Rels, []string{"su", "ROOT", "mod"}),
		"/models/filter.txt":  "# no-op filter\n",
	}

	cfg := config.New()
	cfg.Set(config.ParserSection, "pairsFile", "/models/pairs.train")
	cfg.Set(config.ParserSection, "dirFile", "/models/dir.train")
	cfg.Set(config.ParserSection, "relsFile", "/models/rels.train")
	cfg.Set(config.Global, "char_filter_file", "/models/filter.txt")

	p := NewParser(NewParserParams{
		Open: func(_ context.Context, name string) (io.ReadCloser, error) {
			data, ok := files[name]
			if !ok {
				return nil, fmt.Errorf("%s: no such file", name)
			}
			return io.NopCloser(strings.NewReader(data)), nil
		},
	})
	if err := p.Init(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected init error: %v", err)
	}
	if p.Settings().IsRemote() {
		t.Fatal("expected local classifiers")
	}

	if err := p.Parse(context.Background(), sent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := make([]string, len(sent.Units))
	for i, u := range sent.Units {
		got[i] = fmt.Sprintf("%d:%s", u.ParseIndex, u.ParseRole)
	}
	want := []string{"2:su", "0:ROOT", "2:mod"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestBuildInstances(t *testing.T) {
	inst, err := BuildInstances(janLooptSnel(), 20, units.NewCharFilter(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Units.Len() != 3 || len(inst.Dirs) != 3 || len(inst.Rels) != 3 || len(inst.Pairs) != 9 {
		t.Fatalf("unexpected instance counts: %d units, %d pairs, %d dirs, %d rels",
			inst.Units.Len(), len(inst.Pairs), len(inst.Dirs), len(inst.Rels))
	}
}

func TestAddResult_InvalidUnits(t *testing.T) {
	pairs, dirs, rels := threeUnitStubs("su", "mod")
	p := initStubbed(t, remoteConfig(), pairs, dirs, rels)

	unit := func(word string, parts []int, head int, role string) common.Unit {
		return common.Unit{Word: word, Tag: "N", Parts: parts, ParseIndex: head, ParseRole: role}
	}
	tests := []struct {
		name  string
		units []common.Unit
	}{
		{"head beyond sentence", []common.Unit{unit("Jan", []int{0}, 2, "su"), unit("loopt", []int{1}, 5, "mod")}},
		{"negative head", []common.Unit{unit("Jan", []int{0}, 2, "su"), unit("loopt", []int{1}, -1, "mod")}},
		{"self head", []common.Unit{unit("Jan", []int{0}, 2, "su"), unit("loopt", []int{1}, 2, "mod")}},
		{"cycle", []common.Unit{
			unit("Jan", []int{0}, 0, "ROOT"),
			unit("loopt", []int{1}, 3, "mod"),
			unit("snel", []int{2}, 2, "mod"),
		}},
		{"two roots", []common.Unit{unit("Jan", []int{0}, 0, "ROOT"), unit("loopt", []int{1}, 0, "ROOT")}},
		{"token out of range", []common.Unit{unit("Jan", []int{0}, 2, "su"), unit("loopt", []int{1, 7}, 0, "ROOT")}},
		{"no tokens", []common.Unit{unit("Jan", nil, 2, "su"), unit("loopt", []int{1}, 0, "ROOT")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sent := janLooptSnel()
			sent.Units = tt.units

			err := p.AddResult(&common.Document{ID: "d"}, sent)
			if !errors.Is(err, ErrInvalidResult) {
				t.Fatalf("expected ErrInvalidResult, got %v", err)
			}
			if !IsInputError(err) || IsFatal(err) {
				t.Fatalf("expected an input error, got %v", err)
			}
			if sent.Dependencies != nil {
				t.Fatalf("expected no layer, got %+v", sent.Dependencies)
			}
		})
	}
}
