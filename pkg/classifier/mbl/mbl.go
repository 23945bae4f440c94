// Package mbl implements an in-process memory-based classifier over a column
// format instance file: one instance per line, space separated feature
// values followed by the class.
//
// Two algorithms are supported, selected with the -a option: IB1 (-a0), a
// k-nearest-neighbor search with gain ratio weighted overlap, and IGTree
// (-a1), a decision tree over the features in gain ratio order that falls
// back to the class distribution of the deepest matching node.
package mbl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/depparse/pkg/classifier"
	"github.com/OFFIS-RIT/depparse/pkg/logger"
)

// Algorithm selects the classification algorithm.
type Algorithm int

const (
	IB1    Algorithm = 0
	IGTree Algorithm = 1
)

func (a Algorithm) String() string {
	if a == IGTree {
		return "IGTree"
	}
	return "IB1"
}

// Options are the classifier settings understood from an option string.
type Options struct {
	Algorithm Algorithm
	K         int
}

// ParseOptions reads the settings this package understands from an option
// string such as "-a1 +D -G0 +vdb+di". Unknown options are ignored.
func ParseOptions(s string) (Options, error) {
	opts := Options{Algorithm: IB1, K: 1}
	for _, opt := range strings.Fields(s) {
		switch {
		case strings.HasPrefix(opt, "-a"):
			switch strings.ToUpper(strings.TrimPrefix(opt, "-a")) {
			case "0", "IB1":
				opts.Algorithm = IB1
			case "1", "IGTREE":
				opts.Algorithm = IGTree
			default:
				return opts, fmt.Errorf("unsupported algorithm option %q", opt)
			}
		case strings.HasPrefix(opt, "-k"):
			k, err := strconv.Atoi(strings.TrimPrefix(opt, "-k"))
			if err != nil || k < 1 {
				return opts, fmt.Errorf("invalid neighbor option %q", opt)
			}
			opts.K = k
		default:
			logger.Debug("[MBL] Ignoring option", "option", opt)
		}
	}
	return opts, nil
}

type node struct {
	counts   map[string]int
	children map[string]*node
}

func newNode() *node {
	return &node{counts: make(map[string]int)}
}

// Classifier is an immutable, loaded instance base.
type Classifier struct {
	name    string
	opts    Options
	arity   int
	weights []float64
	metric  []float64
	order   []int
	freq    map[string]int

	tree      *node
	instances [][]string
	classes   []string

	metricsLock sync.Mutex
	metrics     classifier.Metrics
}

// LoadFile loads the instance base at path.
func LoadFile(path string, options string) (*Classifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open instance base: %w", err)
	}
	defer f.Close()

	return Load(path, f, options)
}

// Load reads an instance base from r. name is only used in log messages.
func Load(name string, r io.Reader, options string) (*Classifier, error) {
	opts, err := ParseOptions(options)
	if err != nil {
		return nil, err
	}

	c := &Classifier{
		name: name,
		opts: opts,
		freq: make(map[string]int),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("%s:%d: instance needs at least one feature and a class", name, line)
		}
		if c.arity == 0 {
			c.arity = len(fields) - 1
		}
		if len(fields)-1 != c.arity {
			return nil, fmt.Errorf("%s:%d: expected %d features, got %d", name, line, c.arity, len(fields)-1)
		}
		c.instances = append(c.instances, fields[:c.arity])
		c.classes = append(c.classes, fields[c.arity])
		c.freq[fields[c.arity]]++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read instance base %s: %w", name, err)
	}
	if len(c.instances) == 0 {
		return nil, fmt.Errorf("instance base %s is empty", name)
	}

	c.weights = gainRatios(c.instances, c.classes, c.arity)
	c.metric = distanceWeights(c.weights)
	c.order = make([]int, c.arity)
	for i := range c.order {
		c.order[i] = i
	}
	sort.SliceStable(c.order, func(a, b int) bool {
		return c.weights[c.order[a]] > c.weights[c.order[b]]
	})

	if opts.Algorithm == IGTree {
		c.tree = newNode()
		for i, inst := range c.instances {
			n := c.tree
			n.counts[c.classes[i]]++
			for _, f := range c.order {
				if n.children == nil {
					n.children = make(map[string]*node)
				}
				child, ok := n.children[inst[f]]
				if !ok {
					child = newNode()
					n.children[inst[f]] = child
				}
				child.counts[c.classes[i]]++
				n = child
			}
		}
		// the tree holds everything needed from here on
		c.instances = nil
		c.classes = nil
	}

	logger.Info("[MBL] Loaded instance base", "name", name, "features", c.arity, "algorithm", opts.Algorithm, "k", opts.K)
	return c, nil
}

// Weights returns the gain ratio of every feature.
func (c *Classifier) Weights() []float64 {
	return append([]float64(nil), c.weights...)
}

// Classify classifies every instance. The trailing class slot of each
// instance is ignored.
func (c *Classifier) Classify(ctx context.Context, instances []string) ([]classifier.Result, error) {
	start := time.Now()
	results := make([]classifier.Result, 0, len(instances))
	for i, inst := range instances {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fields := strings.Fields(inst)
		if len(fields) != c.arity+1 {
			return nil, fmt.Errorf("instance %d has %d features, base %s expects %d", i, len(fields)-1, c.name, c.arity)
		}
		features := fields[:c.arity]

		var counts map[string]int
		if c.opts.Algorithm == IGTree {
			counts = c.lookup(features)
		} else {
			counts = c.nearest(features)
		}
		results = append(results, c.result(counts))
	}

	c.metricsLock.Lock()
	c.metrics.Calls++
	c.metrics.Instances += len(instances)
	c.metrics.DurationMs += time.Since(start).Milliseconds()
	c.metricsLock.Unlock()

	return results, nil
}

// GetMetrics returns the counters collected since the last reset.
func (c *Classifier) GetMetrics() classifier.Metrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

// ResetMetrics clears the collected counters.
func (c *Classifier) ResetMetrics() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics = classifier.Metrics{}
}

func (c *Classifier) lookup(features []string) map[string]int {
	n := c.tree
	for _, f := range c.order {
		child, ok := n.children[features[f]]
		if !ok {
			break
		}
		n = child
	}
	return n.counts
}

func (c *Classifier) nearest(features []string) map[string]int {
	distances := make([]float64, len(c.instances))
	for i, inst := range c.instances {
		var d float64
		for f := range c.arity {
			if inst[f] != features[f] {
				d += c.metric[f]
			}
		}
		distances[i] = d
	}

	// k counts distinct distances, not instances
	levels := append([]float64(nil), distances...)
	sort.Float64s(levels)
	cutoff := levels[0]
	seen := 1
	for _, d := range levels[1:] {
		if seen >= c.opts.K {
			break
		}
		if d != cutoff {
			cutoff = d
			seen++
		}
	}

	counts := make(map[string]int)
	for i, d := range distances {
		if d <= cutoff {
			counts[c.classes[i]]++
		}
	}
	return counts
}

// distanceWeights falls back to plain overlap when no feature carries any
// information.
func distanceWeights(weights []float64) []float64 {
	metric := append([]float64(nil), weights...)
	for _, w := range weights {
		if w > 0 {
			return metric
		}
	}
	for i := range metric {
		metric[i] = 1
	}
	return metric
}

func (c *Classifier) result(counts map[string]int) classifier.Result {
	dist := make([]classifier.Score, 0, len(counts))
	total := 0
	for label, n := range counts {
		dist = append(dist, classifier.Score{Label: label, Value: float64(n)})
		total += n
	}
	sort.Slice(dist, func(a, b int) bool {
		if dist[a].Value != dist[b].Value {
			return dist[a].Value > dist[b].Value
		}
		fa, fb := c.freq[dist[a].Label], c.freq[dist[b].Label]
		if fa != fb {
			return fa > fb
		}
		return dist[a].Label < dist[b].Label
	})
	if len(dist) == 0 {
		return classifier.Result{}
	}

	return classifier.Result{
		Category:     dist[0].Label,
		Confidence:   dist[0].Value / float64(total),
		Distribution: dist,
	}
}

func entropy(counts map[string]int, total int) float64 {
	var h float64
	for _, n := range counts {
		if n == 0 {
			continue
		}
		p := float64(n) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

func gainRatios(instances [][]string, classes []string, arity int) []float64 {
	total := len(instances)
	classCounts := make(map[string]int)
	for _, c := range classes {
		classCounts[c]++
	}
	hc := entropy(classCounts, total)

	weights := make([]float64, arity)
	for f := range arity {
		perValue := make(map[string]map[string]int)
		valueCounts := make(map[string]int)
		for i, inst := range instances {
			v := inst[f]
			if perValue[v] == nil {
				perValue[v] = make(map[string]int)
			}
			perValue[v][classes[i]]++
			valueCounts[v]++
		}

		var conditional float64
		for v, counts := range perValue {
			conditional += float64(valueCounts[v]) / float64(total) * entropy(counts, valueCounts[v])
		}
		split := entropy(valueCounts, total)
		if split > 0 {
			weights[f] = (hc - conditional) / split
		}
	}
	return weights
}
