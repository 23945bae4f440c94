// Package classifier defines the gateway to the memory-based classifiers
// used by the parser. Implementations live in the mbl (in-process) and
// remote (classification server) subpackages.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrConnect is returned when a classification server cannot be reached.
	ErrConnect = errors.New("classifier connection failed")
	// ErrProtocol is returned when a classification server sends something
	// that cannot be decoded, or stops answering.
	ErrProtocol = errors.New("classifier protocol error")
)

// Score is one entry of a class distribution.
type Score struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Result is the outcome of classifying one instance.
type Result struct {
	Category     string  `json:"category"`
	Confidence   float64 `json:"confidence"`
	Distribution []Score `json:"distribution"`
}

// Mass returns the summed distribution score of all labels accepted by keep,
// normalized by the total mass. It returns 0 for an empty distribution.
func (r Result) Mass(keep func(label string) bool) float64 {
	var total, kept float64
	for _, s := range r.Distribution {
		total += s.Value
		if keep(s.Label) {
			kept += s.Value
		}
	}
	if total <= 0 {
		return 0
	}
	return kept / total
}

// Score returns the normalized distribution score of label.
func (r Result) Score(label string) float64 {
	return r.Mass(func(l string) bool { return l == label })
}

// Metrics contains counters collected by a classifier.
type Metrics struct {
	Calls      int   `json:"calls"`
	Instances  int   `json:"instances"`
	DurationMs int64 `json:"duration_ms"`
}

// Classifier classifies feature instances. Results are returned in input
// order, one per instance. A Classifier is bound to one instance base for
// its whole lifetime and must be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, instances []string) ([]Result, error)

	GetMetrics() Metrics
	ResetMetrics()
}

// ParseDistribution decodes a distribution string of the form
// "{ A 0.7, B 0.3 }" into its label/score pairs.
func ParseDistribution(s string) ([]Score, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '{' || r == ',' || r == '}'
	})

	scores := make([]Score, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed distribution entry %q", part)
		}
		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed distribution value %q: %w", fields[1], err)
		}
		scores = append(scores, Score{Label: fields[0], Value: value})
	}
	return scores, nil
}

// FormatDistribution encodes scores in the distribution string format.
func FormatDistribution(scores []Score) string {
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = s.Label + " " + strconv.FormatFloat(s.Value, 'g', -1, 64)
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}
