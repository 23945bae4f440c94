package parser

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	stageParse   = "parse"
	stagePrepare = "prepare"
	stagePairs   = "pairs"
	stageDir     = "dir"
	stageRels    = "rels"
	stageCSI     = "csi"

	outcomeParsed  = "parsed"
	outcomeSkipped = "skipped"
	outcomeEmpty   = "empty"
	outcomeFailed  = "failed"
)

var (
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "depparse_stage_duration_seconds",
		Help:    "Time spent in each stage of parsing a sentence.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
	}, []string{"stage"})

	sentencesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depparse_sentences_total",
		Help: "Sentences handled by the parser by outcome.",
	}, []string{"outcome"})
)

// observe records the time since start for stage and returns it.
func observe(stage string, start time.Time) time.Duration {
	d := time.Since(start)
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	return d
}
