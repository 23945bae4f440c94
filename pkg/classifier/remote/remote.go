// Package remote implements classifier.Classifier against a memory-based
// classification server speaking newline-delimited JSON over TCP.
package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/depparse/pkg/classifier"
	"github.com/OFFIS-RIT/depparse/pkg/logger"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/semaphore"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxConnections = 16
)

// Client classifies instances against one named base on a classification
// server. Every call opens its own connection.
type Client struct {
	addr    string
	base    string
	timeout time.Duration
	dialer  *net.Dialer

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     classifier.Metrics
}

// NewClientParams contains the settings for a new Client.
type NewClientParams struct {
	Host string
	Port string
	Base string

	// Timeout bounds the connect and every read or write. Defaults to 30s.
	Timeout time.Duration
	// MaxConnections limits the number of simultaneously open connections.
	// Defaults to 16.
	MaxConnections int64
}

// NewClient creates a Client for the given server and base.
func NewClient(params NewClientParams) *Client {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxConns := params.MaxConnections
	if maxConns <= 0 {
		maxConns = defaultMaxConnections
	}

	return &Client{
		addr:    net.JoinHostPort(params.Host, params.Port),
		base:    params.Base,
		timeout: timeout,
		dialer:  &net.Dialer{Timeout: timeout},
		reqLock: semaphore.NewWeighted(maxConns),
	}
}

type command struct {
	Command string   `json:"command"`
	Param   string   `json:"param,omitempty"`
	Params  []string `json:"params,omitempty"`
}

// Classify sends all instances in a single classify command and returns one
// result per instance. Failing to connect yields classifier.ErrConnect, any
// undecodable or missing answer classifier.ErrProtocol. When ctx ends first
// its error is returned instead.
func (c *Client) Classify(ctx context.Context, instances []string) ([]classifier.Result, error) {
	if len(instances) == 0 {
		return nil, nil
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	results, err := c.call(ctx, instances)
	if err != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("classify %s: %w", c.base, ctx.Err())
	}
	return results, err
}

func (c *Client) call(ctx context.Context, instances []string) ([]classifier.Result, error) {
	start := time.Now()

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		logger.Error("[Classifier] Failed to open connection", "addr", c.addr, "base", c.base, "err", err)
		return nil, fmt.Errorf("%w: %s: %v", classifier.ErrConnect, c.addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: %v", classifier.ErrConnect, err)
	}

	r := bufio.NewReader(conn)
	logger.Debug("[Classifier] Calling server", "base", c.base, "instances", len(instances))

	greeting, err := readJSONLine(r, "greeting")
	if err != nil {
		return nil, err
	}
	logger.Debug("[Classifier] Received greeting", "base", c.base, "data", greeting)

	if err := writeCommand(conn, command{Command: "base", Param: c.base}); err != nil {
		return nil, err
	}
	ack, err := readJSONLine(r, "base acknowledgement")
	if err != nil {
		return nil, err
	}
	logger.Debug("[Classifier] Base selected", "base", c.base, "data", ack)

	query := command{Command: "classify", Params: instances}
	if err := writeCommand(conn, query); err != nil {
		return nil, err
	}
	reply, err := readLine(r, "classify reply")
	if err != nil {
		logRequest(c.base, query)
		return nil, err
	}

	results, err := DecodeReply(reply)
	if err != nil {
		logger.Error("[Classifier] Malformed reply", "base", c.base, "reply", reply, "err", err)
		logRequest(c.base, query)
		return nil, err
	}
	if len(results) != len(instances) {
		logRequest(c.base, query)
		return nil, fmt.Errorf("%w: expected %d results, got %d", classifier.ErrProtocol, len(instances), len(results))
	}

	c.metricsLock.Lock()
	c.metrics.Calls++
	c.metrics.Instances += len(instances)
	c.metrics.DurationMs += time.Since(start).Milliseconds()
	c.metricsLock.Unlock()

	return results, nil
}

// GetMetrics returns the counters collected since the last reset.
func (c *Client) GetMetrics() classifier.Metrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

// ResetMetrics clears the collected counters.
func (c *Client) ResetMetrics() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics = classifier.Metrics{}
}

// DecodeReply decodes a classify reply, which is either a single result
// object or an array of them.
func DecodeReply(line string) ([]classifier.Result, error) {
	if !gjson.Valid(line) {
		return nil, fmt.Errorf("%w: reply is not valid json", classifier.ErrProtocol)
	}

	reply := gjson.Parse(line)
	var items []gjson.Result
	switch {
	case reply.IsArray():
		items = reply.Array()
	case reply.IsObject():
		items = []gjson.Result{reply}
	default:
		return nil, fmt.Errorf("%w: unexpected reply type %s", classifier.ErrProtocol, reply.Type)
	}

	results := make([]classifier.Result, 0, len(items))
	for i, item := range items {
		category := item.Get("category")
		if category.Type != gjson.String {
			return nil, fmt.Errorf("%w: result %d has no category", classifier.ErrProtocol, i)
		}

		confidence := 0.0
		if conf := item.Get("confidence"); conf.Exists() {
			if conf.Type != gjson.Number {
				return nil, fmt.Errorf("%w: result %d has a non-numeric confidence", classifier.ErrProtocol, i)
			}
			confidence = conf.Float()
		}

		dist := item.Get("distribution")
		if dist.Type != gjson.String {
			return nil, fmt.Errorf("%w: result %d has no distribution", classifier.ErrProtocol, i)
		}
		scores, err := classifier.ParseDistribution(dist.String())
		if err != nil {
			return nil, fmt.Errorf("%w: result %d: %v", classifier.ErrProtocol, i, err)
		}

		results = append(results, classifier.Result{
			Category:     category.String(),
			Confidence:   confidence,
			Distribution: scores,
		})
	}
	return results, nil
}

func writeCommand(conn net.Conn, cmd command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode %s command: %w", cmd.Command, err)
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("%w: sending %s command: %v", classifier.ErrProtocol, cmd.Command, err)
	}
	return nil
}

func readLine(r *bufio.Reader, what string) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", fmt.Errorf("%w: timed out waiting for %s", classifier.ErrProtocol, what)
		}
		// an unterminated last line before EOF still counts
		if !errors.Is(err, io.EOF) || line == "" {
			return "", fmt.Errorf("%w: reading %s: %v", classifier.ErrProtocol, what, err)
		}
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readJSONLine(r *bufio.Reader, what string) (string, error) {
	line, err := readLine(r, what)
	if err != nil {
		return "", err
	}
	if !gjson.Valid(line) {
		logger.Error("[Classifier] JSON parsing failed", "what", what, "line", line)
		return "", fmt.Errorf("%w: %s is not valid json", classifier.ErrProtocol, what)
	}
	return line, nil
}

func logRequest(base string, query command) {
	payload, _ := json.MarshalIndent(query, "", "  ")
	logger.Error("[Classifier] The request to the server was", "base", base, "request", string(payload))
}
