package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/OFFIS-RIT/depparse/pkg/classifier"
)

// fakeServer accepts one connection per call and answers the classify
// command with reply(params).
type fakeServer struct {
	ln       net.Listener
	greeting string
	reply    func(base string, params []string) string
	bases    chan string
}

func newFakeServer(t *testing.T, reply func(base string, params []string) string) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	s := &fakeServer{
		ln:       ln,
		greeting: `{"status":"ok","message":"Welcome to the Timbl server."}`,
		reply:    reply,
		bases:    make(chan string, 16),
	}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	conn.Write([]byte(s.greeting + "\n"))

	var base struct {
		Command string `json:"command"`
		Param   string `json:"param"`
	}
	line, err := r.ReadString('\n')
	if err != nil || json.Unmarshal([]byte(line), &base) != nil || base.Command != "base" {
		return
	}
	s.bases <- base.Param
	conn.Write([]byte(`{"status":"ok","base":"` + base.Param + `"}` + "\n"))

	var query struct {
		Command string   `json:"command"`
		Params  []string `json:"params"`
	}
	line, err = r.ReadString('\n')
	if err != nil || json.Unmarshal([]byte(line), &query) != nil || query.Command != "classify" {
		return
	}
	reply := s.reply(base.Param, query.Params)
	if reply == "" {
		// never answer
		time.Sleep(time.Second)
		return
	}
	conn.Write([]byte(reply + "\n"))
}

func (s *fakeServer) client(timeout time.Duration) *Client {
	host, port, _ := net.SplitHostPort(s.ln.Addr().String())
	return NewClient(NewClientParams{Host: host, Port: port, Base: "dir", Timeout: timeout})
}

func TestClassify_ArrayReply(t *testing.T) {
	srv := newFakeServer(t, func(base string, params []string) string {
		out := make([]map[string]any, len(params))
		for i := range params {
			out[i] = map[string]any{
				"category":     "LEFT",
				"confidence":   0.75,
				"distribution": "{ LEFT 3, RIGHT 1 }",
			}
		}
		b, _ := json.Marshal(out)
		return string(b)
	})

	c := srv.client(time.Second)
	results, err := c.Classify(context.Background(), []string{"a b ROOT", "c d ROOT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := <-srv.bases; got != "dir" {
		t.Fatalf("expected base dir, got %q", got)
	}

	want := classifier.Result{
		Category:     "LEFT",
		Confidence:   0.75,
		Distribution: []classifier.Score{{Label: "LEFT", Value: 3}, {Label: "RIGHT", Value: 1}},
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for i, r := range results {
		if !reflect.DeepEqual(r, want) {
			t.Errorf("result %d = %+v, want %+v", i, r, want)
		}
	}

	m := c.GetMetrics()
	if m.Calls != 1 || m.Instances != 2 {
		t.Errorf("unexpected metrics %+v", m)
	}
	c.ResetMetrics()
	if m := c.GetMetrics(); m.Calls != 0 {
		t.Errorf("expected reset metrics, got %+v", m)
	}
}

func TestClassify_SingleObjectReply(t *testing.T) {
	srv := newFakeServer(t, func(string, []string) string {
		return `{"category":"su","distribution":"{A 0.7,B 0.3}"}`
	})

	results, err := srv.client(time.Second).Classify(context.Background(), []string{"x __"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Confidence != 0.0 {
		t.Errorf("expected default confidence 0, got %f", results[0].Confidence)
	}
	want := []classifier.Score{{Label: "A", Value: 0.7}, {Label: "B", Value: 0.3}}
	if !reflect.DeepEqual(results[0].Distribution, want) {
		t.Errorf("expected distribution %v, got %v", want, results[0].Distribution)
	}
}

func TestClassify_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"not json", "this is not json"},
		{"missing category", `[{"distribution":"{A 1}"}]`},
		{"missing distribution", `[{"category":"A"}]`},
		{"bad distribution", `[{"category":"A","distribution":"{A}"}]`},
		{"string confidence", `[{"category":"A","confidence":"high","distribution":"{A 1}"}]`},
		{"too few results", `[]`},
		{"scalar", `42`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeServer(t, func(string, []string) string { return tt.reply })
			_, err := srv.client(time.Second).Classify(context.Background(), []string{"x __"})
			if !errors.Is(err, classifier.ErrProtocol) {
				t.Fatalf("expected ErrProtocol, got %v", err)
			}
		})
	}
}

func TestClassify_Timeout(t *testing.T) {
	srv := newFakeServer(t, func(string, []string) string { return "" })

	_, err := srv.client(100*time.Millisecond).Classify(context.Background(), []string{"x __"})
	if !errors.Is(err, classifier.ErrProtocol) {
		t.Fatalf("expected ErrProtocol on timeout, got %v", err)
	}
}

func TestClassify_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	host, port, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()

	c := NewClient(NewClientParams{Host: host, Port: port, Base: "pairs", Timeout: time.Second})
	_, err = c.Classify(context.Background(), []string{"x __"})
	if !errors.Is(err, classifier.ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
}

func TestClassify_Cancelled(t *testing.T) {
	srv := newFakeServer(t, func(string, []string) string { return "" })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := srv.client(time.Second).Classify(ctx, []string{"x __"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, classifier.ErrConnect) || errors.Is(err, classifier.ErrProtocol) {
		t.Fatalf("cancellation must not look fatal, got %v", err)
	}
}

func TestClassify_NoInstances(t *testing.T) {
	c := NewClient(NewClientParams{Host: "127.0.0.1", Port: "1", Base: "rels"})
	results, err := c.Classify(context.Background(), nil)
	if err != nil || results != nil {
		t.Fatalf("expected no results and no error, got %v, %v", results, err)
	}
}
