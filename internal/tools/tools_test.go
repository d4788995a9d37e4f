package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/jxucoder/threadline/internal/assistant"
	"github.com/jxucoder/threadline/internal/search"
)

type fakeSearcher struct {
	resp  *search.Response
	err   error
	calls atomic.Int32
	last  search.Query
}

func (f *fakeSearcher) Search(ctx context.Context, q search.Query) (*search.Response, error) {
	f.calls.Add(1)
	f.last = q
	return f.resp, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDispatcher(t *testing.T, tools ...Tool) *Dispatcher {
	t.Helper()
	reg, err := NewRegistry(tools...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return NewDispatcher(reg, 4, quietLogger())
}

func decodeOutput(t *testing.T, out assistant.ToolOutput) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(out.Output), &m); err != nil {
		t.Fatalf("output %q is not JSON: %v", out.Output, err)
	}
	return m
}

func TestDispatchWebSearch(t *testing.T) {
	answer := "Adoption is growing."
	s := &fakeSearcher{resp: &search.Response{
		Results: []search.Result{{Title: "T", URL: "https://example.com", Content: "c", Score: 0.5}},
		Answer:  &answer,
	}}
	d := newDispatcher(t, WebSearch(s))

	outs := d.Dispatch(context.Background(), []assistant.ToolCall{{
		ID: "call_1", Name: "web_search", Arguments: json.RawMessage(`{"query":"AI adoption Jamaica"}`),
	}})
	if len(outs) != 1 || outs[0].ToolCallID != "call_1" {
		t.Fatalf("unexpected outputs %+v", outs)
	}
	m := decodeOutput(t, outs[0])
	if m["answer"] != answer {
		t.Fatalf("unexpected payload %v", m)
	}
	if s.last.Query != "AI adoption Jamaica" {
		t.Fatalf("query not decoded: %+v", s.last)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	d := newDispatcher(t)
	outs := d.Dispatch(context.Background(), []assistant.ToolCall{{ID: "c1", Name: "get_weather", Arguments: json.RawMessage(`{}`)}})
	if len(outs) != 1 {
		t.Fatalf("got %d outputs", len(outs))
	}
	if outs[0].Output != `{"error":"Unknown function"}` {
		t.Fatalf("unexpected output %q", outs[0].Output)
	}
}

func TestDispatchMalformedArguments(t *testing.T) {
	s := &fakeSearcher{}
	d := newDispatcher(t, WebSearch(s))

	outs := d.Dispatch(context.Background(), []assistant.ToolCall{{ID: "c1", Name: "web_search", Arguments: json.RawMessage(`{"query":`)}})
	if len(outs) != 1 || outs[0].ToolCallID != "c1" {
		t.Fatalf("unexpected outputs %+v", outs)
	}
	m := decodeOutput(t, outs[0])
	if _, ok := m["error"]; !ok {
		t.Fatalf("missing error field: %v", m)
	}
	if results, ok := m["results"].([]any); !ok || len(results) != 0 {
		t.Fatalf("expected empty results, got %v", m["results"])
	}
	if s.calls.Load() != 0 {
		t.Fatal("handler must not run on undecodable arguments")
	}
}

func TestDispatchMissingSearchKey(t *testing.T) {
	s := &fakeSearcher{err: search.ErrNotConfigured}
	d := newDispatcher(t, WebSearch(s))

	outs := d.Dispatch(context.Background(), []assistant.ToolCall{{ID: "c1", Name: "web_search", Arguments: json.RawMessage(`{"query":"q"}`)}})
	if outs[0].Output != `{"error":"Tavily API key missing","results":[]}` {
		t.Fatalf("unexpected output %q", outs[0].Output)
	}
}

func TestDispatchPanicIsIsolated(t *testing.T) {
	boom := New("boom", "panics", func(ctx context.Context, in struct{}) (any, error) {
		panic("kaboom")
	})
	d := newDispatcher(t, boom)

	outs := d.Dispatch(context.Background(), []assistant.ToolCall{{ID: "c1", Name: "boom", Arguments: json.RawMessage(`{}`)}})
	m := decodeOutput(t, outs[0])
	if m["error"] != "tool panicked: kaboom" {
		t.Fatalf("unexpected payload %v", m)
	}
}

func TestDispatchCompleteness(t *testing.T) {
	ok := New("ok", "succeeds", func(ctx context.Context, in struct {
		N int `json:"n"`
	}) (any, error) {
		return map[string]int{"n": in.N}, nil
	})
	fail := New("fail", "fails", func(ctx context.Context, in struct{}) (any, error) {
		return nil, errors.New("nope")
	})
	d := newDispatcher(t, ok, fail)

	var calls []assistant.ToolCall
	for i := 0; i < 20; i++ {
		name := []string{"ok", "fail", "missing"}[i%3]
		calls = append(calls, assistant.ToolCall{
			ID:        fmt.Sprintf("call_%d", i),
			Name:      name,
			Arguments: json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
		})
	}

	outs := d.Dispatch(context.Background(), calls)
	if len(outs) != len(calls) {
		t.Fatalf("got %d outputs for %d calls", len(outs), len(calls))
	}
	seen := map[string]bool{}
	for i, out := range outs {
		if out.ToolCallID != calls[i].ID {
			t.Fatalf("output %d has id %q, want %q", i, out.ToolCallID, calls[i].ID)
		}
		if seen[out.ToolCallID] {
			t.Fatalf("duplicate output for %q", out.ToolCallID)
		}
		seen[out.ToolCallID] = true
		if !json.Valid([]byte(out.Output)) {
			t.Fatalf("output %q is not JSON", out.Output)
		}
	}
}

func TestDispatchSequentialMatchesConcurrent(t *testing.T) {
	echo := New("echo", "echoes", func(ctx context.Context, in map[string]any) (any, error) {
		return in, nil
	})
	reg, err := NewRegistry(echo)
	if err != nil {
		t.Fatal(err)
	}
	calls := []assistant.ToolCall{
		{ID: "a", Name: "echo", Arguments: json.RawMessage(`{"v":1}`)},
		{ID: "b", Name: "nope", Arguments: json.RawMessage(`{}`)},
		{ID: "c", Name: "echo", Arguments: json.RawMessage(`not json`)},
	}

	seq := NewDispatcher(reg, 1, quietLogger()).Dispatch(context.Background(), calls)
	par := NewDispatcher(reg, 8, quietLogger()).Dispatch(context.Background(), calls)
	for i := range seq {
		if seq[i] != par[i] {
			t.Fatalf("output %d differs: %+v vs %+v", i, seq[i], par[i])
		}
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	s := &fakeSearcher{}
	if _, err := NewRegistry(WebSearch(s), WebSearch(s)); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestRegistryNames(t *testing.T) {
	noop := func(ctx context.Context, in struct{}) (any, error) { return nil, nil }
	reg, err := NewRegistry(New("zeta", "z", noop), WebSearch(&fakeSearcher{}), New("alpha", "a", noop))
	if err != nil {
		t.Fatal(err)
	}
	got := reg.Names()
	want := []string{"alpha", "web_search", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names = %v, want %v", got, want)
		}
	}
}

func TestDefinitions(t *testing.T) {
	reg, err := NewRegistry(WebSearch(&fakeSearcher{}))
	if err != nil {
		t.Fatal(err)
	}
	defs := reg.Definitions()
	if len(defs) != 1 || defs[0].Name != "web_search" {
		t.Fatalf("unexpected definitions %+v", defs)
	}
	params := defs[0].Parameters
	if params["type"] != "object" {
		t.Fatalf("schema type = %v", params["type"])
	}
	if _, ok := params["$schema"]; ok {
		t.Fatal("$schema must be stripped")
	}
	props, ok := params["properties"].(map[string]any)
	if !ok {
		t.Fatalf("missing properties: %v", params)
	}
	for _, field := range []string{"query", "max_results", "include_domains"} {
		if _, ok := props[field]; !ok {
			t.Errorf("missing property %q", field)
		}
	}
	required, _ := params["required"].([]any)
	if len(required) != 1 || required[0] != "query" {
		t.Fatalf("required = %v, want [query]", params["required"])
	}
}
