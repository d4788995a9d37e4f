package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestService(t *testing.T, mux *http.ServeMux) *OpenAIService {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewOpenAIService(OpenAIOptions{
		APIKey:       "sk-test",
		Organization: "org-test",
		BaseURL:      srv.URL + "/v1/",
	})
}

func TestOpenAIHeaders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/threads", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("OpenAI-Beta"); got != "assistants=v2" {
			t.Errorf("OpenAI-Beta = %q", got)
		}
		if got := r.Header.Get("OpenAI-Organization"); got != "org-test" {
			t.Errorf("OpenAI-Organization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"thread_1","object":"thread","created_at":1}`)
	})
	svc := newTestService(t, mux)

	id, err := svc.CreateThread(context.Background())
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if id != "thread_1" {
		t.Fatalf("thread id = %q", id)
	}
}

func TestOpenAIRequiresActionRun(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/threads/thread_1/runs/run_1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id":"run_1","thread_id":"thread_1","status":"requires_action",
			"required_action":{"type":"submit_tool_outputs","submit_tool_outputs":{"tool_calls":[
				{"id":"call_1","type":"function","function":{"name":"web_search","arguments":"{\"query\":\"AI adoption Jamaica\"}"}}
			]}}
		}`)
	})
	svc := newTestService(t, mux)

	run, err := svc.GetRun(context.Background(), "thread_1", "run_1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != StatusRequiresAction {
		t.Fatalf("status = %s", run.Status)
	}
	if len(run.ToolCalls) != 1 || run.ToolCalls[0].ID != "call_1" || run.ToolCalls[0].Name != "web_search" {
		t.Fatalf("unexpected tool calls %+v", run.ToolCalls)
	}
	var args map[string]string
	if err := json.Unmarshal(run.ToolCalls[0].Arguments, &args); err != nil || args["query"] != "AI adoption Jamaica" {
		t.Fatalf("unexpected arguments %s (%v)", run.ToolCalls[0].Arguments, err)
	}
}

func TestOpenAISubmitToolOutputs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/threads/thread_1/runs/run_1/submit_tool_outputs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ToolOutputs []ToolOutput `json:"tool_outputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(body.ToolOutputs) != 2 || body.ToolOutputs[1].ToolCallID != "call_2" {
			t.Errorf("unexpected outputs %+v", body.ToolOutputs)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"run_1","thread_id":"thread_1","status":"queued"}`)
	})
	svc := newTestService(t, mux)

	run, err := svc.SubmitToolOutputs(context.Background(), "thread_1", "run_1", []ToolOutput{
		{ToolCallID: "call_1", Output: `{"ok":true}`},
		{ToolCallID: "call_2", Output: `{"error":"Unknown function"}`},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if run.Status != StatusQueued {
		t.Fatalf("status = %s", run.Status)
	}
}

func TestOpenAIListMessages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("order"); got != "desc" {
			t.Errorf("order = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"object":"list","has_more":false,"data":[
			{"id":"msg_2","role":"assistant","run_id":"run_1","created_at":20,
			 "content":[{"type":"text","text":{"value":"Hello","annotations":[]}},{"type":"text","text":{"value":"world","annotations":[]}}]},
			{"id":"msg_1","role":"user","created_at":10,
			 "content":[{"type":"text","text":{"value":"Hi","annotations":[]}}]}
		]}`)
	})
	svc := newTestService(t, mux)

	msgs, err := svc.ListMessages(context.Background(), "thread_1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].Role != RoleAssistant || msgs[0].Content != "Hello\nworld" || msgs[0].RunID != "run_1" {
		t.Fatalf("unexpected newest message %+v", msgs[0])
	}
}

func TestOpenAIRemoteErrorMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/threads/thread_x/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"message":"No thread found with id 'thread_x'.","type":"invalid_request_error","param":null,"code":null}}`)
	})
	svc := newTestService(t, mux)

	err := svc.AddMessage(context.Background(), "thread_x", "hello")
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if re.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", re.StatusCode)
	}
	if re.Error() != "adding message: No thread found with id 'thread_x'." {
		t.Fatalf("message = %q", re.Error())
	}
}

func TestRunStatusTerminal(t *testing.T) {
	for _, s := range []RunStatus{StatusQueued, StatusInProgress, StatusRequiresAction, StatusCancelling} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []RunStatus{StatusCompleted, StatusFailed, StatusCancelled, StatusIncomplete, StatusExpired} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}
