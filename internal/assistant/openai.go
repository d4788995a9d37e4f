package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIOptions configures the OpenAI-backed Service.
type OpenAIOptions struct {
	APIKey       string
	Organization string
	// BaseURL overrides the API endpoint (tests, proxies).
	BaseURL    string
	HTTPClient *http.Client
	// MaxRetries is passed to the SDK; 0 disables SDK-level retries so that
	// the polling cadence is the only retry policy.
	MaxRetries int
}

// OpenAIService implements Service on top of the OpenAI Assistants API.
// The SDK sets the "OpenAI-Beta: assistants=v2" header on every call.
type OpenAIService struct {
	client openai.Client
}

// NewOpenAIService creates a Service for the OpenAI Assistants API.
func NewOpenAIService(opts OpenAIOptions) *OpenAIService {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.Organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(opts.Organization))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	return &OpenAIService{client: openai.NewClient(reqOpts...)}
}

func (s *OpenAIService) CreateThread(ctx context.Context) (string, error) {
	th, err := s.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", remoteError("creating thread", err)
	}
	return th.ID, nil
}

func (s *OpenAIService) AddMessage(ctx context.Context, threadID, content string) error {
	_, err := s.client.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(content),
		},
	})
	if err != nil {
		return remoteError("adding message", err)
	}
	return nil
}

func (s *OpenAIService) CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error) {
	run, err := s.client.Beta.Threads.Runs.New(ctx, threadID, openai.BetaThreadRunNewParams{
		AssistantID: assistantID,
	})
	if err != nil {
		return nil, remoteError("creating run", err)
	}
	return convertRun(run), nil
}

func (s *OpenAIService) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	run, err := s.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return nil, remoteError("fetching run", err)
	}
	return convertRun(run), nil
}

func (s *OpenAIService) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error) {
	params := openai.BetaThreadRunSubmitToolOutputsParams{
		ToolOutputs: make([]openai.BetaThreadRunSubmitToolOutputsParamsToolOutput, 0, len(outputs)),
	}
	for _, o := range outputs {
		params.ToolOutputs = append(params.ToolOutputs, openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: openai.String(o.ToolCallID),
			Output:     openai.String(o.Output),
		})
	}
	run, err := s.client.Beta.Threads.Runs.SubmitToolOutputs(ctx, threadID, runID, params)
	if err != nil {
		return nil, remoteError("submitting tool outputs", err)
	}
	return convertRun(run), nil
}

func (s *OpenAIService) CancelRun(ctx context.Context, threadID, runID string) error {
	if _, err := s.client.Beta.Threads.Runs.Cancel(ctx, threadID, runID); err != nil {
		return remoteError("cancelling run", err)
	}
	return nil
}

func (s *OpenAIService) ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	params := openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
	}
	if limit > 0 {
		params.Limit = openai.Int(int64(limit))
	}
	page, err := s.client.Beta.Threads.Messages.List(ctx, threadID, params)
	if err != nil {
		return nil, remoteError("listing messages", err)
	}

	msgs := make([]Message, 0, len(page.Data))
	for _, m := range page.Data {
		var parts []string
		for _, c := range m.Content {
			if c.Type == "text" {
				parts = append(parts, c.AsText().Text.Value)
			}
		}
		msgs = append(msgs, Message{
			ID:        m.ID,
			RunID:     m.RunID,
			Role:      Role(m.Role),
			Content:   strings.Join(parts, "\n"),
			CreatedAt: time.Unix(m.CreatedAt, 0).UTC(),
		})
	}
	return msgs, nil
}

// FunctionDef describes one function tool offered to the assistant.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// SyncTools replaces the assistant definition's tool list with defs.
func (s *OpenAIService) SyncTools(ctx context.Context, assistantID string, defs []FunctionDef) error {
	toolParams := make([]openai.AssistantToolUnionParam, 0, len(defs))
	for _, d := range defs {
		toolParams = append(toolParams, openai.AssistantToolUnionParam{
			OfFunction: &openai.FunctionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        d.Name,
					Description: openai.String(d.Description),
					Parameters:  openai.FunctionParameters(d.Parameters),
				},
			},
		})
	}
	_, err := s.client.Beta.Assistants.Update(ctx, assistantID, openai.BetaAssistantUpdateParams{
		Tools: toolParams,
	})
	if err != nil {
		return remoteError("updating assistant tools", err)
	}
	return nil
}

func convertRun(r *openai.Run) *Run {
	run := &Run{
		ID:        r.ID,
		ThreadID:  r.ThreadID,
		Status:    RunStatus(r.Status),
		LastError: r.LastError.Message,
	}
	if run.Status == StatusRequiresAction {
		for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
			run.ToolCalls = append(run.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
	}
	return run
}

// RemoteError is a failed call to the assistant service. Message carries
// the service-supplied error message when one was returned.
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func remoteError(op string, err error) error {
	re := &RemoteError{Op: op, Err: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		re.StatusCode = apiErr.StatusCode
		re.Message = apiErr.Message
	}
	return re
}
