// Package assistant defines the remote assistant service the orchestrator
// drives: threads (sessions), messages and asynchronous runs that can pause
// to request tool execution.
package assistant

import (
	"context"
	"encoding/json"
	"time"
)

// RunStatus is the remote status of a run.
type RunStatus string

const (
	StatusQueued         RunStatus = "queued"
	StatusInProgress     RunStatus = "in_progress"
	StatusRequiresAction RunStatus = "requires_action"
	StatusCancelling     RunStatus = "cancelling"
	StatusCompleted      RunStatus = "completed"
	StatusFailed         RunStatus = "failed"
	StatusCancelled      RunStatus = "cancelled"
	StatusIncomplete     RunStatus = "incomplete"
	StatusExpired        RunStatus = "expired"
)

// Terminal reports whether no further polling is meaningful.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusIncomplete, StatusExpired:
		return true
	}
	return false
}

// Role of a thread message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Run is one asynchronous execution of the assistant on a thread.
type Run struct {
	ID       string
	ThreadID string
	Status   RunStatus
	// ToolCalls is only populated while Status is StatusRequiresAction.
	ToolCalls []ToolCall
	// LastError is the remote failure message, if any.
	LastError string
}

// ToolCall is a request from the assistant to run a named function.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolOutput is the encoded result of servicing one ToolCall.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// Message is a thread message. Content is the concatenated text parts.
type Message struct {
	ID        string
	RunID     string
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Service is the remote assistant surface consumed by the orchestrator.
type Service interface {
	CreateThread(ctx context.Context) (string, error)
	AddMessage(ctx context.Context, threadID, content string) error
	CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
	// ListMessages returns the newest messages first.
	ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error)
}
