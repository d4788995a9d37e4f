// Package orchestrator drives one conversational turn against the remote
// assistant service:
//
//  1. ENSURE  - create a thread, or reuse the caller's session id verbatim
//  2. SUBMIT  - append the user message and start a run
//  3. POLL    - wait, fetch the run, service tool calls when it pauses
//  4. FINISH  - extract the reply, or cancel the run when the budget runs out
//
// The run is modelled as a small state machine. The only re-entrant
// transition is requires_action -> in_progress, taken after all tool outputs
// of a round were submitted in one batch.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jxucoder/threadline/internal/assistant"
)

// Fixed replies for outcomes that carry no assistant text.
const (
	ReplyFailed     = "Sorry, the assistant could not complete this request. Please try again."
	ReplyCancelled  = "The request was cancelled before the assistant replied. Please try again."
	ReplyNoResponse = "No valid response was received from the assistant."
)

var (
	// ErrNotConfigured is returned before any remote call when the service
	// credentials or the assistant id are missing.
	ErrNotConfigured = errors.New("assistant service is not configured")

	// ErrTimeout is returned when the run did not reach a terminal status
	// within the poll budget.
	ErrTimeout = errors.New("the assistant took too long to respond")

	// ErrEmptyInput is returned for blank user input.
	ErrEmptyInput = errors.New("input is required")
)

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeError     Outcome = "error"
)

// Result is the outcome of one turn. SessionID is set on every path that got
// as far as having a session, including error paths.
type Result struct {
	Reply      string
	SessionID  string
	RunID      string
	Outcome    Outcome
	Polls      int
	ToolRounds int
}

// RunError is a failed turn. It keeps the session id so the caller can retry
// in the same conversation.
type RunError struct {
	Op        string
	SessionID string
	RunID     string
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Dispatcher services the tool calls of one requires_action round. It must
// return exactly one output per call and never fail.
type Dispatcher interface {
	Dispatch(ctx context.Context, calls []assistant.ToolCall) []assistant.ToolOutput
}

// Config holds the orchestrator's tunables.
type Config struct {
	AssistantID  string
	PollInterval time.Duration
	MaxPolls     int
	// MessageLimit bounds how many recent messages are fetched to find the reply.
	MessageLimit int
	// CancelTimeout bounds the best-effort cancel call on timeout.
	CancelTimeout time.Duration
}

// Orchestrator runs conversational turns. It holds no per-session state and
// is safe for concurrent use across sessions.
type Orchestrator struct {
	svc    assistant.Service
	tools  Dispatcher
	cfg    Config
	clock  Clock
	logger *slog.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the wall clock used between polls.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator. svc may be nil when no credentials are
// configured; Converse then fails with ErrNotConfigured.
func New(svc assistant.Service, tools Dispatcher, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 200
	}
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = 20
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = 10 * time.Second
	}
	o := &Orchestrator{
		svc:    svc,
		tools:  tools,
		cfg:    cfg,
		clock:  RealClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Converse sends input on the session and returns the assistant's reply.
// An empty sessionID starts a new session.
func (o *Orchestrator) Converse(ctx context.Context, input, sessionID string) (Result, error) {
	res := Result{SessionID: sessionID, Outcome: OutcomeError}

	if o.svc == nil || o.cfg.AssistantID == "" {
		return res, ErrNotConfigured
	}
	if strings.TrimSpace(input) == "" {
		return res, ErrEmptyInput
	}

	if res.SessionID == "" {
		id, err := o.svc.CreateThread(ctx)
		if err != nil {
			return res, &RunError{Op: "creating session", Err: err}
		}
		res.SessionID = id
		o.logger.Info("session created", "session_id", id)
	}

	if err := o.svc.AddMessage(ctx, res.SessionID, input); err != nil {
		return res, &RunError{Op: "submitting message", SessionID: res.SessionID, Err: err}
	}

	run, err := o.svc.CreateRun(ctx, res.SessionID, o.cfg.AssistantID)
	if err != nil {
		return res, &RunError{Op: "starting run", SessionID: res.SessionID, Err: err}
	}
	res.RunID = run.ID
	log := o.logger.With("session_id", res.SessionID, "run_id", run.ID)
	log.Debug("run started", "status", run.Status)

	st := &runState{run: run}
	if err := o.drive(ctx, res.SessionID, st, log); err != nil {
		res.Polls, res.ToolRounds = st.polls, st.rounds
		return res, &RunError{Op: "polling run", SessionID: res.SessionID, RunID: run.ID, Err: err}
	}
	res.Polls, res.ToolRounds = st.polls, st.rounds

	if !st.run.Status.Terminal() {
		o.cancel(ctx, res.SessionID, run.ID, log)
		res.Outcome = OutcomeTimeout
		log.Warn("run timed out", "polls", st.polls, "budget", o.cfg.PollInterval*time.Duration(o.cfg.MaxPolls))
		return res, &RunError{Op: "waiting for run", SessionID: res.SessionID, RunID: run.ID, Err: ErrTimeout}
	}

	return o.finish(ctx, res, st.run, log)
}

// runState is the orchestrator's view of one run.
type runState struct {
	run    *assistant.Run
	polls  int
	rounds int
}

// action is what the loop does next for a given remote status.
type action int

const (
	actionWait action = iota
	actionServiceTools
	actionFinish
)

func nextAction(s assistant.RunStatus) action {
	switch {
	case s == assistant.StatusRequiresAction:
		return actionServiceTools
	case s.Terminal():
		return actionFinish
	default:
		// queued, in_progress, cancelling, and anything the service adds later.
		return actionWait
	}
}

// drive polls until the run is terminal or the poll budget is spent. It only
// returns an error for transport failures; an exhausted budget leaves the
// run in a non-terminal status.
func (o *Orchestrator) drive(ctx context.Context, threadID string, st *runState, log *slog.Logger) error {
	for st.polls < o.cfg.MaxPolls {
		if err := o.clock.Wait(ctx, o.cfg.PollInterval); err != nil {
			return err
		}

		run, err := o.svc.GetRun(ctx, threadID, st.run.ID)
		if err != nil {
			return err
		}
		st.polls++
		st.run = run

		switch nextAction(run.Status) {
		case actionWait:
			continue
		case actionFinish:
			return nil
		case actionServiceTools:
			if err := o.serviceTools(ctx, threadID, st, log); err != nil {
				return err
			}
		}
	}
	return nil
}

// serviceTools runs one requires_action round and takes the re-entrant
// transition back to in_progress.
func (o *Orchestrator) serviceTools(ctx context.Context, threadID string, st *runState, log *slog.Logger) error {
	calls := st.run.ToolCalls
	if len(calls) == 0 {
		log.Warn("run requires action without tool calls")
		return nil
	}
	if o.tools == nil {
		return fmt.Errorf("run requested %d tool calls but no tools are configured", len(calls))
	}

	outputs := o.tools.Dispatch(ctx, calls)
	if _, err := o.svc.SubmitToolOutputs(ctx, threadID, st.run.ID, outputs); err != nil {
		return err
	}
	st.rounds++
	st.run = &assistant.Run{ID: st.run.ID, ThreadID: threadID, Status: assistant.StatusInProgress}
	log.Info("tool outputs submitted", "round", st.rounds, "calls", len(calls))
	return nil
}

// cancel is the compensating step for a timed-out run. Its error is logged
// and never reaches the caller.
func (o *Orchestrator) cancel(ctx context.Context, threadID, runID string, log *slog.Logger) {
	cctx, stop := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CancelTimeout)
	defer stop()
	if err := o.svc.CancelRun(cctx, threadID, runID); err != nil {
		log.Warn("cancelling timed-out run failed", "error", err)
		return
	}
	log.Info("timed-out run cancelled")
}

func (o *Orchestrator) finish(ctx context.Context, res Result, run *assistant.Run, log *slog.Logger) (Result, error) {
	switch run.Status {
	case assistant.StatusCompleted:
	case assistant.StatusCancelled:
		res.Outcome = OutcomeCancelled
		res.Reply = ReplyCancelled
		log.Warn("run cancelled remotely")
		return res, nil
	default:
		res.Outcome = OutcomeFailed
		res.Reply = ReplyFailed
		log.Warn("run did not complete", "status", run.Status, "last_error", run.LastError)
		return res, nil
	}

	msgs, err := o.svc.ListMessages(ctx, res.SessionID, o.cfg.MessageLimit)
	if err != nil {
		return res, &RunError{Op: "fetching reply", SessionID: res.SessionID, RunID: run.ID, Err: err}
	}

	res.Outcome = OutcomeCompleted
	res.Reply = ReplyNoResponse
	if msg, ok := latestReply(msgs, run.ID); ok {
		if text := StripCitations(msg.Content); text != "" {
			res.Reply = text
		}
	}
	log.Info("run completed", "polls", res.Polls, "tool_rounds", res.ToolRounds)
	return res, nil
}

// latestReply picks the newest assistant message belonging to runID. msgs are
// newest first; messages without a run id are accepted.
func latestReply(msgs []assistant.Message, runID string) (assistant.Message, bool) {
	for _, m := range msgs {
		if m.Role != assistant.RoleAssistant {
			continue
		}
		if m.RunID == "" || m.RunID == runID {
			return m, true
		}
	}
	return assistant.Message{}, false
}

var citationPattern = regexp.MustCompile(`【[^】]*】|\[\^\d+\]`)

// StripCitations removes inline citation markers such as 【4:0†source】.
func StripCitations(s string) string {
	return strings.TrimSpace(citationPattern.ReplaceAllString(s, ""))
}
