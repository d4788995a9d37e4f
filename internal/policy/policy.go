// Package policy maps turn outcomes to an HTTP status, a Cache-Control
// directive and a response body.
package policy

import (
	"errors"
	"net/http"

	"github.com/jxucoder/threadline/internal/orchestrator"
	"github.com/jxucoder/threadline/internal/search"
)

// Cache-Control directives.
const (
	NoCache         = "no-cache"
	CompletedReply  = "s-maxage=120, stale-while-revalidate=300"
	SearchSucceeded = search.CacheControlSuccess
)

// Decision is how a response should be sent.
type Decision struct {
	Status       int
	CacheControl string
}

// For returns the decision for an outcome.
func For(outcome orchestrator.Outcome) Decision {
	switch outcome {
	case orchestrator.OutcomeCompleted:
		return Decision{Status: http.StatusOK, CacheControl: CompletedReply}
	case orchestrator.OutcomeFailed, orchestrator.OutcomeCancelled:
		return Decision{Status: http.StatusOK, CacheControl: NoCache}
	case orchestrator.OutcomeTimeout:
		return Decision{Status: http.StatusGatewayTimeout, CacheControl: NoCache}
	default:
		return Decision{Status: http.StatusInternalServerError, CacheControl: NoCache}
	}
}

// ChatBody is the JSON body of a chat response.
type ChatBody struct {
	Reply     string `json:"reply,omitempty"`
	Error     string `json:"error,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Chat classifies the result of a turn. err takes precedence over
// res.Outcome; a timeout is recognized through errors.Is.
func Chat(res orchestrator.Result, err error) (Decision, ChatBody) {
	if err == nil {
		return For(res.Outcome), ChatBody{Reply: res.Reply, SessionID: res.SessionID}
	}

	if errors.Is(err, orchestrator.ErrEmptyInput) {
		return Decision{Status: http.StatusBadRequest, CacheControl: NoCache}, ChatBody{Error: err.Error()}
	}
	outcome := orchestrator.OutcomeError
	if errors.Is(err, orchestrator.ErrTimeout) {
		outcome = orchestrator.OutcomeTimeout
	}
	return For(outcome), ChatBody{Error: err.Error(), SessionID: sessionOf(res, err)}
}

func sessionOf(res orchestrator.Result, err error) string {
	if res.SessionID != "" {
		return res.SessionID
	}
	var runErr *orchestrator.RunError
	if errors.As(err, &runErr) {
		return runErr.SessionID
	}
	return ""
}

// Search returns the decision for a search request.
func Search(err error) Decision {
	switch {
	case errors.Is(err, search.ErrQueryRequired):
		return Decision{Status: http.StatusBadRequest, CacheControl: NoCache}
	case err != nil:
		return Decision{Status: http.StatusInternalServerError, CacheControl: search.CacheControl(err)}
	}
	return Decision{Status: http.StatusOK, CacheControl: SearchSucceeded}
}
