// Package worker invokes external worker sessions. A Session is the
// opaque capability that turns a task into text; the Invoker wraps any
// Session with model resolution, per-task deadlines and result capture.
package worker

import (
	"context"
	"strings"
)

// Request is what a worker session receives. Model is the resolved
// backend id, not the alias.
type Request struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
	Role      string `json:"role"`
	Effort    string `json:"effort"`
	Task      string `json:"task"`

	// TimeoutSeconds lets remote workers stop on the same deadline the
	// caller enforces.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

type Response struct {
	ExitStatus int    `json:"exit_status"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr,omitempty"`
}

// Session runs one request. A returned error means the call could not be
// carried out at all; a worker that ran and failed reports a non-zero
// ExitStatus instead.
type Session interface {
	Call(ctx context.Context, req Request) (Response, error)
}

// expandArgs substitutes request fields into argument templates.
func expandArgs(args []string, req Request) []string {
	r := strings.NewReplacer(
		"{model}", req.Model,
		"{role}", req.Role,
		"{effort}", req.Effort,
		"{session_id}", req.SessionID,
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

func requestEnv(req Request) []string {
	return []string{
		"CONCLAVE_SESSION_ID=" + req.SessionID,
		"CONCLAVE_MODEL=" + req.Model,
		"CONCLAVE_ROLE=" + req.Role,
		"CONCLAVE_EFFORT=" + req.Effort,
	}
}
