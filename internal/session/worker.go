package session

import (
	"context"

	"github.com/fyrsmithlabs/specd/internal/docstore"
)

// Result is what a Worker returns in addition to its staged changes.
type Result struct {
	Status     docstore.ReportStatus
	Findings   []string
	Mismatches []docstore.Mismatch
}

// Worker performs one session's work through the Workspace.
type Worker interface {
	Work(ctx context.Context, ws *Workspace) (Result, error)
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, ws *Workspace) (Result, error)

// Work calls f.
func (f WorkerFunc) Work(ctx context.Context, ws *Workspace) (Result, error) {
	return f(ctx, ws)
}
