package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/faults"
	"github.com/fyrsmithlabs/specd/internal/procgroup"
)

// ErrWorkerFailed is returned when an external worker cannot run or exits
// non-zero.
var ErrWorkerFailed = faults.New("worker failed", faults.CodeUnavailable, faults.ClassInfrastructure)

// Action ops understood by ExecWorker.
const (
	OpRead         = "read"
	OpWrite        = "write"
	OpWriteFeature = "write_feature"
	OpDelete       = "delete"
	OpCompleteTask = "complete_task"
	OpRunCheck     = "run_check"
	OpTransition   = "transition"
	OpSpawn        = "spawn"
)

// Action is one step of an external worker's script.
type Action struct {
	Op      string                `json:"op"`
	Kind    docstore.ArtifactKind `json:"kind,omitempty"`
	Name    string                `json:"name,omitempty"`
	Content string                `json:"content,omitempty"`
	Task    string                `json:"task,omitempty"`
	Check   string                `json:"check,omitempty"`
	To      docstore.Status       `json:"to,omitempty"`
	Role    string                `json:"role,omitempty"`
}

// Script is the JSON document an external worker prints on stdout.
type Script struct {
	Status     docstore.ReportStatus `json:"status"`
	Findings   []string              `json:"findings,omitempty"`
	Mismatches []docstore.Mismatch   `json:"mismatches,omitempty"`
	Actions    []Action              `json:"actions,omitempty"`
}

// ExecWorker runs an external agent process. The session Snapshot is
// written to its stdin as JSON; its stdout must be a Script. Each action is
// replayed through the Workspace, so the role's capabilities bind the
// external agent exactly as they bind in-process workers.
type ExecWorker struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
}

// Work runs the command and replays its script.
func (e *ExecWorker) Work(ctx context.Context, ws *Workspace) (Result, error) {
	input, err := json.Marshal(ws.Snapshot())
	if err != nil {
		return Result{}, fmt.Errorf("marshal snapshot: %w", err)
	}

	cmd := procgroup.Command(ctx, e.Command, e.Args...)
	cmd.Dir = e.Dir
	cmd.Env = append(cmd.Environ(), e.Env...)
	cmd.Env = append(cmd.Env, "SPECD_ROLE="+ws.Role(), "SPECD_SPEC_ID="+ws.Snapshot().SpecID)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("%w: %s: %v: %s", ErrWorkerFailed, e.Command, err, strings.TrimSpace(stderr.String()))
	}

	var script Script
	if err := json.Unmarshal(stdout.Bytes(), &script); err != nil {
		return Result{}, fmt.Errorf("%w: decode worker script: %v", docstore.ErrInvalidInput, err)
	}
	if err := Replay(ws, script.Actions); err != nil {
		return Result{}, err
	}
	return Result{Status: script.Status, Findings: script.Findings, Mismatches: script.Mismatches}, nil
}

// Replay executes actions in order through ws, stopping at the first error.
func Replay(ws *Workspace, actions []Action) error {
	for i, a := range actions {
		var err error
		switch a.Op {
		case OpRead:
			_, err = ws.Read(a.Kind)
		case OpWrite:
			err = ws.Write(a.Kind, a.Content)
		case OpWriteFeature:
			err = ws.WriteFeature(a.Name, a.Content)
		case OpDelete:
			err = ws.Delete(a.Kind)
		case OpCompleteTask:
			err = ws.CompleteTask(a.Task)
		case OpRunCheck:
			_, err = ws.RunCheck(a.Check)
		case OpTransition:
			err = ws.Transition(a.To)
		case OpSpawn:
			err = ws.Spawn(a.Role)
		default:
			err = fmt.Errorf("%w: unknown op %q", docstore.ErrInvalidInput, a.Op)
		}
		if err != nil {
			return fmt.Errorf("action %d (%s): %w", i, a.Op, err)
		}
	}
	return nil
}
