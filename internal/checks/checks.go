// Package checks provides the tool collaborators run by verification and
// implementation sessions.
//
// A tool is opaque: it is given a check name and returns a
// {name, pass|fail, detail} record. Command-backed checkers treat exit
// status zero as pass and any other exit status as fail.
package checks

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/faults"
	"github.com/fyrsmithlabs/specd/internal/procgroup"
)

const (
	defaultTimeout = 2 * time.Minute
	maxDetailBytes = 4 * 1024
)

var (
	// ErrUnknownCheck is returned for names not in the Set.
	ErrUnknownCheck = faults.New("unknown check", faults.CodeNotFound, faults.ClassProtocol)
	// ErrToolUnavailable is returned when a tool cannot be started.
	ErrToolUnavailable = faults.New("tool unavailable", faults.CodeUnavailable, faults.ClassInfrastructure)
)

// Checker runs one named check.
type Checker interface {
	Check(ctx context.Context, name string) (docstore.CheckResult, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, name string) (docstore.CheckResult, error)

// Check calls f.
func (f CheckerFunc) Check(ctx context.Context, name string) (docstore.CheckResult, error) {
	return f(ctx, name)
}

// Static returns a Checker that always reports result.
func Static(result docstore.CheckOutcome, detail string) Checker {
	return CheckerFunc(func(_ context.Context, name string) (docstore.CheckResult, error) {
		return docstore.CheckResult{Name: name, Result: result, Detail: detail}, nil
	})
}

// CommandChecker runs an external command.
type CommandChecker struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
	// SkipExitCode, when non-zero, is the exit status that reports skip.
	SkipExitCode int
	// AllowSkip marks skips as overridden so they count as passing.
	// Without it a skip fails verification.
	AllowSkip bool
}

// Check runs the command. A non-zero exit or a timeout is a failing
// result, not an error; failing to start the command is an error.
// Exiting with SkipExitCode is a skip.
func (c *CommandChecker) Check(ctx context.Context, name string) (docstore.CheckResult, error) {
	if c.Command == "" {
		return docstore.CheckResult{}, fmt.Errorf("%w: %s has no command", ErrToolUnavailable, name)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := procgroup.Command(timeoutCtx, c.Command, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}

	output, err := cmd.CombinedOutput()
	detail := truncate(strings.TrimSpace(string(output)))
	result := docstore.CheckResult{Name: name, Result: docstore.CheckPass, Detail: detail}
	if err == nil {
		return result, nil
	}

	if ctx.Err() != nil {
		return docstore.CheckResult{}, ctx.Err()
	}
	if timeoutCtx.Err() == context.DeadlineExceeded {
		result.Result = docstore.CheckFail
		result.Detail = fmt.Sprintf("timeout after %v", timeout)
		return result, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && c.SkipExitCode != 0 && exitErr.ExitCode() == c.SkipExitCode {
		result.Result = docstore.CheckSkip
		result.Override = c.AllowSkip
		return result, nil
	}
	if errors.As(err, &exitErr) {
		result.Result = docstore.CheckFail
		if result.Detail == "" {
			result.Detail = exitErr.Error()
		}
		return result, nil
	}
	return docstore.CheckResult{}, fmt.Errorf("%w: %s: %v", ErrToolUnavailable, name, err)
}

func truncate(s string) string {
	if len(s) <= maxDetailBytes {
		return s
	}
	return s[len(s)-maxDetailBytes:]
}

// Set is a registry of named checkers. It is safe for concurrent use.
type Set struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{checkers: make(map[string]Checker)}
}

// Register adds or replaces the checker for name.
func (s *Set) Register(name string, c Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = c
}

// Names returns the registered names, sorted.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.checkers))
	for name := range s.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes the checker registered under name.
func (s *Set) Run(ctx context.Context, name string) (docstore.CheckResult, error) {
	s.mu.RLock()
	c, ok := s.checkers[name]
	s.mu.RUnlock()
	if !ok {
		return docstore.CheckResult{}, fmt.Errorf("%w: %q", ErrUnknownCheck, name)
	}
	result, err := c.Check(ctx, name)
	if err != nil {
		return docstore.CheckResult{}, err
	}
	if result.Name == "" {
		result.Name = name
	}
	return result, nil
}
