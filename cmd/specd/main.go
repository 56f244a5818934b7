// Package main implements specd, the task-orchestration server and its
// operator CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/specd/internal/config"
	"github.com/fyrsmithlabs/specd/internal/coordinator"
	"github.com/fyrsmithlabs/specd/internal/faults"
	httpapi "github.com/fyrsmithlabs/specd/internal/http"
	"github.com/fyrsmithlabs/specd/internal/logging"
)

var (
	// configPath is the YAML config file. Missing files fall back to defaults.
	configPath string
	// serverURL overrides server.host and server.port for remote commands.
	serverURL string
	// localMode runs commands in-process against the configured store.
	localMode bool
	// outputFormat is text or json.
	outputFormat string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ae *actionError
		if !errors.As(err, &ae) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "specd",
	Short: "Multi-agent task orchestration",
	Long: `specd coordinates role-bound agent sessions over Specifications.

Each Specification moves through draft, review, approval, implementation and
verification. A worker session for exactly one role runs per step and its
report is gated before the coordinator changes status.

Commands talk to a running "specd serve" unless --local is set.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("SPECD_CONFIG"), "config file (env SPECD_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "specd server URL (default from config)")
	rootCmd.PersistentFlags().BoolVar(&localMode, "local", false, "run against the configured store without a server")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text or json")
}

// openAPI returns the API selected by --local and --server. The returned
// func releases it.
func openAPI() (httpapi.API, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if !localMode {
		url := serverURL
		if url == "" {
			url = cfg.Server.URL()
		}
		return httpapi.NewClient(url), func() {}, nil
	}

	e, err := newEngine(cfg, logging.Nop(), nil)
	if err != nil {
		return nil, nil, err
	}
	return httpapi.NewService(e.store, e.coord), e.Close, nil
}

// withAPI runs fn against the selected API.
func withAPI(cmd *cobra.Command, fn func(ctx context.Context, api httpapi.API) error) error {
	api, release, err := openAPI()
	if err != nil {
		return err
	}
	defer release()
	return fn(cmd.Context(), api)
}

// actionError is a NextAction that did not succeed.
type actionError struct {
	action coordinator.NextAction
}

func (e *actionError) Error() string {
	if e.action.Reason != "" {
		return fmt.Sprintf("%s: %s", e.action.Kind, e.action.Reason)
	}
	return string(e.action.Kind)
}

// checkAction returns nil when a completed successfully.
func checkAction(a coordinator.NextAction) error {
	switch a.Kind {
	case coordinator.ActionAdvanced, coordinator.ActionApplied,
		coordinator.ActionAwaitApproval, coordinator.ActionTerminal:
		return nil
	default:
		return &actionError{action: a}
	}
}

// Exit codes by reason code.
var reasonExitCodes = map[string]int{
	faults.CodeCapabilityViolation: 3,
	faults.CodeInvalidTransition:   4,
	faults.CodeMissingArtifact:     5,
	faults.CodeCyclicDependency:    6,
	faults.CodeDuplicateID:         7,
	faults.CodeNotFound:            8,
	faults.CodeClarify:             10,
	faults.CodeStalled:             11,
}

// exitCode maps err to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ae *actionError
	if errors.As(err, &ae) {
		if code, ok := reasonExitCodes[ae.action.Reason]; ok {
			return code
		}
		switch ae.action.Kind {
		case coordinator.ActionClarify:
			return reasonExitCodes[faults.CodeClarify]
		case coordinator.ActionStalled:
			return reasonExitCodes[faults.CodeStalled]
		default:
			return 1
		}
	}
	if code, ok := reasonExitCodes[faults.CodeOf(err)]; ok {
		return code
	}
	return 1
}
