package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/specd/internal/docstore"
	httpapi "github.com/fyrsmithlabs/specd/internal/http"
)

var (
	createTitle        string
	createTags         []string
	createDependsOn    []string
	createRequirements string
	createFrom         string

	taskID          string
	taskDescription string
	taskDependsOn   []string

	artifactName string
)

func init() {
	createCmd.Flags().StringVar(&createTitle, "title", "", "specification title")
	createCmd.Flags().StringSliceVar(&createTags, "tag", nil, "tag (repeatable)")
	createCmd.Flags().StringSliceVar(&createDependsOn, "depends-on", nil, "id of a specification this one depends on (repeatable)")
	createCmd.Flags().StringVar(&createRequirements, "requirements-file", "", "file with the initial requirements, - for stdin")
	createCmd.Flags().StringVar(&createFrom, "from", "", "markdown document with YAML frontmatter, - for stdin")

	taskAddCmd.Flags().StringVar(&taskID, "id", "", "task id (required)")
	taskAddCmd.Flags().StringVar(&taskDescription, "description", "", "task description")
	taskAddCmd.Flags().StringSliceVar(&taskDependsOn, "depends-on", nil, "id of a task this one depends on (repeatable)")
	_ = taskAddCmd.MarkFlagRequired("id")
	taskCmd.AddCommand(taskAddCmd)

	artifactAttachCmd.Flags().StringVar(&artifactName, "name", "", "feature name (feature artifacts only)")
	artifactCmd.AddCommand(artifactAttachCmd)

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(advanceCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(abortCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(artifactCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List specifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(); err != nil {
			return err
		}
		return withAPI(cmd, func(ctx context.Context, api httpapi.API) error {
			specs, err := api.List(ctx)
			if err != nil {
				return err
			}
			return printList(cmd.OutOrStdout(), specs)
		})
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a specification",
	Long: `Create a specification in draft.

Examples:
  # Create with a title and requirements
  specd create --title "Rate limits" --tag api --requirements-file req.md

  # Create from a markdown document with frontmatter
  specd create --from spec.md`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

func runCreate(cmd *cobra.Command, args []string) error {
	if err := validateOutput(); err != nil {
		return err
	}
	req := httpapi.CreateRequest{
		Title:     createTitle,
		Tags:      createTags,
		DependsOn: createDependsOn,
	}
	switch {
	case createFrom != "" && createTitle != "":
		return fmt.Errorf("--from and --title are mutually exclusive")
	case createFrom != "":
		doc, err := readInput(cmd, createFrom)
		if err != nil {
			return err
		}
		req.Markdown = doc
	case createTitle == "":
		return fmt.Errorf("--title or --from is required")
	}
	if createRequirements != "" {
		content, err := readInput(cmd, createRequirements)
		if err != nil {
			return err
		}
		req.Requirements = content
	}

	return withAPI(cmd, func(ctx context.Context, api httpapi.API) error {
		spec, err := api.Create(ctx, req)
		if err != nil {
			return err
		}
		return printSpec(cmd.OutOrStdout(), spec)
	})
}

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show a specification and its active session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(); err != nil {
			return err
		}
		return withAPI(cmd, func(ctx context.Context, api httpapi.API) error {
			info, err := api.Status(ctx, args[0])
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), info)
		})
	},
}

var advanceCmd = &cobra.Command{
	Use:   "advance <id>",
	Short: "Run the next worker session for a specification",
	Long: `Spawn the one role the specification's status calls for, gate its
report and apply the outcome.

The exit status is 0 when the specification advanced, a report was applied,
approval is pending or the specification is locked. Otherwise it carries the
reason code: 3 capability_violation, 4 invalid_transition, 5 missing_artifact,
6 cyclic_dependency, 7 duplicate_id, 8 not_found, 10 clarify, 11 stalled,
1 for anything else.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(); err != nil {
			return err
		}
		return withAPI(cmd, func(ctx context.Context, api httpapi.API) error {
			action, err := api.Advance(ctx, args[0])
			if err != nil {
				return err
			}
			if err := printAction(cmd.OutOrStdout(), action); err != nil {
				return err
			}
			return checkAction(action)
		})
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a reviewed specification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(); err != nil {
			return err
		}
		return withAPI(cmd, func(ctx context.Context, api httpapi.API) error {
			spec, err := api.Approve(ctx, args[0])
			if err != nil {
				return err
			}
			return printSpec(cmd.OutOrStdout(), spec)
		})
	},
}

var abortCmd = &cobra.Command{
	Use:   "abort <id>",
	Short: "Abort the active session of a specification",
	Long: `Abort the active session. Its staged writes are discarded and the
specification keeps its status.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(); err != nil {
			return err
		}
		return withAPI(cmd, func(ctx context.Context, api httpapi.API) error {
			aborted, err := api.Abort(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if outputFormat == "json" {
				return printJSON(out, httpapi.AbortResponse{Aborted: aborted})
			}
			if aborted {
				fmt.Fprintf(out, "%s: session aborted\n", args[0])
			} else {
				fmt.Fprintf(out, "%s: no active session\n", args[0])
			}
			return nil
		})
	},
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage specification tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <spec-id>",
	Short: "Add a task to a specification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(); err != nil {
			return err
		}
		req := httpapi.TaskRequest{ID: taskID, Description: taskDescription, DependsOn: taskDependsOn}
		return withAPI(cmd, func(ctx context.Context, api httpapi.API) error {
			task, err := api.AddTask(ctx, args[0], req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if outputFormat == "json" {
				return printJSON(out, task)
			}
			fmt.Fprintf(out, "%s: added task %s (#%d)\n", args[0], task.ID, task.Index)
			return nil
		})
	},
}

var artifactCmd = &cobra.Command{
	Use:   "artifact",
	Short: "Manage specification artifacts",
}

var artifactAttachCmd = &cobra.Command{
	Use:   "attach <spec-id> <kind> [file]",
	Short: "Attach an artifact to a specification",
	Long: `Attach an artifact read from file, or from stdin when file is - or omitted.

Kinds: requirements, learnings, report, verification, feature, progress.
Feature artifacts need --name.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := docstore.ArtifactKind(args[1])
		if !kind.Valid() {
			return fmt.Errorf("unknown artifact kind %q", args[1])
		}
		src := "-"
		if len(args) == 3 {
			src = args[2]
		}
		content, err := readInput(cmd, src)
		if err != nil {
			return err
		}
		return withAPI(cmd, func(ctx context.Context, api httpapi.API) error {
			if err := api.Attach(ctx, args[0], kind, httpapi.ArtifactRequest{Name: artifactName, Content: content}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: attached %s\n", args[0], kind)
			return nil
		})
	},
}

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}
