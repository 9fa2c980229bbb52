package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/strata"
	"github.com/roach88/strata/record"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	var database string

	cmd := &cobra.Command{
		Use:           "inspect <id>",
		Short:         "Show one record by ID",
		Long:          `Show one record, addressed as Entity/uuid, with its properties and relations.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, database, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "path to the database file")
	return cmd
}

func runInspect(rootOpts *RootOptions, database, rawID string, cmd *cobra.Command) error {
	formatter := rootOpts.formatter(cmd)

	id, err := record.ParseID(rawID)
	if err != nil {
		if ferr := formatter.Error(ErrCodeBadQuery, err.Error(), nil); ferr != nil {
			return ferr
		}
		return &ExitError{Code: ExitCommandError, Message: "invalid record id", Err: err}
	}

	stack, err := openStack(rootOpts, database, formatter)
	if err != nil {
		return err
	}
	defer stack.Close()

	rec, err := stack.Main().Get(cmd.Context(), id)
	if err != nil {
		if errors.Is(err, strata.ErrNotFound) {
			if ferr := formatter.Error(ErrCodeNotFound, fmt.Sprintf("no record %s", id), nil); ferr != nil {
				return ferr
			}
			return &ExitError{Code: ExitFailure, Message: "record not found"}
		}
		return queryFailed(formatter, err)
	}

	view := recordView(rec.Snapshot())
	if rootOpts.Format == "json" {
		return formatter.Success(view)
	}
	fmt.Fprintf(formatter.Writer, "%s v%d\n", view.ID, view.Version)
	for name, value := range view.Properties {
		fmt.Fprintf(formatter.Writer, "  %s: %v\n", name, value)
	}
	for name, target := range view.ToOne {
		fmt.Fprintf(formatter.Writer, "  %s -> %s\n", name, target)
	}
	for name, targets := range view.ToMany {
		fmt.Fprintf(formatter.Writer, "  %s -> %v\n", name, targets)
	}
	return nil
}
