package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/schema"
)

// EntitySummary describes one validated entity for output.
type EntitySummary struct {
	Name          string   `json:"name"`
	Fields        int      `json:"fields"`
	Relationships int      `json:"relationships"`
	Unique        []string `json:"unique,omitempty"`
}

// ValidationReport is the payload of a validate run.
type ValidationReport struct {
	Valid    bool            `json:"valid"`
	Entities []EntitySummary `json:"entities,omitempty"`
	Errors   []string        `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Validate entity schema definitions",
		Long: `Validate the CUE entity schema in a directory without opening a database.

Checks field types, required flags, unique sets and relationship targets,
and prints a summary of the entities defined.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		if err := formatter.Error(ErrCodeNotFound, fmt.Sprintf("schema directory not found: %s", dir), nil); err != nil {
			return err
		}
		return &ExitError{Code: ExitCommandError, Message: "schema directory not found"}
	}

	set, err := schema.Load(dir)
	if err != nil {
		var cerr *schema.CompileError
		if errors.As(err, &cerr) {
			report := ValidationReport{Valid: false, Errors: []string{cerr.Error()}}
			if opts.Format == "json" {
				if err := formatter.Success(report); err != nil {
					return err
				}
			} else if err := formatter.Error(ErrCodeSchemaInvalid, cerr.Error(), nil); err != nil {
				return err
			}
			return &ExitError{Code: ExitFailure, Message: "schema invalid"}
		}
		if err := formatter.Error(ErrCodeNoSchema, err.Error(), nil); err != nil {
			return err
		}
		return &ExitError{Code: ExitCommandError, Message: "schema load failed", Err: err}
	}

	formatter.VerboseLog("compiled %d entities from %s", len(set), dir)

	report := ValidationReport{Valid: true}
	for name, ent := range set {
		summary := EntitySummary{
			Name:          name,
			Fields:        len(ent.Fields),
			Relationships: len(ent.Relationships),
		}
		for _, fields := range ent.Unique {
			summary.Unique = append(summary.Unique, fmt.Sprintf("%v", fields))
		}
		report.Entities = append(report.Entities, summary)
	}
	sort.Slice(report.Entities, func(i, j int) bool {
		return report.Entities[i].Name < report.Entities[j].Name
	})

	if opts.Format == "json" {
		return formatter.Success(report)
	}
	fmt.Fprintf(formatter.Writer, "Schema valid: %d entities\n", len(report.Entities))
	for _, e := range report.Entities {
		fmt.Fprintf(formatter.Writer, "  %s: %d fields, %d relationships\n", e.Name, e.Fields, e.Relationships)
	}
	return nil
}
