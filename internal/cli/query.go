package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/strata"
	"github.com/roach88/strata/query"
	"github.com/roach88/strata/record"
)

type queryOptions struct {
	Database string
	Where    string
	Sort     string
	Desc     bool
	Limit    int
	Count    bool
}

// RecordView is one record in query output.
type RecordView struct {
	ID         string              `json:"id"`
	Version    int64               `json:"version"`
	Properties map[string]any      `json:"properties,omitempty"`
	ToOne      map[string]string   `json:"to_one,omitempty"`
	ToMany     map[string][]string `json:"to_many,omitempty"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &queryOptions{}

	cmd := &cobra.Command{
		Use:   "query <entity>",
		Short: "Query records in a database",
		Long: `Query records of one entity from a strata database.

The --where flag takes an expression over record properties, for example
--where 'age > 40 && name startsWith "M"'.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the database file")
	cmd.Flags().StringVar(&opts.Where, "where", "", "filter expression over record properties")
	cmd.Flags().StringVar(&opts.Sort, "sort", "", "property to sort by")
	cmd.Flags().BoolVar(&opts.Desc, "desc", false, "sort descending")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of records (0 = all)")
	cmd.Flags().BoolVar(&opts.Count, "count", false, "print only the match count")

	return cmd
}

func runQuery(rootOpts *RootOptions, opts *queryOptions, entity string, cmd *cobra.Command) error {
	formatter := rootOpts.formatter(cmd)

	stack, err := openStack(rootOpts, opts.Database, formatter)
	if err != nil {
		return err
	}
	defer stack.Close()

	spec := query.New(entity)
	if opts.Where != "" {
		p, err := query.Expr(opts.Where)
		if err != nil {
			if ferr := formatter.Error(ErrCodeBadQuery, err.Error(), nil); ferr != nil {
				return ferr
			}
			return &ExitError{Code: ExitCommandError, Message: "invalid filter expression", Err: err}
		}
		spec = spec.Where(p)
	}
	if opts.Sort != "" {
		if opts.Desc {
			spec = spec.SortByDesc(opts.Sort)
		} else {
			spec = spec.SortBy(opts.Sort)
		}
	}
	if opts.Limit > 0 {
		spec = spec.WithLimit(opts.Limit)
	}

	ctx := cmd.Context()

	if opts.Count {
		n, err := stack.Main().QueryValue(ctx, query.New(entity).Where(spec.Filter).SelectValues(query.Count()))
		if err != nil {
			return queryFailed(formatter, err)
		}
		if rootOpts.Format == "json" {
			return formatter.Success(map[string]any{"count": n})
		}
		fmt.Fprintln(formatter.Writer, n)
		return nil
	}

	recs, err := stack.Main().FetchAll(ctx, spec)
	if err != nil {
		return queryFailed(formatter, err)
	}
	formatter.VerboseLog("matched %d records", len(recs))

	views := make([]RecordView, len(recs))
	for i, rec := range recs {
		views[i] = recordView(rec.Snapshot())
	}
	if rootOpts.Format == "json" {
		return formatter.Success(views)
	}
	for _, v := range views {
		fmt.Fprintf(formatter.Writer, "%s v%d %v\n", v.ID, v.Version, v.Properties)
	}
	return nil
}

func queryFailed(formatter *OutputFormatter, err error) error {
	if ferr := formatter.Error(ErrCodeGeneric, err.Error(), nil); ferr != nil {
		return ferr
	}
	return &ExitError{Code: ExitFailure, Message: "query failed", Err: err}
}

func recordView(d record.Data) RecordView {
	v := RecordView{
		ID:         d.ID.String(),
		Version:    d.Version,
		Properties: d.Properties,
	}
	if len(d.ToOne) > 0 {
		v.ToOne = make(map[string]string, len(d.ToOne))
		for name, id := range d.ToOne {
			v.ToOne[name] = id.String()
		}
	}
	if len(d.ToMany) > 0 {
		v.ToMany = make(map[string][]string, len(d.ToMany))
		for name, ids := range d.ToMany {
			for _, id := range ids {
				v.ToMany[name] = append(v.ToMany[name], id.String())
			}
		}
	}
	return v
}

// openStack opens the database named by the --db flag or the config
// file, applying the config's schema and policies.
func openStack(rootOpts *RootOptions, dbFlag string, formatter *OutputFormatter) (*strata.Stack, error) {
	cfg, err := LoadConfig(rootOpts.ConfigPath)
	if err != nil {
		if ferr := formatter.Error(ErrCodeBadConfig, err.Error(), nil); ferr != nil {
			return nil, ferr
		}
		return nil, err
	}
	path := dbFlag
	if path == "" {
		path = cfg.Database
	}
	if path == "" {
		msg := "no database: pass --db or set database in the config file"
		if ferr := formatter.Error(ErrCodeStoreOpen, msg, nil); ferr != nil {
			return nil, ferr
		}
		return nil, &ExitError{Code: ExitCommandError, Message: msg}
	}

	var stackOpts []strata.Option
	if cfg.SchemaDir != "" {
		stackOpts = append(stackOpts, strata.WithSchemaDir(cfg.SchemaDir))
	}
	if cfg.MergePolicy == "manual-reload" {
		stackOpts = append(stackOpts, strata.WithMergePolicy(strata.ManualReload))
	}
	if cfg.SerializedSaves {
		stackOpts = append(stackOpts, strata.WithSerializedSaves())
	}

	stack, err := strata.Open(path, stackOpts...)
	if err != nil {
		if ferr := formatter.Error(ErrCodeStoreOpen, err.Error(), nil); ferr != nil {
			return nil, ferr
		}
		return nil, &ExitError{Code: ExitCommandError, Message: "opening database", Err: err}
	}
	return stack, nil
}
