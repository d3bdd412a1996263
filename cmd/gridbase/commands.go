package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/adrianmcphee/gridbase"
	"github.com/adrianmcphee/gridbase/internal/export"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print the value at a path",
		Example: `  gridbase get /users/alice
  gridbase get /posts --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, closeDB, err := opts.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			value, err := db.Ref(args[0]).ToObject(cmd.Context())
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), opts.format, value)
		},
	}
}

func newListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <sheet>",
		Short: "List the documents of a sheet in row order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, closeDB, err := opts.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			docs, err := db.All(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printDocuments(cmd.OutOrStdout(), opts.format, docs)
		},
	}
}

type queryOptions struct {
	where   string
	equal   string
	filter  string
	orderBy []string
	order   []string
	limit   int
	offset  int
}

func newQueryCommand(opts *rootOptions) *cobra.Command {
	q := &queryOptions{}

	cmd := &cobra.Command{
		Use:   "query <sheet>",
		Short: "Filter, order and page the documents of a sheet",
		Example: `  gridbase query posts --where author --equal alice
  gridbase query posts --filter '{"where":"views","gt":100}' --order-by views --order desc --limit 5
  gridbase query posts --filter '{"or":[{"where":"tags","childExists":"go"},{"where":"draft","exists":false}]}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := q.buildFilter()
			if err != nil {
				return err
			}

			db, closeDB, err := opts.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			docs, err := db.Query(cmd.Context(), args[0], filter, gridbase.Listing{
				OrderBy: q.orderBy,
				Order:   q.order,
				Limit:   q.limit,
				Offset:  q.offset,
			})
			if err != nil {
				return err
			}
			return printDocuments(cmd.OutOrStdout(), opts.format, docs)
		},
	}

	cmd.Flags().StringVar(&q.where, "where", "", "field to compare (with --equal)")
	cmd.Flags().StringVar(&q.equal, "equal", "", "value the field must equal")
	cmd.Flags().StringVar(&q.filter, "filter", "", "query or multi query as JSON")
	cmd.Flags().StringSliceVar(&q.orderBy, "order-by", nil, "fields to sort by")
	cmd.Flags().StringSliceVar(&q.order, "order", nil, "asc or desc per --order-by field")
	cmd.Flags().IntVar(&q.limit, "limit", 0, "keep the first N results, or the last N when negative")
	cmd.Flags().IntVar(&q.offset, "offset", 0, "skip N results from the start, or from the end when negative")

	return cmd
}

func (q *queryOptions) buildFilter() (interface{}, error) {
	switch {
	case q.filter != "" && q.where != "":
		return nil, fmt.Errorf("use either --filter or --where/--equal")
	case q.filter != "":
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(q.filter), &m); err != nil {
			return nil, fmt.Errorf("invalid --filter JSON: %w", err)
		}
		return m, nil
	case q.where != "":
		value, ok := gridbase.DecodeCell(q.equal)
		if !ok {
			value = ""
		}
		return gridbase.Shorthand(q.where, value), nil
	}
	return nil, nil
}

func newSetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <path> <json>",
		Short: "Replace a document, keeping its key and ordinal",
		Long: `Replace the document at <sheet>/<key>. On a sheet path a new document is
created under a generated key.`,
		Example: `  gridbase set /users/alice '{"name":"Alice","age":30}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeDocument(cmd, opts, args[0], args[1], true)
		},
	}
}

func newUpdateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <path> <json>",
		Short: "Merge fields into a document, creating it when missing",
		Long: `Merge fields into the document at <sheet>/<key>. Fields set to null are
removed. On a sheet path a new document is created under a generated key.`,
		Example: `  gridbase update /users/alice '{"age":31}'
  gridbase update /posts '{"title":"Hello"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeDocument(cmd, opts, args[0], args[1], false)
		},
	}
}

func writeDocument(cmd *cobra.Command, opts *rootOptions, path, raw string, replace bool) error {
	var data gridbase.Document
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return fmt.Errorf("invalid document JSON: %w", err)
	}
	if data == nil {
		return fmt.Errorf("document must be a JSON object; use remove to delete")
	}

	db, closeDB, err := opts.openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer closeDB()

	ref := db.Ref(path)
	var doc gridbase.Document
	if replace {
		doc, err = ref.Set(cmd.Context(), data)
	} else {
		doc, err = ref.Update(cmd.Context(), data)
	}
	if err != nil {
		return err
	}
	if opts.format == "table" {
		saved := ref
		if ref.Path().Depth() == 1 {
			saved = ref.Child(fmt.Sprint(doc[gridbase.DefaultKeyField]))
		}
		fmt.Fprintln(cmd.ErrOrStderr(), colorOK("√ Saved"), colorInfo(saved.String()))
	}
	return printValue(cmd.OutOrStdout(), opts.format, doc)
}

func newRemoveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <sheet> <key>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, closeDB, err := opts.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			if err := db.Remove(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), colorOK("√ Removed"), args[0]+"/"+args[1])
			return nil
		},
	}
}

func newIncreaseCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "increase <sheet> <key> <field[=delta]>...",
		Short: "Add to numeric fields of a document",
		Example: `  gridbase increase posts p1 views
  gridbase increase posts p1 likes=5 stats/shares=-1`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			increments, err := parseIncrements(args[2:])
			if err != nil {
				return err
			}

			db, closeDB, err := opts.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			doc, err := db.Increase(cmd.Context(), args[0], args[1], increments)
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), opts.format, doc)
		},
	}
}

// parseIncrements turns "field" and "field=delta" arguments into a delta map.
func parseIncrements(args []string) (map[string]float64, error) {
	increments := make(map[string]float64, len(args))
	for _, arg := range args {
		field, raw, hasDelta := strings.Cut(arg, "=")
		if field == "" {
			return nil, fmt.Errorf("invalid increment %q", arg)
		}
		delta := 1.0
		if hasDelta {
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid delta in %q: %w", arg, err)
			}
			delta = f
		}
		increments[field] = delta
	}
	return increments, nil
}

func newSheetsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sheets",
		Short: "List sheets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, closeDB, err := opts.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			names, err := db.SheetNames(cmd.Context())
			if err != nil {
				return err
			}
			if opts.format == "json" {
				return export.JSON(cmd.OutOrStdout(), names)
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newKeyCommand(opts *rootOptions) *cobra.Command {
	var length int
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Print a fresh document key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), gridbase.NewKeyGenerator(length, gridbase.DefaultKeyPrefix).Next())
			return nil
		},
	}
	cmd.Flags().IntVar(&length, "length", gridbase.DefaultKeyLength, "key length")
	return cmd
}

func printDocuments(w io.Writer, format string, docs []gridbase.Document) error {
	if format == "json" {
		return export.JSON(w, docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, colorInfo("(no documents)"))
		return nil
	}
	export.Table(w, docs)
	return nil
}

func printValue(w io.Writer, format string, value interface{}) error {
	if format == "json" {
		return export.JSON(w, value)
	}
	switch v := value.(type) {
	case nil:
		fmt.Fprintln(w, colorInfo("(null)"))
	case map[string]interface{}:
		if isCollection(v) {
			docs := make([]gridbase.Document, 0, len(v))
			for _, item := range v {
				docs = append(docs, item.(map[string]interface{}))
			}
			export.Table(w, docs)
		} else {
			export.KeyValue(w, v)
		}
	default:
		fmt.Fprintln(w, export.CellText(v))
	}
	return nil
}

// isCollection reports whether every value of m is itself a document.
func isCollection(m map[string]interface{}) bool {
	if len(m) == 0 {
		return false
	}
	for _, v := range m {
		doc, ok := v.(map[string]interface{})
		if !ok {
			return false
		}
		if _, hasKey := doc[gridbase.DefaultKeyField]; !hasKey {
			return false
		}
	}
	return true
}
