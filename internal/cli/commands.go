package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"varianthunter/internal/blob"
	"varianthunter/internal/core"
	"varianthunter/internal/export"
	"varianthunter/internal/lineage"
	"varianthunter/pkg/domain"
)

func newImportCommand(opts *rootOptions) *cobra.Command {
	var (
		tag   string
		group bool
	)
	cmd := &cobra.Command{
		Use:   "import <results.json>",
		Short: "Add an analysis from a results file (use - for stdin)",
		Long: `Import reads an analysis result document (rows, totalSequenceCounts,
characterizingMutations and metadata) and appends it to the history.
With --group the new analysis joins the tag of the current analysis,
creating a "TAG n" group when it has none.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if tag != "" {
				if payload, err = withTag(payload, tag); err != nil {
					return err
				}
			}
			op := core.OpAddAnalysis
			if group {
				op = core.OpAddGroupAnalysis
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				v, res, err := a.svc.Dispatch(ctx, op, payload)
				if err != nil {
					return err
				}
				printViolations(cmd.ErrOrStderr(), res)
				created, _ := v.(domain.Analysis)
				fmt.Fprintf(cmd.OutOrStdout(), "added analysis %d (%s)\n", created.ID, export.FileName(created.Query))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "tag to add and assign to the new analysis")
	cmd.Flags().BoolVar(&group, "group", false, "group with the current analysis")
	return cmd
}

func newListCommand(opts *rootOptions) *cobra.Command {
	var filter core.SummaryFilter
	var granularity string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List analyses, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter.Granularity = domain.Granularity(granularity)
			if filter.Granularity != "" && !filter.Granularity.Valid() {
				return fmt.Errorf("unknown granularity %q", granularity)
			}
			if filter.Mode != "" && filter.Mode != core.ModeLineageIndependent && filter.Mode != core.ModeLineageSpecific {
				return fmt.Errorf("mode must be %s or %s", core.ModeLineageIndependent, core.ModeLineageSpecific)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTARRED\tLOCATION\tEND DATE\tLINEAGE\tTAG")
				for _, s := range a.svc.AnalysesSummary(ctx, filter) {
					fmt.Fprintf(w, "%d\t%t\t%s\t%s\t%s\t%s\n",
						s.ID, s.Starred, s.Query.Location.At(s.Query.Granularity), s.Query.EndDate,
						deref(s.Query.Lineage), deref(s.Tag))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&filter.Starred, "starred", false, "only starred analyses")
	cmd.Flags().StringVar(&filter.Mode, "mode", "", "li (lineage independent) or ls (lineage specific)")
	cmd.Flags().StringVar(&granularity, "granularity", "", "continent, country or region")
	return cmd
}

func newPlotCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plot <analysis-id>",
		Short: "Print the plot series of an analysis as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				plot, ok, err := a.svc.PlotInfo(ctx, id)
				if err != nil {
					return err
				}
				if !ok {
					return domain.NotFoundError{Entity: domain.EntityAnalysis, ID: args[0]}
				}
				return printJSON(cmd.OutOrStdout(), plot)
			})
		},
	}
}

func newLineagesCommand() *cobra.Command {
	var level int
	cmd := &cobra.Command{
		Use:   "lineages <lineages.json>",
		Short: "Compact lineage frequencies into star-notation summaries",
		Long: `Lineages reads a JSON array of {name, f1..f4, w1..w4} rows (use - for
stdin) and folds the non-dominant sub-lineages of each group into a
"<prefix>.*" row. The session is not opened.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			var rows []lineage.Row
			if err := json.Unmarshal(payload, &rows); err != nil {
				return fmt.Errorf("decode lineages: %w", err)
			}
			out, err := lineage.Compact(rows, level)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LINEAGE\tF1\tF2\tF3\tF4\tSEQUENCES")
			for _, r := range out {
				fmt.Fprintf(w, "%s\t%g\t%g\t%g\t%g\t%d\n", r.Name, r.F1, r.F2, r.F3, r.F4, r.Sequences())
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&level, "level", 1, "aggregation level (1 or 2)")
	return cmd
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	var (
		formats   []string
		selection string
		stdout    bool
	)
	cmd := &cobra.Command{
		Use:   "export <analysis-id>",
		Short: "Export the rows of an analysis to the configured blob store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			req := export.Request{AnalysisID: id, Selection: export.Selection(selection), RequestedBy: "cli"}
			for _, f := range formats {
				req.Formats = append(req.Formats, export.Format(f))
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if stdout {
					return writeExport(ctx, cmd.OutOrStdout(), a, req)
				}
				store, err := blob.Open(ctx, a.cfg.Export)
				if err != nil {
					return err
				}
				exporter := export.NewExporter(a.svc, store, export.WithLogger(a.logger.WithComponent("export")))
				rec, err := exporter.Export(ctx, req)
				if err != nil {
					return err
				}
				for _, art := range rec.Artifacts {
					location := art.Key
					if art.URL != "" {
						location = art.URL
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d bytes\t%s\n", art.Format, art.SizeBytes, location)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&formats, "format", "f", []string{string(export.FormatCSV)}, "csv, json or yaml (repeatable)")
	cmd.Flags().StringVar(&selection, "selection", string(export.SelectionSorted), "sorted or selected rows")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "write the first format to stdout instead of the blob store")
	return cmd
}

func writeExport(ctx context.Context, w io.Writer, a *app, req export.Request) error {
	format := export.FormatCSV
	if len(req.Formats) > 0 {
		f, err := export.ParseFormat(string(req.Formats[0]))
		if err != nil {
			return err
		}
		format = f
	}
	exporter := export.NewExporter(a.svc, blob.NewMemory())
	doc, err := exporter.Document(ctx, req.AnalysisID, req.Selection)
	if err != nil {
		return err
	}
	payload, err := export.Render(doc, format)
	if err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func newDoCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "do <operation> [json-payload]",
		Short: "Run a session command by name",
		Long: "Do runs one operation of the command surface with an optional JSON payload.\n\nOperations: " +
			strings.Join(core.Operations(), ", "),
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload json.RawMessage
			if len(args) == 2 {
				payload = json.RawMessage(args[1])
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				v, res, err := a.svc.Dispatch(ctx, args[0], payload)
				if err != nil {
					return err
				}
				printViolations(cmd.ErrOrStderr(), res)
				if v == nil {
					return nil
				}
				return printJSON(cmd.OutOrStdout(), v)
			})
		},
	}
}

func newClearCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every analysis; tags are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				_, err := a.svc.ClearHistory(ctx)
				return err
			})
		},
	}
}

func newResetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard the stored session on the next start",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				_, err := a.svc.ResetState(ctx)
				return err
			})
		},
	}
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func withTag(payload []byte, tag string) ([]byte, error) {
	var in core.AnalysisInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
	}
	in.Tag = &tag
	return json.Marshal(in)
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid analysis id %q", s)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printViolations(w io.Writer, res domain.Result) {
	for _, v := range res.Violations {
		fmt.Fprintf(w, "%s: %s (%s)\n", v.Severity, v.Message, v.Rule)
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
