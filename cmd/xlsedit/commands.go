package main

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/maruel/xlsedit/internal/config"
	"github.com/maruel/xlsedit/internal/edit"
	"github.com/maruel/xlsedit/internal/journal"
	"github.com/spf13/cobra"
)

func newSheetsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sheets FILE",
		Short: "List the clustered sheets of a workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			w, err := g.open(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			defer func() { err = closeWorkbench(cmd.Context(), w, err) }()
			writeSheets(cmd.OutOrStdout(), w.Dataset().Stats(), "")
			skipped := w.Skipped()
			for _, name := range slices.Sorted(maps.Keys(skipped)) {
				fmt.Fprintf(cmd.OutOrStdout(), "skipped %s: %v\n", name, skipped[name])
			}
			return nil
		},
	}
}

func newClustersCmd(g *globals) *cobra.Command {
	var sheet string
	cmd := &cobra.Command{
		Use:   "clusters FILE",
		Short: "List the clusters of a sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			w, err := g.open(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			defer func() { err = closeWorkbench(cmd.Context(), w, err) }()
			return writeClusters(cmd.OutOrStdout(), w.Dataset(), sheet, "")
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "Sheet name")
	_ = cmd.MarkFlagRequired("sheet")
	return cmd
}

func newShowCmd(g *globals) *cobra.Command {
	var sheet, cluster string
	cmd := &cobra.Command{
		Use:   "show FILE",
		Short: "Print the rows of a cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			w, err := g.open(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			defer func() { err = closeWorkbench(cmd.Context(), w, err) }()
			return writeCluster(cmd.OutOrStdout(), w.Dataset(), w.Engine(), sheet, cluster, -1)
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "Sheet name")
	cmd.Flags().StringVar(&cluster, "cluster", "", "Cluster id")
	_ = cmd.MarkFlagRequired("sheet")
	_ = cmd.MarkFlagRequired("cluster")
	return cmd
}

func newSetCmd(g *globals) *cobra.Command {
	var req edit.Request
	var value string
	var clearCell bool
	cmd := &cobra.Command{
		Use:   "set FILE",
		Short: "Edit one cell and save a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if clearCell == cmd.Flags().Changed("value") {
				return errors.New("exactly one of --value or --clear is required")
			}
			w, err := g.open(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			defer func() { err = closeWorkbench(cmd.Context(), w, err) }()
			var raw any
			if !clearCell {
				raw = value
			}
			if ok, msg := w.Engine().EditOne(req.Sheet, req.Cluster, req.Offset, req.Column, raw); !ok {
				return errors.New(msg)
			}
			if err := w.Scheduler().Flush(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", w.Scheduler().Status().Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Sheet, "sheet", "", "Sheet name")
	cmd.Flags().StringVar(&req.Cluster, "cluster", "", "Cluster id")
	cmd.Flags().IntVar(&req.Offset, "row", 0, "Row offset inside the cluster, starting at 0")
	cmd.Flags().StringVar(&req.Column, "column", "", "Column name")
	cmd.Flags().StringVar(&value, "value", "", "New value")
	cmd.Flags().BoolVar(&clearCell, "clear", false, "Clear the cell")
	for _, f := range []string{"sheet", "cluster", "column"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newBatchCmd(g *globals) *cobra.Command {
	var specs []string
	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Apply several edits atomically and save a snapshot",
		Long: `Applies every --edit as one transaction: either all edits are valid and
applied, or none is. Each edit is sheet:cluster:row:column=value; an empty
value clears the cell.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			reqs := make([]edit.Request, len(specs))
			for i, s := range specs {
				if reqs[i], err = parseEdit(s); err != nil {
					return err
				}
			}
			w, err := g.open(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			defer func() { err = closeWorkbench(cmd.Context(), w, err) }()
			ok, results := w.Engine().EditBatch(reqs)
			if !ok {
				failed := 0
				for _, r := range results {
					if !r.OK {
						failed++
						fmt.Fprintf(cmd.OutOrStdout(), "edit %d (%s): %s\n", r.Index+1, specs[r.Index], r.Message)
					}
				}
				return fmt.Errorf("batch rejected: %d of %d edits failed", failed, len(reqs))
			}
			if len(reqs) == 0 {
				return nil
			}
			if err := w.Scheduler().Flush(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d edits, saved %s\n", len(reqs), w.Scheduler().Status().Path)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&specs, "edit", nil, "Edit as sheet:cluster:row:column=value (repeatable)")
	return cmd
}

// parseEdit parses sheet:cluster:row:column=value. The sheet name may contain
// colons.
func parseEdit(s string) (edit.Request, error) {
	target, value, ok := strings.Cut(s, "=")
	if !ok {
		return edit.Request{}, fmt.Errorf("invalid edit %q: missing =", s)
	}
	parts := strings.Split(target, ":")
	if len(parts) < 4 {
		return edit.Request{}, fmt.Errorf("invalid edit %q: want sheet:cluster:row:column=value", s)
	}
	n := len(parts)
	row, err := strconv.Atoi(parts[n-2])
	if err != nil {
		return edit.Request{}, fmt.Errorf("invalid edit %q: bad row: %w", s, err)
	}
	r := edit.Request{
		Sheet:   strings.Join(parts[:n-3], ":"),
		Cluster: parts[n-3],
		Offset:  row,
		Column:  parts[n-1],
	}
	if value != "" {
		r.Value = value
	}
	return r, nil
}

func newLogCmd(g *globals) *cobra.Command {
	var n int
	var verbose bool
	var at string
	cmd := &cobra.Command{
		Use:   "log FILE",
		Short: "Show the journal of the saved edits of a workbook",
		Long: `Lists the journal commits, newest first. With --at, prints every edit
journaled as of that commit instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			j, err := journal.Open(cmd.Context(), filepath.Join(g.dataDir, "journal"), path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if at != "" {
				entries, err := j.EntriesAt(cmd.Context(), at)
				if err != nil {
					return err
				}
				writeEntries(out, entries)
				return nil
			}
			commits, err := j.Commits(cmd.Context(), n)
			if err != nil {
				return err
			}
			for _, c := range commits {
				fmt.Fprintf(out, "%.12s %s %s\n", c.Hash, c.When.Local().Format("2006-01-02 15:04:05"), c.Subject)
				if verbose && c.Body != "" {
					for line := range strings.SplitSeq(c.Body, "\n") {
						fmt.Fprintf(out, "    %s\n", line)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 20, "Number of commits to show")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show the edits of each commit")
	cmd.Flags().StringVar(&at, "at", "", "List the journaled edits as of this commit (hash, prefix or HEAD~N)")
	return cmd
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-schema",
		Short: "Print the JSON schema of the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.Schema()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
