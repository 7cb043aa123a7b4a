package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/maruel/ksid"
	"github.com/maruel/xlsedit/internal/workbench"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

const shellHelp = `Commands:
  sheets                     list the sheets
  sheet NAME                 switch to a sheet
  clusters                   list the clusters of the sheet
  cluster ID                 switch to a cluster
  show                       print the rows of the cluster
  set ROW COLUMN VALUE       edit a cell of the cluster
  clear ROW COLUMN           clear a cell of the cluster
  rollback ID                revert an edit
  history [N]                list the last N edits
  status                     show the save status
  save                       save now and wait
  quit                       save and exit
`

func newShellCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "shell FILE",
		Short: "Browse and edit a workbook interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			w, err := g.open(cmd.Context(), args[0], true)
			if err != nil {
				return err
			}
			defer func() { err = closeWorkbench(cmd.Context(), w, err) }()
			in := cmd.InOrStdin()
			out := cmd.OutOrStdout()
			if f, ok := in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
				rl, err := readline.NewEx(&readline.Config{
					Prompt:          "xlsedit> ",
					HistoryFile:     filepath.Join(g.dataDir, "shell_history"),
					HistoryLimit:    1000,
					InterruptPrompt: "^C",
					EOFPrompt:       "quit",
					Stdin:           f,
					Stdout:          out,
					Stderr:          cmd.ErrOrStderr(),
				})
				if err != nil {
					return fmt.Errorf("failed to start line editor: %w", err)
				}
				defer func() { _ = rl.Close() }()
				return runShell(cmd.Context(), w, rl, out)
			}
			return runShell(cmd.Context(), w, &scanLines{s: bufio.NewScanner(in)}, out)
		},
	}
}

// lineReader is implemented by *readline.Instance.
type lineReader interface {
	Readline() (string, error)
}

// scanLines reads commands from a non interactive input.
type scanLines struct {
	s *bufio.Scanner
}

func (l *scanLines) Readline() (string, error) {
	if l.s.Scan() {
		return l.s.Text(), nil
	}
	if err := l.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

var errQuit = errors.New("quit")

// runShell executes commands until quit, end of input or ctx cancellation.
func runShell(ctx context.Context, w *workbench.Workbench, lines lineReader, out io.Writer) error {
	sh := &shell{w: w, out: out}
	st := w.Session()
	fmt.Fprintf(out, "%s: %d sheets, at %s cluster %s. Type help for the commands.\n", filepath.Base(w.Path()), len(w.Dataset().Sheets()), st.Sheet, st.Cluster)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := lines.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if err := sh.exec(ctx, fields[0], fields[1:]); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

type shell struct {
	w   *workbench.Workbench
	out io.Writer
}

func (sh *shell) exec(ctx context.Context, name string, args []string) error {
	ds := sh.w.Dataset()
	st := sh.w.Session()
	switch name {
	case "help", "?":
		_, err := io.WriteString(sh.out, shellHelp)
		return err
	case "quit", "exit", "q":
		return errQuit
	case "sheets":
		writeSheets(sh.out, ds.Stats(), st.Sheet)
		return nil
	case "sheet":
		if len(args) != 1 {
			return errors.New("usage: sheet NAME")
		}
		clusters, err := ds.Clusters(args[0])
		if err != nil {
			return err
		}
		if len(clusters) == 0 {
			return fmt.Errorf("sheet %q has no cluster", args[0])
		}
		return sh.w.Navigate(args[0], clusters[0], 0)
	case "clusters":
		return writeClusters(sh.out, ds, st.Sheet, st.Cluster)
	case "cluster":
		if len(args) != 1 {
			return errors.New("usage: cluster ID")
		}
		return sh.w.Navigate(st.Sheet, args[0], 0)
	case "show":
		return writeCluster(sh.out, ds, sh.w.Engine(), st.Sheet, st.Cluster, st.Row)
	case "set", "clear":
		var raw any
		if name == "set" {
			if len(args) < 3 {
				return errors.New("usage: set ROW COLUMN VALUE")
			}
			raw = strings.Join(args[2:], " ")
		} else if len(args) != 2 {
			return errors.New("usage: clear ROW COLUMN")
		}
		row, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid row %q", args[0])
		}
		if !sh.w.Engine().IsColumnEditable(args[1]) {
			return fmt.Errorf("column %q is read-only and cannot be modified", args[1])
		}
		if ok, msg := sh.w.Engine().EditOne(st.Sheet, st.Cluster, row, args[1], raw); !ok {
			return errors.New(msg)
		}
		if err := sh.w.Navigate(st.Sheet, st.Cluster, row); err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "ok, version %d\n", ds.Version())
		return nil
	case "rollback":
		if len(args) != 1 {
			return errors.New("usage: rollback ID")
		}
		id, err := ksid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid edit id %q: %w", args[0], err)
		}
		r, ok := sh.w.Engine().Lookup(id)
		if !ok || !sh.w.Engine().Rollback(id) {
			return fmt.Errorf("edit %s is not in the history", args[0])
		}
		fmt.Fprintf(sh.out, "rolled back %s (%s), version %d\n", args[0], describe(r), ds.Version())
		return nil
	case "history":
		n := 10
		if len(args) == 1 {
			v, err := strconv.Atoi(args[0])
			if err != nil || v <= 0 {
				return fmt.Errorf("invalid count %q", args[0])
			}
			n = v
		}
		writeHistory(sh.out, sh.w.Engine().History(), n)
		return nil
	case "status":
		fmt.Fprintln(sh.out, formatStatus(sh.w.Scheduler().Status(), ds.Version()))
		return nil
	case "save":
		if err := sh.w.Scheduler().Flush(ctx); err != nil {
			return err
		}
		fmt.Fprintln(sh.out, formatStatus(sh.w.Scheduler().Status(), ds.Version()))
		return nil
	default:
		return fmt.Errorf("unknown command %q, try help", name)
	}
}
