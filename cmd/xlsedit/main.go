// Package main is the entry point for xlsedit.
//
// xlsedit edits the governed columns of a clustered workbook. Edits are
// validated, applied in memory and saved in the background as timestamped
// snapshots next to the source workbook, which is never overwritten. Every
// saved edit is journaled in a git repository in the data directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/maruel/xlsedit/internal/config"
	"github.com/maruel/xlsedit/internal/persist"
	"github.com/maruel/xlsedit/internal/workbench"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "xlsedit: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

// globals holds the persistent flags.
type globals struct {
	dataDir    string
	configPath string
	logLevel   string
	level      slog.LevelVar
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "xlsedit",
		Short: "Edit the governed columns of a clustered workbook",
		Long: `xlsedit browses a workbook grouped into clusters of rows and edits its
governed columns. Changes are saved in the background as new snapshots
next to the source workbook.`,
		Version:       buildVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.setup(cmd)
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	root.PersistentFlags().StringVar(&g.dataDir, "data-dir", filepath.Join(home, ".xlsedit"), "Data directory holding the configuration, journal and session")
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "Configuration file (default: <data-dir>/config.yaml)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newSheetsCmd(g),
		newClustersCmd(g),
		newShowCmd(g),
		newSetCmd(g),
		newBatchCmd(g),
		newLogCmd(g),
		newShellCmd(g),
		newConfigSchemaCmd(),
	)
	return root
}

// setup installs the logger and creates the data directory.
func (g *globals) setup(cmd *cobra.Command) error {
	switch g.logLevel {
	case "debug":
		g.level.Set(slog.LevelDebug)
	case "info":
		g.level.Set(slog.LevelInfo)
	case "warn":
		g.level.Set(slog.LevelWarn)
	case "error":
		g.level.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", g.logLevel)
	}
	w := cmd.ErrOrStderr()
	noColor := true
	if f, ok := w.(*os.File); ok {
		w = colorable.NewColorable(f)
		noColor = !isatty.IsTerminal(f.Fd())
	}
	slog.SetDefault(slog.New(tint.NewHandler(w, &tint.Options{
		Level:       &g.level,
		TimeFormat:  "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:     noColor,
		ReplaceAttr: dropZero,
	})))
	if err := os.MkdirAll(g.dataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// dropZero removes zero valued attributes from log lines.
func dropZero(_ []string, a slog.Attr) slog.Attr {
	skip := false
	switch t := a.Value.Any().(type) {
	case string:
		skip = t == ""
	case bool:
		skip = !t
	case uint64:
		skip = t == 0
	case int64:
		skip = t == 0
	case float64:
		skip = t == 0
	case time.Time:
		skip = t.IsZero()
	case time.Duration:
		skip = t == 0
	case nil:
		skip = true
	}
	if skip {
		return slog.Attr{}
	}
	return a
}

func (g *globals) config() (*config.Config, error) {
	path := g.configPath
	if path == "" {
		path = config.Path(g.dataDir)
	}
	return config.Load(path)
}

// open opens a workbook with the configured settings.
func (g *globals) open(ctx context.Context, path string, watch bool) (*workbench.Workbench, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	return workbench.Open(ctx, workbench.Options{
		Path:    path,
		DataDir: g.dataDir,
		Config:  cfg,
		Watch:   watch,
		OnStatus: func(st persist.Status) {
			slog.Debug("Save status", "state", st.State.String(), "attempt", st.Attempt, "version", st.Version, "err", st.Err)
		},
	})
}

// closeWorkbench performs the final save even when ctx was canceled.
func closeWorkbench(ctx context.Context, w *workbench.Workbench, err error) error {
	return errors.Join(err, w.Close(context.WithoutCancel(ctx)))
}

func buildVersion() string {
	version, revision, dirty := "dev", "unknown", false
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		version = v
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	s := fmt.Sprintf("xlsedit %s (%s, revision %s)", version, info.GoVersion, revision)
	if dirty {
		s += " modified"
	}
	return s
}
