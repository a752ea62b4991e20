package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/atinylittleshell/codex-bridge/internal/config"
	"github.com/atinylittleshell/codex-bridge/internal/core"
	"github.com/atinylittleshell/codex-bridge/internal/mainloop"
	"github.com/atinylittleshell/codex-bridge/internal/process"
	"github.com/atinylittleshell/codex-bridge/internal/repl"
	"github.com/atinylittleshell/codex-bridge/internal/repl/render"
	"github.com/atinylittleshell/codex-bridge/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var BUILD_VERSION = "dev"

var (
	configPath string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "codex-bridge [folder]",
	Short: "Chat with Codex agents, one per project folder",
	Long: `codex-bridge runs one Codex agent process per open folder and talks to
it over the agent's line-delimited JSON protocol.

Agents are started lazily on the first message of a scope and stopped,
together with every process they spawned, when the scope is closed.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runREPL,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), BUILD_VERSION)
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "additional settings file, applied last")
	rootCmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runREPL(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	settings, err := loadSettings(cwd)
	if err != nil {
		return err
	}

	logger, err := initializeLogger(settings)
	if err != nil {
		return err
	}
	defer logger.Sync() // Flush any buffered log entries

	logger.Info("-------- new codex-bridge session --------", zap.Any("args", os.Args))

	store, err := session.NewSQLStore(core.SessionDBFile())
	if err != nil {
		logger.Warn("session store unavailable, sessions will not be resumed", zap.Error(err))
		store = nil
	}
	var sessions session.Store
	if store != nil {
		sessions = store
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loop := mainloop.New(logger)
	loopDone := make(chan struct{})
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go func() {
		defer close(loopDone)
		loop.Run(loopCtx)
	}()
	defer func() {
		stopLoop()
		<-loopDone
	}()

	supervisor := process.NewSupervisor(nil, logger)
	supervisor.GracePeriod = settings.TerminateGrace

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	color := !noColor && os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stdout.Fd()))
	renderer := render.New(os.Stdout, color, func() int {
		width, _, err := term.GetSize(int(os.Stdout.Fd()))
		if err != nil {
			return 0
		}
		return width
	})

	var folder string
	if len(args) > 0 {
		folder = args[0]
	}

	r, err := repl.NewREPL(repl.Options{
		Settings:     settings,
		Store:        sessions,
		Loop:         loop,
		Supervisor:   supervisor,
		Renderer:     renderer,
		Logger:       logger,
		Cwd:          cwd,
		Folder:       folder,
		BuildVersion: BUILD_VERSION,
		Interactive:  interactive,
		Output:       os.Stdout,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	err = r.Run(ctx, os.Stdin)
	if err != nil && ctx.Err() != nil {
		// Interrupted; shutdown still runs through the deferred Close.
		return nil
	}
	return err
}

func loadSettings(cwd string) (*config.Settings, error) {
	paths := []string{core.UserSettingsFile(), core.ProjectSettingsFile(cwd)}
	if configPath != "" {
		paths = append(paths, configPath)
	}
	return config.Load(paths...)
}

func initializeLogger(settings *config.Settings) (*zap.Logger, error) {
	logLevel, err := zap.ParseAtomicLevel(settings.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", settings.LogLevel, err)
	}
	if BUILD_VERSION == "dev" {
		logLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = logLevel
	loggerConfig.OutputPaths = []string{
		core.LogFile(),
	}

	// Logs only go to file so they never interleave with the conversation.
	// Use `tail -f ~/.codex-bridge/codex-bridge.log` to follow them.
	return loggerConfig.Build()
}
