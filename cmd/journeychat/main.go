package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ZanzyTHEbar/journey-chat/jchat/config"
	"github.com/ZanzyTHEbar/journey-chat/jchat/db"
	"github.com/ZanzyTHEbar/journey-chat/jchat/harness"
	"github.com/ZanzyTHEbar/journey-chat/jchat/harness/adapters"
	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
	"github.com/ZanzyTHEbar/journey-chat/jchat/presenter"
	"github.com/ZanzyTHEbar/journey-chat/jchat/server"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	cfgPath  string
	logLevel string

	loader = config.NewLoader()
	cfg    *config.Config
	logger zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "journeychat [question]",
		Short: "Chat with your marketing journey analytics",
		Long: `Journey Chat answers questions about marketing journeys. The language model
can call the analytics tools exposed by a JSON-RPC tool host through a single
dispatcher function.

Examples:
  journeychat "How many journeys are live?"
  journeychat chat
  journeychat serve --port 8080
  journeychat tools
  journeychat config check`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loader.Load(cfgPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			logger = newLogger(cfg.Log.Level)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return runAsk(cmd.Context(), strings.Join(args, " "))
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default: search ./config.yaml, ~/.config/journeychat)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")

	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(configCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// newLogger writes human readable logs to stderr. The instance logs
// everything; the global level does the filtering so config reloads can change it.
func newLogger(level string) zerolog.Logger {
	setLevel(level)
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
		TimeFormat: time.Kitchen,
	}).
		Level(zerolog.TraceLevel).
		With().
		Timestamp().
		Logger()
}

func setLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// watchLogLevel follows log.level in the config file while a long running command is active.
func watchLogLevel() {
	if loader.ConfigFileUsed() == "" || logLevel != "" {
		return
	}
	loader.Watch(func(updated *config.Config, ev fsnotify.Event) {
		setLevel(updated.Log.Level)
		logger.Info().Str("file", ev.Name).Str("level", zerolog.GlobalLevel().String()).Msg("configuration reloaded")
	})
}

// openAuditDB opens the audit database when the audit log is enabled.
func openAuditDB(ctx context.Context) (*sql.DB, error) {
	if !cfg.Audit.Enabled {
		return nil, nil
	}
	return db.Connect(ctx, cfg.Audit.DSN, logger)
}

// newSession wires an orchestrator. The returned cleanup closes the audit database.
func newSession(ctx context.Context) (*harness.Orchestrator, func()) {
	auditDB, err := openAuditDB(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("audit log unavailable, continuing without it")
	}

	orch := harness.NewFactory(cfg, auditDB, logger).CreateOrchestrator()
	cleanup := func() {
		orch.Wait()
		if auditDB != nil {
			_ = auditDB.Close()
		}
	}

	if orch.Blocked() == nil {
		if _, err := orch.RefreshCatalog(ctx); err != nil {
			logger.Warn().Err(err).Msg("tool catalog could not be loaded yet")
		}
	}
	return orch, cleanup
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, cleanup := newSession(cmd.Context())
			defer cleanup()

			watchLogLevel()
			repl := presenter.NewREPL(orch, os.Stdin, os.Stdout, logger)
			if err := repl.Run(cmd.Context()); err != nil {
				return errBlocked(err)
			}
			return nil
		},
	}
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), strings.Join(args, " "))
		},
	}
}

func runAsk(ctx context.Context, question string) error {
	orch, cleanup := newSession(ctx)
	defer cleanup()

	render := presenter.NewRenderer(os.Stdout)
	if err := orch.Blocked(); err != nil {
		fmt.Println(render.Blocked(err))
		return errBlocked(err)
	}

	res, err := orch.Submit(ctx, question)
	if err != nil {
		return err
	}
	if res.Err != nil {
		fmt.Println(render.Message(res.Final))
		return fmt.Errorf("turn failed: %s", ports.Kind(res.Err))
	}
	fmt.Println(res.Final.Content)
	return nil
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port > 0 {
				cfg.Server.Port = port
			}
			orch, cleanup := newSession(cmd.Context())
			defer cleanup()

			if err := orch.Blocked(); err != nil {
				logger.Error().Err(err).Msg("serving in blocked mode until configuration is fixed")
			}
			watchLogLevel()
			return server.NewServer(orch, cfg.Server.Port, logger).Start(cmd.Context())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default: server.port)")
	return cmd
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools exposed by the tool host",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				fmt.Println(presenter.NewRenderer(os.Stdout).Blocked(err))
				return errBlocked(err)
			}

			host := harness.NewFactory(cfg, nil, logger).CreateToolHost(nil)
			schemas, err := host.ListTools(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list tools from %s: %w", host.Endpoint(), err)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tREQUIRED\tDESCRIPTION")
			for _, s := range schemas {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, strings.Join(s.Required, ","), s.Description)
			}
			return tw.Flush()
		},
	}
}

func auditCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent tool invocations from the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.Audit.Enabled {
				return errors.New("the audit log is disabled, set audit.enabled to true")
			}
			auditDB, err := openAuditDB(cmd.Context())
			if err != nil {
				return err
			}
			defer auditDB.Close()

			records, err := adapters.NewLibSQLAuditSink(auditDB).Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTOOL\tOUTCOME\tKIND\tDURATION\tARGUMENTS")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.CreatedAt.Local().Format(time.DateTime), r.ToolName, r.Outcome, r.ErrorKind, r.Duration, r.Arguments)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Report whether the configuration is complete",
		RunE: func(cmd *cobra.Command, args []string) error {
			file := loader.ConfigFileUsed()
			if file == "" {
				file = "(none, using defaults and environment)"
			}
			fmt.Printf("Config file:  %s\n", file)
			fmt.Printf("Model:        %s at %s\n", cfg.LLM.Model, cfg.LLM.BaseURL)
			fmt.Printf("Tool host:    %s%s\n", cfg.ToolHost.URL, cfg.ToolHost.RPCPath)
			fmt.Printf("Audit log:    %t (%s)\n", cfg.Audit.Enabled, cfg.Audit.DSN)

			if err := cfg.Validate(); err != nil {
				fmt.Println()
				fmt.Println(presenter.NewRenderer(os.Stdout).Blocked(err))
				return errBlocked(err)
			}
			fmt.Println("\nConfiguration is complete.")
			return nil
		},
	})
	return cmd
}

// errBlocked keeps the exit status non-zero without repeating the notice already printed.
func errBlocked(err error) error {
	if ports.Kind(err) == "configuration" {
		return errors.New("configuration incomplete")
	}
	return err
}
