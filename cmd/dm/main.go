// Command dm is an AI dungeon master: it plays turns in a terminal, serves
// them over HTTP and exposes the game actions as an MCP server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"dmagent/cmd/dm/ui"
	"dmagent/internal/config"
	"dmagent/internal/game"
	"dmagent/internal/game/actions"
	"dmagent/internal/logging"
	"dmagent/internal/mcp"
	"dmagent/internal/server"
	"dmagent/internal/store"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "dm",
		Short:        "AI dungeon master with tool-backed game state",
		Version:      version,
		SilenceUsage: true,
	}

	root.AddCommand(
		newPlayCmd(),
		newServeCmd(),
		newActionsCmd(),
		newSchemaCmd(),
		newReviewCmd(),
		newRateCmd(),
	)
	return root
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func newPlayCmd() *cobra.Command {
	var playerID, sessionID string

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			session := ui.Session{PlayerID: playerID, SessionID: sessionID}

			key := store.SessionKey{PlayerID: playerID, SessionID: sessionID}
			if transcript, ok, err := a.store.ReadHistory(ctx, key); err != nil {
				a.debug.Printf("could not load history for %s: %v", key, err)
			} else if ok {
				session.Previous = game.ParseTranscript(transcript.Text)
			}

			model := ui.NewModel(a.director, a.registry, session, a.debug)
			p := tea.NewProgram(model, tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("terminal UI failed: %w", err)
			}
			fmt.Printf("Session %s saved. Resume with: dm play --player %s --session %s\n", sessionID, playerID, sessionID)
			return nil
		},
	}

	cmd.Flags().StringVar(&playerID, "player", "player", "player identifier")
	cmd.Flags().StringVar(&sessionID, "session", "", "session to resume (a new one is created when empty)")
	return cmd
}

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve turns and actions over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.HTTPAddr
			}
			srv := server.New(server.Config{
				Addr:        addr,
				Debug:       a.cfg.Debug,
				ReadTimeout: a.cfg.TurnTimeout,
				// Leave room for the error response after a timed out turn.
				WriteTimeout: a.cfg.TurnTimeout * 2,
			}, a.director, a.dispatcher, a.metrics, a.debug)

			fmt.Fprintf(cmd.ErrOrStderr(), "dm listening on %s\n", addr)
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to DM_HTTP_ADDR)")
	return cmd
}

func newActionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "Serve the game actions as MCP tools on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			return mcp.ServeStdio(ctx, mcp.NewServer(a.registry, version, a.debug))
		},
	}
}

func newSchemaCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the action group definition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema := actions.Schema()
			var (
				out []byte
				err error
			)
			switch strings.ToLower(format) {
			case "json":
				out, err = json.MarshalIndent(schema, "", "  ")
				out = append(out, '\n')
			case "yaml":
				out, err = yaml.Marshal(schema)
			default:
				return fmt.Errorf("unknown format %q (want json or yaml)", format)
			}
			if err != nil {
				return fmt.Errorf("failed to encode schema: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "output format: json or yaml")
	return cmd
}

func openCompletionsFromEnv() (*logging.CompletionLogger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return openCompletions(cfg)
}

func newReviewCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Show recent model completions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := openCompletionsFromEnv()
			if err != nil {
				return err
			}
			defer logger.Close()

			completions, err := logger.GetRecentCompletions(limit)
			if err != nil {
				return fmt.Errorf("failed to get completions: %w", err)
			}
			printCompletions(cmd.OutOrStdout(), completions)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of completions to show")
	return cmd
}

func newRateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rate <id> <rating> [notes]",
		Short: "Rate a completion from 1 to 5",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid ID: %w", err)
			}
			rating, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid rating: %w", err)
			}
			notes := strings.Join(args[2:], " ")

			logger, err := openCompletionsFromEnv()
			if err != nil {
				return err
			}
			defer logger.Close()

			if err := logger.RateCompletion(id, rating, notes); err != nil {
				return fmt.Errorf("failed to rate completion: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rated completion %d: %d/5\n", id, rating)
			return nil
		},
	}
}
