package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/voicesearch/internal/config"
	"github.com/nvandessel/voicesearch/internal/dedup"
	"github.com/nvandessel/voicesearch/internal/embedder"
	"github.com/nvandessel/voicesearch/internal/engine"
	"github.com/nvandessel/voicesearch/internal/llm"
	"github.com/nvandessel/voicesearch/internal/mcp"
	"github.com/nvandessel/voicesearch/internal/render"
	"github.com/nvandessel/voicesearch/internal/server"
	"github.com/nvandessel/voicesearch/internal/store"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "voicesearch",
		Short: "Iterative voice design search",
		Long: `voicesearch runs interactive search sessions over voice-design
instructions: a text generator proposes candidate voices, each candidate is
rendered to audio, and human feedback steers the next round until the voice
is right or the iteration budget runs out.`,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Path to config file (YAML)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newMCPCmd(),
		newListCmd(),
		newExportCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]string{"version": version})
			} else {
				fmt.Printf("voicesearch version %s\n", version)
			}
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			eng, closeEngine, err := buildEngine(cfg, logger)
			if err != nil {
				return err
			}
			defer closeEngine()

			srv := &http.Server{
				Addr:    cfg.ListenAddr(),
				Handler: server.New(eng, cfg.DataDir, logger).Handler(),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server listening", "addr", srv.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
}

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Run as an MCP server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			eng, closeEngine, err := buildEngine(cfg, logger)
			if err != nil {
				return err
			}
			defer closeEngine()

			mcpSrv, err := mcp.NewServer(&mcp.Config{
				Name:    "voicesearch",
				Version: version,
				Service: eng,
				Logger:  logger,
			})
			if err != nil {
				return err
			}
			defer mcpSrv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return mcpSrv.Run(ctx)
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			ids, err := st.List(ctx)
			if err != nil {
				return fmt.Errorf("listing sessions: %w", err)
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"sessions": ids,
					"count":    len(ids),
				})
			}

			if len(ids) == 0 {
				fmt.Println("No sessions yet.")
				return nil
			}
			fmt.Printf("Sessions (%d):\n\n", len(ids))
			for _, id := range ids {
				s, err := st.Get(ctx, id)
				if err != nil {
					fmt.Printf("  %s (unreadable: %v)\n", id, err)
					continue
				}
				line := fmt.Sprintf("  %s  iters=%d/%d", id, s.CurrentIter(), s.Settings.MaxIters)
				if best := s.BestSoFar(); best != nil {
					line += fmt.Sprintf("  best=%s", best.CandID)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a session's full history as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			session, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(session, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding session: %w", err)
			}

			out, _ := cmd.Flags().GetString("output")
			if out == "" {
				fmt.Println(string(data))
				return nil
			}
			if err := os.WriteFile(out, data, 0644); err != nil {
				return fmt.Errorf("writing export: %w", err)
			}
			fmt.Printf("Exported %s to %s\n", args[0], out)
			return nil
		},
	}
	cmd.Flags().String("output", "", "Write export to a file instead of stdout")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return cfg, logger, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		return store.NewSQLiteStore(filepath.Join(cfg.DataDir, "voicesearch.db"))
	case config.StoreMemory:
		return store.NewMemoryStore(), nil
	default:
		return store.NewFileStore(cfg.DataDir)
	}
}

// buildEngine wires the full engine: store, generator, renderer, and the
// duplicate scorer. The returned func closes the store.
func buildEngine(cfg *config.Config, logger *slog.Logger) (*engine.Engine, func() error, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	genKey, err := cfg.GeneratorAPIKey()
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("generator: %w", err)
	}
	gen, err := llm.NewOpenAIGenerator(llm.OpenAIConfig{
		APIKey:  genKey,
		BaseURL: cfg.Generator.BaseURL,
		Model:   cfg.Generator.Model,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	renderKey, err := cfg.RendererAPIKey()
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("renderer: %w", err)
	}
	renderer, err := render.NewDashScopeRenderer(render.DashScopeConfig{
		APIKey:  renderKey,
		DataDir: cfg.DataDir,
		Timeout: cfg.Renderer.Timeout,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	scorer := dedup.NewScorer(func() (embedder.Embedder, error) {
		if cfg.Embedder.Backend == config.EmbedderLocal {
			return embedder.NewLocalEmbedder(), nil
		}
		key, err := cfg.EmbedderAPIKey()
		if err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
		return embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
			APIKey:  key,
			BaseURL: cfg.Embedder.BaseURL,
			Model:   cfg.Embedder.Model,
		})
	})

	eng, err := engine.New(engine.Config{
		Store:             st,
		Generator:         gen,
		Renderer:          renderer,
		Scorer:            scorer,
		RenderConcurrency: cfg.Renderer.Concurrency,
		Logger:            logger,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return eng, st.Close, nil
}
