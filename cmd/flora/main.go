package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"flora/internal/config"
	"flora/internal/export"
	"flora/internal/failover"
	"flora/internal/gemini"
	"flora/internal/logging"
	"flora/internal/studio"
	"flora/internal/tree"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose   bool
	apiKey    string
	workspace string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "flora",
	Short: "flora - branching image generation canvas",
	Long: `flora is an infinite canvas for branching AI image generation.

Every image is a node in a lineage tree: branch a node to generate a
variation (new pose, new clothing, new camera angle), and each branch
carries its full ancestry as context so identity and styling stay
consistent across generations.

Run without arguments to open the interactive canvas.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The interactive canvas owns the terminal; skip zap there.
		if cmd.CalledAs() != "flora" {
			zcfg := zap.NewProductionConfig()
			if verbose {
				zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = zcfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
		}
		if workspace == "" {
			root, err := config.FindWorkspaceRoot()
			if err != nil {
				return fmt.Errorf("failed to resolve workspace: %w", err)
			}
			workspace = root
		}
		return logging.Initialize(workspace)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCanvas()
	},
}

var keyCmd = &cobra.Command{
	Use:   "key [api-key]",
	Short: "Save the Gemini API key to the workspace config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadUserConfig(configPath())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.GeminiAPIKey = args[0]
		if err := cfg.Save(configPath()); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		logger.Info("API key saved", zap.String("workspace", workspace))
		fmt.Println("API key saved.")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed [prompt]",
	Short: "Generate a seed image from a prompt and export it",
	Long: `Generates a single seed image outside the canvas. The result is
written to the current directory as a JPEG.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := args[0]
		for _, a := range args[1:] {
			prompt += " " + a
		}

		cfg, err := config.LoadUserConfig(configPath())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		orch, store := buildStudio(cfg)

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		logger.Info("generating seed", zap.Int("prompt_len", len(prompt)))
		id, err := orch.NewSeed(ctx, prompt)
		if err != nil {
			return fmt.Errorf("seed generation failed: %w", err)
		}

		n, _ := store.Get(id)
		path, err := export.Node(n, ".")
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Printf("Seed written to %s\n", path)
		return nil
	},
}

func configPath() string {
	return filepath.Join(workspace, ".flora", "config.json")
}

// buildStudio wires the store, credential pool, and provider factory.
func buildStudio(cfg *config.UserConfig) (*studio.Orchestrator, *tree.Store) {
	userKey := apiKey
	if userKey == "" {
		userKey = cfg.GetGeminiAPIKey()
	}
	pool := failover.NewPool(userKey, config.EnvironmentAPIKey(), cfg.FallbackAPIKeys)

	factory := func(ctx context.Context, key string) (studio.Provider, error) {
		return gemini.NewClient(ctx, key, cfg)
	}

	store := tree.NewStore()
	return studio.New(store, pool, factory), store
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Gemini API key (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: nearest .flora root)")

	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(seedCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runCanvas starts the interactive canvas TUI with config hot-reload.
func runCanvas() error {
	cfg, err := config.LoadUserConfig(configPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	orch, store := buildStudio(cfg)

	m := newCanvasModel(store, orch, cfg, workspace)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseAllMotion())

	watcher, err := config.NewWatcher(configPath(), func(updated *config.UserConfig) {
		pool := failover.NewPool(updated.GetGeminiAPIKey(), config.EnvironmentAPIKey(), updated.FallbackAPIKeys)
		orch.UpdatePool(pool)
		p.Send(configReloadedMsg{keys: pool.Len()})
	})
	if err != nil {
		logging.ConfigWarn("config watcher unavailable: %v", err)
	} else {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := watcher.Start(ctx); err != nil {
			logging.ConfigWarn("config watcher failed to start: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	_, err = p.Run()
	return err
}
