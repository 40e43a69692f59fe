package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"truce/internal/claims"
	"truce/internal/config"
	"truce/internal/explorer"
	"truce/internal/models"
	"truce/internal/panel"
	"truce/internal/progress"
	"truce/internal/research"
	"truce/internal/search"
	"truce/internal/server"
	"truce/internal/verification"
)

var (
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "truce",
	Short: "truce - claim adjudication engine",
	Long: `truce orchestrates a panel of LLM agents that research a claim on
the open web and produce dual-sided verdicts (approval and refusal,
each with its own confidence). Verdicts are aggregated
deterministically and verification outcomes are cached.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// engine is the fully wired component graph.
type engine struct {
	cfg      *config.Config
	lexicon  *config.Lexicon
	bus      *progress.Bus
	claims   *claims.Service
	verifier *verification.Service
	archive  *verification.Archive
}

func buildEngine(withArchive bool) (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	lexicon := config.NewLexicon(cfg.Lexicon)
	bus := progress.NewBus(logger)

	brave := search.NewBraveClient(search.BraveClientConfig{
		APIKey:     cfg.Search.BraveAPIKey,
		BaseURL:    cfg.Search.BraveBaseURL,
		MaxResults: cfg.Search.MaxResults,
		RPS:        cfg.Search.SearchRPS,
	}, bus, logger)
	fetcher := search.NewFetcher(cfg.GetFetchTimeout(), cfg.Search.FetchRPS, logger)

	exp := explorer.New(explorer.Config{
		TargetSourceCount: cfg.Explorer.TargetSourceCount,
		MaxDomainShare:    cfg.Explorer.MaxDomainShare,
	}, brave, fetcher, bus, logger)

	researchCfg := research.Config{
		MaxTurns:          cfg.Research.MaxTurns,
		SufficientSources: cfg.Research.SufficientSources,
		SufficientDomains: cfg.Research.SufficientDomains,
		ResultsPerQuery:   cfg.Research.ResultsPerQuery,
		TargetSites:       cfg.Research.TargetSites,
	}

	factory := panel.NewFactory(cfg.Providers, cfg.GetProviderTimeout(), cfg.Panel.MaxTokens, logger)
	evaluator := panel.NewEvaluator(lexicon, logger)
	orchestrator := panel.NewOrchestrator(factory, evaluator, brave, researchCfg, bus, logger)

	var archive *verification.Archive
	if withArchive && cfg.Verification.ArchivePath != "" {
		archive, err = verification.OpenArchive(cfg.Verification.ArchivePath)
		if err != nil {
			return nil, err
		}
	}
	verifier := verification.NewService(exp, archive, logger)

	claimsSvc := claims.NewService(claims.NewRegistry(), orchestrator, bus, lexicon,
		cfg.Panel.Models, cfg.GetEvaluationTimeout(), logger)

	return &engine{
		cfg:      cfg,
		lexicon:  lexicon,
		bus:      bus,
		claims:   claimsSvc,
		verifier: verifier,
		archive:  archive,
	}, nil
}

func (e *engine) close() {
	if e.archive != nil {
		if err := e.archive.Close(); err != nil {
			logger.Warn("failed to close verification archive", zap.Error(err))
		}
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the adjudicator HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine(true)
		if err != nil {
			return err
		}
		defer eng.close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		if err := eng.lexicon.Watch(ctx, logger); err != nil {
			logger.Warn("lexicon hot-reload disabled", zap.Error(err))
		}

		srv := server.New(eng.cfg, eng.claims, eng.verifier, eng.bus, logger)
		httpSrv := &http.Server{
			Addr:    eng.cfg.Server.Addr,
			Handler: srv.Handler(),
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("server listening",
				zap.String("addr", eng.cfg.Server.Addr),
				zap.Strings("panel_models", eng.cfg.Panel.Models))
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			logger.Info("shutting down", zap.String("signal", sig.String()))
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), eng.cfg.GetShutdownTimeout())
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to drain server: %w", err)
		}
		return nil
	},
}

var (
	verifyTopic     string
	verifyTimeStart string
	verifyTimeEnd   string
	verifyForce     bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify [claim text]",
	Short: "Gather sources for a claim and print the verification record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine(false)
		if err != nil {
			return err
		}
		defer eng.close()

		claim, err := models.NewClaim(args[0], verifyTopic, nil)
		if err != nil {
			return err
		}

		window := models.TimeWindow{}
		if window.Start, err = parseFlagTime(verifyTimeStart); err != nil {
			return fmt.Errorf("invalid --time-start: %w", err)
		}
		if window.End, err = parseFlagTime(verifyTimeEnd); err != nil {
			return fmt.Errorf("invalid --time-end: %w", err)
		}
		if window.Start != nil && window.End != nil && window.Start.After(*window.End) {
			return fmt.Errorf("--time-start must be before --time-end")
		}

		slug := claims.UniqueSlug(claim.Text)
		resp, err := eng.verifier.Verify(cmd.Context(), slug, claim, window,
			eng.cfg.VerificationProviders(), verifyForce, "")
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(map[string]any{
			"slug":         slug,
			"verification": resp,
			"evidence":     claim.Evidence,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func parseFlagTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			utc := ts.UTC()
			return &utc, nil
		}
	}
	return nil, fmt.Errorf("unparseable timestamp %q", value)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "truce.yaml", "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	verifyCmd.Flags().StringVar(&verifyTopic, "topic", "ad-hoc", "claim topic")
	verifyCmd.Flags().StringVar(&verifyTimeStart, "time-start", "", "evidence window start (ISO 8601)")
	verifyCmd.Flags().StringVar(&verifyTimeEnd, "time-end", "", "evidence window end (ISO 8601)")
	verifyCmd.Flags().BoolVar(&verifyForce, "force", false, "bypass the verification cache")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(verifyCmd)
}

func main() {
	// Provider keys are commonly kept in a local .env during development.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
