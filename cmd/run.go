// File: cmd/run.go

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/browser"
	"github.com/xkilldash9x/pilot-cli/internal/controller"
	"github.com/xkilldash9x/pilot-cli/internal/executor"
	"github.com/xkilldash9x/pilot-cli/internal/llmclient"
	"github.com/xkilldash9x/pilot-cli/internal/observability"
	"github.com/xkilldash9x/pilot-cli/internal/planner"
	"github.com/xkilldash9x/pilot-cli/internal/trace"
	"github.com/xkilldash9x/pilot-cli/internal/vault"
	"github.com/xkilldash9x/pilot-cli/internal/vlm"
)

// newRunCmd creates the `run` command: one intent, one browser session, one
// sequential pass over the plan.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run \"<intent>\"",
		Short: "Executes a natural-language intent against a live browser",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so they override config file and
			// environment values, then refresh the already-decoded config.
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			if err := viper.BindPFlag("agent.max_retries", cmd.Flags().Lookup("max-retries")); err != nil {
				return err
			}
			return viper.Unmarshal(&cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			intent := args[0]

			if err := resolveAPIKeys(); err != nil {
				return err
			}

			sink, cleanup, err := buildTraceSink(ctx, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize trace sink: %w", err)
			}
			defer cleanup()

			session, err := browser.NewSession(ctx, cfg.Browser, logger)
			if err != nil {
				return fmt.Errorf("failed to start browser session: %w", err)
			}
			defer session.Close()

			plannerClient, err := llmclient.New(llmclient.Config{
				Endpoint:   cfg.Planner.Endpoint,
				Model:      cfg.Planner.Model,
				APIKey:     cfg.Planner.APIKey,
				APITimeout: cfg.Planner.APITimeout,
			}, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize planner client: %w", err)
			}
			vlmClient, err := llmclient.New(llmclient.Config{
				Endpoint:   cfg.VLM.Endpoint,
				Model:      cfg.VLM.Model,
				APIKey:     cfg.VLM.APIKey,
				APITimeout: cfg.VLM.APITimeout,
			}, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize vision client: %w", err)
			}

			exec := executor.New(
				vlm.New(vlmClient, cfg.VLM.RequestsPerMinute, cfg.Agent.HistoryWindow, logger),
				session,
				sink,
				executor.Config{MaxRetries: cfg.Agent.MaxRetries, CallTimeout: cfg.Agent.CallTimeout},
				logger,
			)
			ctrl, err := controller.New(planner.New(plannerClient, cfg.Planner.Temperature, logger), exec, logger)
			if err != nil {
				return err
			}

			result, err := ctrl.Run(ctx, intent)
			if err != nil {
				var planErr *schemas.PlanningError
				if errors.As(err, &planErr) {
					return fmt.Errorf("aborted before any step ran: %w", planErr)
				}
				return err
			}

			return report(result, logger)
		},
	}

	runCmd.Flags().Bool("headless", true, "run the browser headless")
	runCmd.Flags().Int("max-retries", 3, "attempt budget per step")
	return runCmd
}

// resolveAPIKeys falls back to the encrypted vault for any service key the
// config and environment did not provide. The vault password itself only
// ever comes from the environment.
func resolveAPIKeys() error {
	if cfg.Planner.APIKey != "" && cfg.VLM.APIKey != "" {
		return nil
	}
	password := os.Getenv("PILOT_VAULT_PASSWORD")
	if password == "" {
		return fmt.Errorf("planner/vlm API keys missing; set PILOT_PLANNER_API_KEY and PILOT_VLM_API_KEY, or provide PILOT_VAULT_PASSWORD to read them from the vault")
	}
	v, err := vault.Open(cfg.Vault.File, password)
	if err != nil {
		return err
	}
	if err := v.Unlock(); err != nil {
		return err
	}
	defer v.Lock()

	if cfg.Planner.APIKey == "" {
		key, err := vault.LookupAPIKey(v, "planner")
		if err != nil {
			return fmt.Errorf("planner API key not in environment or vault: %w", err)
		}
		cfg.Planner.APIKey = key
	}
	if cfg.VLM.APIKey == "" {
		key, err := vault.LookupAPIKey(v, "vlm")
		if err != nil {
			return fmt.Errorf("vlm API key not in environment or vault: %w", err)
		}
		cfg.VLM.APIKey = key
	}
	return nil
}

func buildTraceSink(ctx context.Context, logger *zap.Logger) (schemas.TraceSink, func(), error) {
	switch cfg.Trace.Backend {
	case "memory":
		return trace.NewMemoryRecorder(), func() {}, nil
	case "file":
		rec, err := trace.NewFileRecorder(cfg.Trace.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return rec, func() { _ = rec.Close() }, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Trace.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		rec, err := trace.NewPostgresRecorder(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return rec, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown trace backend %q", cfg.Trace.Backend)
	}
}

// report prints the run summary. An aborted run returns an error so the
// process exits non-zero with the step index and reason.
func report(result *schemas.RunResult, logger *zap.Logger) error {
	for i, step := range result.Steps {
		logger.Info("Step outcome",
			zap.String("run_id", result.RunID),
			zap.Int("step", i),
			zap.String("status", string(step.Status)),
			zap.String("reason", step.Reason),
		)
	}
	if result.Status == schemas.RunAborted {
		return fmt.Errorf("run %s aborted at step %d: %s", result.RunID, result.AbortedAtStep, result.AbortReason)
	}

	fmt.Printf("Run %s succeeded (%d steps).\n", result.RunID, len(result.Steps))
	if cfg.Trace.Backend == "file" {
		fmt.Printf("Full attempt trace: %s\n", cfg.Trace.FilePath)
	}
	return nil
}
