// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/objalert/config"
	"github.com/cardinalhq/objalert/internal/debugging"
	"github.com/cardinalhq/objalert/internal/ingest"
	"github.com/cardinalhq/objalert/internal/invoke"
	"github.com/cardinalhq/objalert/internal/logctx"
)

func init() {
	pipelineCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run enumeration, dispatch and analysis in this process",
		Long: `Run every stage in this process using the local invoker.  The batcher
chain runs to completion first, then the dispatcher drains the queue.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg.Invoke.Backend = config.InvokeLocal
			if cfg.Dispatcher.EmptyPollLimit == 0 {
				cfg.Dispatcher.EmptyPollLimit = 1
			}
			for _, stage := range invoke.Stages() {
				if err := cfg.Validate(stage); err != nil {
					return fmt.Errorf("invalid config for %s: %w", stage, err)
				}
			}

			doneCtx, doneFx, err := setupTelemetry("objalert-pipeline")
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			debugging.RunPprof(doneCtx)

			env, err := newEnvironment(doneCtx, cfg)
			if err != nil {
				return err
			}
			defer env.Close()

			return runPipeline(doneCtx, env)
		},
	}
	rootCmd.AddCommand(pipelineCmd)
}

// runPipeline needs an environment using the local invoker.
func runPipeline(ctx context.Context, env *environment) error {
	ll := logctx.FromContext(ctx)
	if env.local == nil {
		return fmt.Errorf("pipeline requires the local invoker")
	}

	ll.Info("Enumerating bucket")
	if err := env.invoker.InvokeAsync(ctx, invoke.StageBatcher, ingest.Continuation{}); err != nil {
		return err
	}
	if err := env.wait(); err != nil {
		return fmt.Errorf("enumeration: %w", err)
	}

	ll.Info("Dispatching queued keys")
	if err := env.invoker.InvokeAsync(ctx, invoke.StageDispatcher, struct{}{}); err != nil {
		return err
	}
	if err := env.wait(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	ll.Info("Pipeline complete",
		slog.Int("batcherInvocations", env.local.Count(invoke.StageBatcher)),
		slog.Int("dispatcherInvocations", env.local.Count(invoke.StageDispatcher)),
		slog.Int("analyzerInvocations", env.local.Count(invoke.StageAnalyzer)))
	return nil
}
