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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/objalert/config"
	"github.com/cardinalhq/objalert/internal/dispatch"
	"github.com/cardinalhq/objalert/internal/ingest"
	"github.com/cardinalhq/objalert/internal/invoke"
)

const defaultBudget = 15 * time.Minute

func init() {
	var (
		token  string
		budget time.Duration
	)
	enumerateCmd := &cobra.Command{
		Use:   "enumerate",
		Short: "List the bucket and queue its keys for analysis",
		RunE: func(c *cobra.Command, _ []string) error {
			cont := ingest.Continuation{}
			if token != "" {
				cont.ContinuationToken = &token
			}
			payload, err := json.Marshal(cont)
			if err != nil {
				return err
			}
			return runOnce(c, invoke.StageBatcher, payload, budget)
		},
	}
	enumerateCmd.Flags().StringVar(&token, "continuation", "", "S3 continuation token to resume listing from")
	enumerateCmd.Flags().DurationVar(&budget, "budget", defaultBudget, "Time budget for this invocation")
	rootCmd.AddCommand(enumerateCmd)
}

func init() {
	var budget time.Duration
	dispatchCmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Drain queued keys into analyzer invocations",
		RunE: func(c *cobra.Command, _ []string) error {
			return runOnce(c, invoke.StageDispatcher, []byte("{}"), budget)
		},
	}
	dispatchCmd.Flags().DurationVar(&budget, "budget", defaultBudget, "Time budget for this invocation")
	rootCmd.AddCommand(dispatchCmd)
}

func init() {
	var (
		keys   []string
		budget time.Duration
	)
	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze specific objects without going through the queue",
		RunE: func(c *cobra.Command, _ []string) error {
			if len(keys) == 0 {
				return fmt.Errorf("at least one --key is required")
			}
			payload, err := json.Marshal(dispatch.Payload{S3Objects: keys})
			if err != nil {
				return err
			}
			return runOnce(c, invoke.StageAnalyzer, payload, budget)
		},
	}
	analyzeCmd.Flags().StringArrayVar(&keys, "key", nil, "Object key to analyze (repeatable)")
	analyzeCmd.Flags().DurationVar(&budget, "budget", defaultBudget, "Time budget for this invocation")
	rootCmd.AddCommand(analyzeCmd)
}

// runOnce runs a single invocation of stage in this process, waits for any
// stages it triggers locally, and prints the stage result as JSON.
func runOnce(c *cobra.Command, stage invoke.Stage, payload []byte, budget time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(stage); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	doneCtx, doneFx, err := setupTelemetry("objalert-" + stage.String())
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := doneFx(); err != nil {
			slog.Error("Error shutting down telemetry", slog.Any("error", err))
		}
	}()

	env, err := newEnvironment(doneCtx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := context.WithTimeout(doneCtx, budget)
	defer cancel()
	res, err := env.invoke(ctx, stage, payload)
	if err != nil {
		return stopCause(doneCtx, err)
	}
	if err := env.wait(); err != nil {
		return err
	}
	return writeJSON(c.OutOrStdout(), res)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
