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
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/objalert/config"
	"github.com/cardinalhq/objalert/internal/invoke"
)

func init() {
	var stageName string
	lambdaCmd := &cobra.Command{
		Use:   "lambda",
		Short: "Serve one stage as an AWS Lambda function",
		RunE: func(_ *cobra.Command, _ []string) error {
			stage, err := invoke.ParseStage(stageName)
			if err != nil {
				return err
			}
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

			env, err := newEnvironment(doneCtx, cfg)
			if err != nil {
				return err
			}

			slog.Info("Starting Lambda handler", slog.String("stage", stage.String()))
			lambda.StartWithOptions(
				func(ctx context.Context, payload json.RawMessage) (any, error) {
					return env.invoke(ctx, stage, payload)
				},
				lambda.WithContext(doneCtx),
				lambda.WithEnableSIGTERM(func() {
					env.Close()
					if err := doneFx(); err != nil {
						slog.Error("Error shutting down telemetry", slog.Any("error", err))
					}
				}),
			)
			return nil
		},
	}
	lambdaCmd.Flags().StringVar(&stageName, "stage", os.Getenv("OBJALERT_STAGE"), "Stage to serve: batcher, dispatcher or analyzer")
	rootCmd.AddCommand(lambdaCmd)
}
