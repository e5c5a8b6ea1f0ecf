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
	"io"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/objalert/internal/rules"
)

func init() {
	var dir string
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Work with detection rule files",
	}
	rulesCmd.PersistentFlags().StringVar(&dir, "dir", "rules", "Directory of rule files")

	rulesCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Parse and compile every rule file",
		RunE: func(c *cobra.Command, _ []string) error {
			rs, err := rules.Load(dir)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(c.OutOrStdout(), "%d rules loaded from %s\n", rs.Count(), dir)
			return err
		},
	})

	rulesCmd.AddCommand(&cobra.Command{
		Use:   "match FILE...",
		Short: "Match local files against the rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			rs, err := rules.Load(dir)
			if err != nil {
				return err
			}
			return matchFiles(c.Context(), c.OutOrStdout(), rs, args)
		},
	})

	rootCmd.AddCommand(rulesCmd)
}

func matchFiles(ctx context.Context, w io.Writer, rs *rules.RuleSet, paths []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make(map[string][]rules.Match, len(paths))
	for _, p := range paths {
		ms, err := rs.Match(ctx, p, rules.ExternalsFor(p))
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		results[p] = ms
	}
	return writeJSON(w, results)
}
