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

package helpers

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cardinalhq/objalert/internal/logctx"
)

// SweepScratchDir removes the entries under dir whose names start with
// prefix.  Warm Lambda sandboxes keep /tmp between invocations, so a crashed
// analysis can leave files behind.  Errors are logged and otherwise ignored.
func SweepScratchDir(ctx context.Context, dir, prefix string) int {
	ll := logctx.FromContext(ctx)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			ll.Info("Failed to read scratch dir (ignoring)", slog.String("path", dir), slog.Any("error", err))
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			ll.Warn("Failed to remove scratch entry", slog.String("path", path), slog.Any("error", err))
			continue
		}
		removed++
	}
	if removed > 0 {
		ll.Info("Swept scratch dir", slog.String("path", dir), slog.Int("removed", removed))
	}
	return removed
}
