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

package alerts

import (
	"context"
	"log/slog"

	"github.com/cardinalhq/objalert/internal/analyzer"
	"github.com/cardinalhq/objalert/internal/logctx"
)

// Log writes alerts to the context logger.
type Log struct{}

var _ analyzer.Publisher = Log{}

func (Log) Publish(ctx context.Context, rec *analyzer.Record) error {
	logctx.FromContext(ctx).Warn(Subject(rec),
		slog.String("sha256", rec.SHA256),
		slog.String("location", rec.Location()),
		slog.String("path", rec.LogicalPath),
		slog.Any("rules", rec.RuleNames()))
	return nil
}
