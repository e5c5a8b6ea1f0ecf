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

// Package alerts publishes notifications for newly observed matches.
package alerts

import (
	"fmt"
	"strings"

	"github.com/cardinalhq/objalert/internal/analyzer"
)

const maxSubjectLen = 100

// Subject is a one-line description of rec, capped at 100 characters.
func Subject(rec *analyzer.Record) string {
	s := fmt.Sprintf("[objalert] %s found in %s", strings.Join(rec.RuleNames(), ", "), rec.Location())
	if len(s) > maxSubjectLen {
		s = s[:maxSubjectLen-3] + "..."
	}
	return s
}
