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

// Package matchstore records which (fingerprint, rule) pairs have been seen,
// so each is alerted on only once per rule version.
package matchstore

import (
	"encoding/json"
	"fmt"

	"github.com/cardinalhq/objalert/internal/analyzer"
)

// entry is one (fingerprint, rule) row.
type entry struct {
	SHA256      string
	RuleKey     string
	RuleVersion int
	RuleFile    string
	RuleName    string
	MD5         string
	Location    string
	LogicalPath string
	Summary     []byte
}

func entries(rec *analyzer.Record, ruleVersion int) ([]entry, error) {
	summary, err := json.Marshal(rec.Summary())
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	out := make([]entry, 0, len(rec.Matches))
	for _, m := range rec.Matches {
		out = append(out, entry{
			SHA256:      rec.SHA256,
			RuleKey:     analyzer.RuleKey(ruleVersion, m),
			RuleVersion: ruleVersion,
			RuleFile:    m.RuleFile,
			RuleName:    m.RuleName,
			MD5:         rec.MD5,
			Location:    rec.Location(),
			LogicalPath: rec.LogicalPath,
			Summary:     summary,
		})
	}
	return out, nil
}
