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

package analyzer

import (
	"fmt"
	"slices"
	"time"

	"github.com/cardinalhq/objalert/internal/rules"
)

// Record is everything learned about one object during one analysis.
type Record struct {
	Bucket         string
	Key            string
	LogicalPath    string
	Size           int64
	SHA256         string
	MD5            string
	ReportedSHA256 string
	Download       time.Duration
	Matches        []rules.Match
	ScratchPath    string
}

// Location identifies the object in results and alerts.
func (r *Record) Location() string {
	return fmt.Sprintf("S3:%s:%s", r.Bucket, r.Key)
}

// RuleNames returns the distinct names of the matched rules, sorted.
func (r *Record) RuleNames() []string {
	names := make([]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		names = append(names, m.RuleName)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

type FileInfo struct {
	MD5            string `json:"MD5"`
	S3Location     string `json:"S3Location"`
	SHA256         string `json:"SHA256"`
	ReportedSHA256 string `json:"ReportedSHA256"`
	LogicalPath    string `json:"LogicalPath"`
	Size           int64  `json:"Size"`
	DownloadMillis int64  `json:"DownloadMillis"`
}

type RuleSummary struct {
	RuleFile       string            `json:"RuleFile"`
	RuleName       string            `json:"RuleName"`
	RuleTags       []string          `json:"RuleTags"`
	RuleMetadata   map[string]string `json:"RuleMetadata"`
	MatchedStrings []string          `json:"MatchedStrings"`
}

// Summary is the structured result of analyzing one object.  MatchedRules is
// keyed Rule1, Rule2, ... in match order.
type Summary struct {
	FileInfo        FileInfo               `json:"FileInfo"`
	MatchedRules    map[string]RuleSummary `json:"MatchedRules"`
	NumMatchedRules int                    `json:"NumMatchedRules"`
}

func (r *Record) Summary() Summary {
	s := Summary{
		FileInfo: FileInfo{
			MD5:            r.MD5,
			S3Location:     r.Location(),
			SHA256:         r.SHA256,
			ReportedSHA256: r.ReportedSHA256,
			LogicalPath:    r.LogicalPath,
			Size:           r.Size,
			DownloadMillis: r.Download.Milliseconds(),
		},
		MatchedRules:    make(map[string]RuleSummary, len(r.Matches)),
		NumMatchedRules: len(r.Matches),
	}
	for i, m := range r.Matches {
		tags := m.Tags
		if tags == nil {
			tags = []string{}
		}
		meta := m.Meta
		if meta == nil {
			meta = map[string]string{}
		}
		s.MatchedRules[fmt.Sprintf("Rule%d", i+1)] = RuleSummary{
			RuleFile:       m.RuleFile,
			RuleName:       m.RuleName,
			RuleTags:       tags,
			RuleMetadata:   meta,
			MatchedStrings: m.MatchedStrings,
		}
	}
	return s
}

// RuleKey identifies one rule under one deployed rule version.
func RuleKey(ruleVersion int, m rules.Match) string {
	return fmt.Sprintf("%d:%s:%s", ruleVersion, m.RuleFile, m.RuleName)
}
