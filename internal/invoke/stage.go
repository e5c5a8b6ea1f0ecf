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

package invoke

import (
	"fmt"
	"strings"
)

// Stage identifies one of the pipeline's bounded units of work.
type Stage int

const (
	StageUnknown Stage = iota
	StageBatcher
	StageDispatcher
	StageAnalyzer
)

var stageNames = map[Stage]string{
	StageBatcher:    "batcher",
	StageDispatcher: "dispatcher",
	StageAnalyzer:   "analyzer",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Stages lists every valid stage in pipeline order.
func Stages() []Stage {
	return []Stage{StageBatcher, StageDispatcher, StageAnalyzer}
}

// ParseStage maps a stage name, case-insensitively, to its Stage.
func ParseStage(name string) (Stage, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, s := range Stages() {
		if stageNames[s] == name {
			return s, nil
		}
	}
	return StageUnknown, fmt.Errorf("unknown stage %q", name)
}
