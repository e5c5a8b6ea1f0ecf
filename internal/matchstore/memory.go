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

package matchstore

import (
	"context"
	"sync"

	"github.com/cardinalhq/objalert/internal/analyzer"
)

// Memory keeps match records in process memory.
type Memory struct {
	mu   sync.Mutex
	rows map[[2]string]entry
}

var _ analyzer.MatchStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{rows: map[[2]string]entry{}}
}

func (m *Memory) Save(_ context.Context, rec *analyzer.Record, ruleVersion int) (bool, error) {
	es, err := entries(rec, ruleVersion)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	first := false
	for _, e := range es {
		k := [2]string{e.SHA256, e.RuleKey}
		if _, ok := m.rows[k]; ok {
			continue
		}
		m.rows[k] = e
		first = true
	}
	return first, nil
}

func (m *Memory) Forget(_ context.Context, rec *analyzer.Record, ruleVersion int) error {
	es, err := entries(rec, ruleVersion)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range es {
		delete(m.rows, [2]string{e.SHA256, e.RuleKey})
	}
	return nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}
