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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetBoolEnv(t *testing.T) {
	const name = "OBJALERT_TEST_BOOL"

	tests := []struct {
		value        string
		set          bool
		defaultValue bool
		expected     bool
	}{
		{"true", true, false, true},
		{"TRUE", true, false, true},
		{"1", true, false, true},
		{"Yes", true, false, true},
		{"enabled", true, false, true},
		{"false", true, true, false},
		{"OFF", true, true, false},
		{"0", true, true, false},
		{"disabled", true, true, false},
		{"  no  ", true, true, false},
		{"", true, true, true},
		{"", true, false, false},
		{"", false, true, true},
		{"whatever", true, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if tt.set {
				t.Setenv(name, tt.value)
			}
			assert.Equal(t, tt.expected, GetBoolEnv(name, tt.defaultValue))
		})
	}
}

func TestAnyBoolEnv(t *testing.T) {
	t.Setenv("OBJALERT_TEST_A", "")
	t.Setenv("OBJALERT_TEST_B", "1")
	assert.True(t, AnyBoolEnv("OBJALERT_TEST_A", "OBJALERT_TEST_B"))
	assert.False(t, AnyBoolEnv("OBJALERT_TEST_A"))
}
