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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepScratchDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan_a"), []byte("x"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scan_sub", "deeper"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated"), []byte("keep"), 0o600))

	assert.Equal(t, 2, SweepScratchDir(context.Background(), dir, "scan_"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "unrelated", entries[0].Name())
}

func TestSweepScratchDirMissing(t *testing.T) {
	assert.Zero(t, SweepScratchDir(context.Background(), filepath.Join(t.TempDir(), "nope"), "scan_"))
}
