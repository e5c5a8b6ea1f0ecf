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
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScratchWipe(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scratch")
	s, err := NewScratch(dir)
	require.NoError(t, err)

	_, err = s.File().Write([]byte("payload"))
	require.NoError(t, err)

	other, err := NewScratch(dir)
	require.NoError(t, err)
	assert.NotEqual(t, s.Path, other.Path)

	require.NoError(t, s.Wipe())
	_, err = os.Stat(s.Path)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, s.Wipe(), "second wipe is a no-op")

	require.NoError(t, other.Wipe())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSweepScratchLeavesOtherFiles(t *testing.T) {
	dir := t.TempDir()
	left, err := NewScratch(dir)
	require.NoError(t, err)
	require.NoError(t, left.File().Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.txt"), []byte("keep"), 0o600))

	assert.Equal(t, 1, SweepScratch(context.Background(), dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "report.txt", entries[0].Name())
}
