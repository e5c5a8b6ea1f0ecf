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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cardinalhq/objalert/internal/helpers"
)

const scratchPrefix = "objalert_"

// DefaultScratchDir is used when no scratch directory is configured.
func DefaultScratchDir() string {
	return filepath.Join(os.TempDir(), "objalert-scratch")
}

// SweepScratch removes scratch files an earlier run left in dir.  Only call
// it before any analysis in this process has started.
func SweepScratch(ctx context.Context, dir string) int {
	return helpers.SweepScratchDir(ctx, dir, scratchPrefix)
}

// Scratch is a uniquely named local file holding one downloaded object.
type Scratch struct {
	Path string
	file *os.File
}

// NewScratch creates an empty scratch file under dir.
func NewScratch(dir string) (*Scratch, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	p := filepath.Join(dir, scratchPrefix+uuid.NewString())
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	return &Scratch{Path: p, file: f}, nil
}

// File is the open scratch file, positioned wherever the last use left it.
func (s *Scratch) File() *os.File {
	return s.file
}

// Wipe truncates the file to zero length, then removes it.  It is safe to
// call more than once.
func (s *Scratch) Wipe() error {
	var errs []error
	if s.file != nil {
		errs = append(errs, s.file.Truncate(0), s.file.Close())
		s.file = nil
	} else if err := os.Truncate(s.Path, 0); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
