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

package rules

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

const (
	DefaultChunkSize = 1 << 20
	// DefaultMaxRegexScan bounds how much of a file regex strings examine.
	DefaultMaxRegexScan = 64 << 20
)

// Match is one rule that matched a file.
type Match struct {
	RuleFile string
	RuleName string
	Tags     []string
	Meta     map[string]string
	// MatchedStrings holds the distinct IDs of the strings found, sorted.
	MatchedStrings []string
}

// RuleSet is an immutable set of compiled rules.  It is safe for concurrent
// use.
type RuleSet struct {
	rules        []*compiledRule
	overlap      int
	chunkSize    int
	maxRegexScan int64
	hasNoCase    bool
}

type Option func(*RuleSet)

// WithChunkSize sets the read size of the literal scan.
func WithChunkSize(n int) Option {
	return func(rs *RuleSet) {
		if n > 0 {
			rs.chunkSize = n
		}
	}
}

func WithMaxRegexScan(n int64) Option {
	return func(rs *RuleSet) {
		if n > 0 {
			rs.maxRegexScan = n
		}
	}
}

// New builds a RuleSet from rule file contents keyed by rule file name.
func New(files map[string][]byte, opts ...Option) (*RuleSet, error) {
	rs := &RuleSet{
		chunkSize:    DefaultChunkSize,
		maxRegexScan: DefaultMaxRegexScan,
	}
	for _, o := range opts {
		o(rs)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		compiled, err := Parse(name, files[name])
		if err != nil {
			return nil, err
		}
		rs.rules = append(rs.rules, compiled...)
	}

	longest := 0
	for _, r := range rs.rules {
		for _, l := range r.literals {
			longest = max(longest, len(l.pattern))
			rs.hasNoCase = rs.hasNoCase || l.noCase
		}
	}
	rs.overlap = max(longest-1, 0)
	return rs, nil
}

// Load reads every .yaml and .yml file under dir.  Rule files are named by
// their slash-separated path relative to dir.
func Load(dir string, opts ...Option) (*RuleSet, error) {
	files := map[string][]byte{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".yaml", ".yml":
		default:
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load rules from %s: %w", dir, err)
	}
	return New(files, opts...)
}

// Count is the number of compiled rules.
func (rs *RuleSet) Count() int {
	return len(rs.rules)
}

// Match scans the file at path and returns every rule whose condition holds,
// in rule order.
func (rs *RuleSet) Match(ctx context.Context, path string, ext Externals) ([]Match, error) {
	var active []*compiledRule
	for _, r := range rs.rules {
		if r.appliesTo(ext) {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	found := make([]mapset.Set[string], len(active))
	for i := range found {
		found[i] = mapset.NewThreadUnsafeSet[string]()
	}

	if err := rs.scanLiterals(ctx, f, active, found); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	if err := rs.scanRegexes(ctx, f, active, found); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}

	var matches []Match
	for i, r := range active {
		if !r.condition.satisfied(found[i].Cardinality(), r.total()) {
			continue
		}
		ids := found[i].ToSlice()
		slices.Sort(ids)
		matches = append(matches, Match{
			RuleFile:       r.file,
			RuleName:       r.name,
			Tags:           r.tags,
			Meta:           r.meta,
			MatchedStrings: ids,
		})
	}
	return matches, nil
}

// scanLiterals reads the file once in chunks.  Each window starts with the
// last overlap bytes of the previous one so a literal split across a chunk
// boundary is still seen whole.
func (rs *RuleSet) scanLiterals(ctx context.Context, r io.Reader, active []*compiledRule, found []mapset.Set[string]) error {
	remaining := 0
	for _, cr := range active {
		remaining += len(cr.literals)
	}
	if remaining == 0 {
		return nil
	}

	buf := make([]byte, rs.overlap+rs.chunkSize)
	var lower []byte
	carry := 0
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(r, buf[carry:carry+rs.chunkSize])
		window := buf[:carry+n]

		if rs.hasNoCase {
			lower = append(lower[:0], window...)
			lower = bytes.ToLower(lower)
		}
		for i, cr := range active {
			for _, l := range cr.literals {
				if found[i].Contains(l.id) {
					continue
				}
				hay := window
				if l.noCase {
					hay = lower
				}
				if bytes.Contains(hay, l.pattern) {
					found[i].Add(l.id)
					remaining--
				}
			}
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}
		keep := min(rs.overlap, len(window))
		copy(buf, window[len(window)-keep:])
		carry = keep
	}
	return nil
}

func (rs *RuleSet) scanRegexes(ctx context.Context, f io.ReadSeeker, active []*compiledRule, found []mapset.Set[string]) error {
	for i, cr := range active {
		for _, id := range cr.regexOrder {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return err
			}
			br := bufio.NewReader(io.LimitReader(f, rs.maxRegexScan))
			if cr.regexes[id].MatchReader(br) {
				found[i].Add(id)
			}
		}
	}
	return nil
}
