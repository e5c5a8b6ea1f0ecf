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

// Package rules loads pattern rules from YAML files and matches them against
// local files.
package rules

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of a rule file.
type File struct {
	Rules []Rule `yaml:"rules"`
}

type Rule struct {
	Name       string            `yaml:"name"`
	Tags       []string          `yaml:"tags,omitempty"`
	Meta       map[string]string `yaml:"meta,omitempty"`
	Extensions []string          `yaml:"extensions,omitempty"`
	Strings    []String          `yaml:"strings"`
	Condition  Condition         `yaml:"condition"`
}

// String is one pattern.  Exactly one of Text, Hex or Regex is set.
type String struct {
	ID     string `yaml:"id"`
	Text   string `yaml:"text,omitempty"`
	Hex    string `yaml:"hex,omitempty"`
	Regex  string `yaml:"regex,omitempty"`
	NoCase bool   `yaml:"nocase,omitempty"`
}

// Condition is how many strings must be found for a rule to match: any one
// of them, all of them, or at least N.
type Condition struct {
	All     bool
	AtLeast int
}

func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: condition must be any, all or a number", node.Line)
	}
	switch v := strings.ToLower(strings.TrimSpace(node.Value)); v {
	case "", "any":
		*c = Condition{AtLeast: 1}
	case "all":
		*c = Condition{All: true}
	default:
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("line %d: invalid condition %q", node.Line, node.Value)
		}
		*c = Condition{AtLeast: n}
	}
	return nil
}

func (c Condition) MarshalYAML() (any, error) {
	switch {
	case c.All:
		return "all", nil
	case c.AtLeast <= 1:
		return "any", nil
	default:
		return c.AtLeast, nil
	}
}

func (c Condition) satisfied(found, total int) bool {
	if found == 0 {
		return false
	}
	if c.All {
		return found == total
	}
	return found >= max(c.AtLeast, 1)
}

type literal struct {
	id      string
	pattern []byte
	noCase  bool
}

type compiledRule struct {
	file       string
	name       string
	tags       []string
	meta       map[string]string
	extensions map[string]struct{}
	literals   []literal
	regexes    map[string]*regexp.Regexp
	regexOrder []string
	condition  Condition
}

func (r *compiledRule) total() int {
	return len(r.literals) + len(r.regexes)
}

func (r *compiledRule) appliesTo(ext Externals) bool {
	if len(r.extensions) == 0 {
		return true
	}
	_, ok := r.extensions[ext.Extension]
	return ok
}

// Parse decodes and compiles the rules in one rule file.  ruleFile names the
// file in match results.
func Parse(ruleFile string, data []byte) ([]*compiledRule, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%s: %w", ruleFile, err)
	}

	seen := map[string]bool{}
	out := make([]*compiledRule, 0, len(f.Rules))
	for i, r := range f.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("%s: rule %d has no name", ruleFile, i)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("%s: duplicate rule %q", ruleFile, r.Name)
		}
		seen[r.Name] = true

		cr, err := compile(ruleFile, r)
		if err != nil {
			return nil, fmt.Errorf("%s: rule %q: %w", ruleFile, r.Name, err)
		}
		out = append(out, cr)
	}
	return out, nil
}

func compile(ruleFile string, r Rule) (*compiledRule, error) {
	if len(r.Strings) == 0 {
		return nil, errors.New("no strings")
	}
	if r.Condition.AtLeast > len(r.Strings) {
		return nil, fmt.Errorf("condition needs %d strings but only %d defined", r.Condition.AtLeast, len(r.Strings))
	}
	cond := r.Condition
	if !cond.All && cond.AtLeast == 0 {
		cond.AtLeast = 1
	}

	cr := &compiledRule{
		file:      ruleFile,
		name:      r.Name,
		tags:      r.Tags,
		meta:      r.Meta,
		regexes:   map[string]*regexp.Regexp{},
		condition: cond,
	}
	if len(r.Extensions) > 0 {
		cr.extensions = make(map[string]struct{}, len(r.Extensions))
		for _, e := range r.Extensions {
			e = strings.ToLower(e)
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			cr.extensions[e] = struct{}{}
		}
	}

	ids := map[string]bool{}
	for _, s := range r.Strings {
		if s.ID == "" {
			return nil, errors.New("string without id")
		}
		if ids[s.ID] {
			return nil, fmt.Errorf("duplicate string id %q", s.ID)
		}
		ids[s.ID] = true

		set := 0
		for _, v := range []string{s.Text, s.Hex, s.Regex} {
			if v != "" {
				set++
			}
		}
		if set != 1 {
			return nil, fmt.Errorf("string %s: exactly one of text, hex or regex is required", s.ID)
		}

		switch {
		case s.Text != "":
			p := []byte(s.Text)
			if s.NoCase {
				p = bytes.ToLower(p)
			}
			cr.literals = append(cr.literals, literal{id: s.ID, pattern: p, noCase: s.NoCase})
		case s.Hex != "":
			p, err := hex.DecodeString(strings.Join(strings.Fields(s.Hex), ""))
			if err != nil {
				return nil, fmt.Errorf("string %s: %w", s.ID, err)
			}
			cr.literals = append(cr.literals, literal{id: s.ID, pattern: p})
		default:
			expr := s.Regex
			if s.NoCase {
				expr = "(?i)" + expr
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("string %s: %w", s.ID, err)
			}
			cr.regexes[s.ID] = re
			cr.regexOrder = append(cr.regexOrder, s.ID)
		}
	}
	return cr, nil
}
