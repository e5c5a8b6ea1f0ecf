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

// Package idgen produces time-ordered identifiers for attributing logs and
// metrics to a single process.
package idgen

import (
	"encoding/base32"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/sony/sonyflake"
)

var defaultGenerator *SonyFlakeGenerator

func init() {
	var err error
	defaultGenerator, err = newFlakeGenerator()
	if err != nil {
		panic(err)
	}
}

type SonyFlakeGenerator struct {
	sf *sonyflake.Sonyflake
}

// Lambda sandboxes have no private IPv4 address sonyflake can derive a
// machine ID from, so fall back to a random one.
func newFlakeGenerator() (*SonyFlakeGenerator, error) {
	settings := sonyflake.Settings{
		StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		MachineID: func() (uint16, error) {
			return uint16(rand.UintN(1 << 16)), nil
		},
	}

	sf, err := sonyflake.New(settings)
	if err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, errors.New("failed to create Sonyflake instance")
	}
	return &SonyFlakeGenerator{sf: sf}, nil
}

// NextID returns a positive int64 that'll increase roughly in time order.
func (g *SonyFlakeGenerator) NextID() int64 {
	v, err := g.sf.NextID()
	if err != nil {
		return rand.Int64()
	}
	return int64(v)
}

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// NextBase32ID returns NextID as a short lower-case string.
func (g *SonyFlakeGenerator) NextBase32ID() string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(g.NextID()))
	return strings.ToLower(b32.EncodeToString(buf[:]))
}

func NextID() int64 {
	return defaultGenerator.NextID()
}

func NextBase32ID() string {
	return defaultGenerator.NextBase32ID()
}
