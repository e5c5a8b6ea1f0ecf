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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cardinalhq/objalert/cmd"
)

// lambdaMemoryLimit reads the function's configured memory, which the
// sandbox does not expose through cgroups.
func lambdaMemoryLimit() (uint64, error) {
	mb := os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE")
	if mb == "" {
		return 0, memlimit.ErrNoLimit
	}
	n, err := strconv.ParseUint(mb, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("bad AWS_LAMBDA_FUNCTION_MEMORY_SIZE %q", mb)
	}
	return n << 20, nil
}

func tuneRuntime() {
	time.Local = time.UTC

	if _, err := maxprocs.Set(maxprocs.Logger(func(msg string, args ...any) {
		fmt.Fprintf(os.Stderr, msg+"\n", args...)
	})); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set GOMAXPROCS: %v\n", err)
	}

	_, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.8),
		memlimit.WithLogger(slog.Default()),
		memlimit.WithProvider(
			memlimit.ApplyFallback(
				lambdaMemoryLimit,
				memlimit.FromCgroup,
				memlimit.FromSystem,
			),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set GOMEMLIMIT: %v\n", err)
	}

	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(50)
	}
}

func main() {
	tuneRuntime()
	cmd.Execute()
}
