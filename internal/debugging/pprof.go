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

// Package debugging exposes net/http/pprof for long local runs.
package debugging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strconv"
	"strings"
	"time"
)

// PprofPortEnv names the variable that enables the profiler.  Profiling is
// off unless it holds a port number.
const PprofPortEnv = "OBJALERT_PPROF_PORT"

// RunPprof serves pprof until ctx is done.  It returns immediately.
func RunPprof(ctx context.Context) {
	port := pprofPort(os.Getenv(PprofPortEnv))
	if port <= 0 {
		return
	}

	addr := fmt.Sprintf("localhost:%d", port)
	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting pprof server", slog.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Pprof server error", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		if err := server.Shutdown(context.Background()); err != nil {
			slog.Error("Error shutting down pprof server", slog.Any("error", err))
		}
	}()
}

func pprofPort(value string) int {
	value = strings.TrimSpace(value)
	switch strings.ToLower(value) {
	case "", "0", "false", "off":
		return 0
	}
	port, err := strconv.Atoi(value)
	if err != nil || port < 0 || port > 65535 {
		slog.Warn("Invalid pprof port, profiler disabled", slog.String("value", value))
		return 0
	}
	return port
}
