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

// Package invoke triggers pipeline stages asynchronously, either as AWS
// Lambda functions or as goroutines in the current process.
package invoke

import (
	"context"
	"fmt"
)

// Invoker fires a stage with a JSON-encodable payload and returns once the
// trigger is accepted.  It never waits for the stage to finish.
type Invoker interface {
	InvokeAsync(ctx context.Context, stage Stage, payload any) error
}

// Error reports a failed trigger.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("invoke %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
