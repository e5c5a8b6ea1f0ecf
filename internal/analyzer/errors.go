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

import "fmt"

// stageAlert marks a failure to publish after the matches were saved.
const stageAlert = "alert"

// ObjectError is a failure confined to one object.  It never aborts the
// other objects in the payload.
type ObjectError struct {
	Key   string
	Stage string
	Err   error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error { return e.Err }
