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
	"path"
	"strings"
)

// Externals are the path-derived variables rules may condition on.
type Externals struct {
	// Extension is the lower-cased extension including the dot, e.g. ".exe".
	Extension string
	FileName  string
	FilePath  string
	// FileType is the extension upper-cased without the dot, e.g. "EXE".
	FileType string
}

// ExternalsFor derives the externals of a logical path.  Both slash styles
// are accepted since uploads may come from Windows hosts.
func ExternalsFor(logicalPath string) Externals {
	name := path.Base(strings.ReplaceAll(logicalPath, `\`, "/"))
	if name == "." || name == "/" {
		name = ""
	}
	ext := strings.ToLower(path.Ext(name))
	return Externals{
		Extension: ext,
		FileName:  name,
		FilePath:  logicalPath,
		FileType:  strings.ToUpper(strings.TrimPrefix(ext, ".")),
	}
}
