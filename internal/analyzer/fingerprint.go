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
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// DefaultChunkSize bounds the memory used to download and hash one object.
const DefaultChunkSize = 2 << 20

type Fingerprints struct {
	SHA256 string
	// MD5 is kept for compatibility with older match records only.
	MD5 string
}

// Fingerprint hashes r with SHA-256 and MD5 in a single pass, reading
// chunkSize bytes at a time.  The result does not depend on chunkSize.
func Fingerprint(r io.Reader, chunkSize int) (Fingerprints, int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	sha := sha256.New()
	legacy := md5.New()
	w := io.MultiWriter(sha, legacy)

	buf := make([]byte, chunkSize)
	n, err := io.CopyBuffer(w, onlyReader{r}, buf)
	if err != nil {
		return Fingerprints{}, n, err
	}
	return Fingerprints{
		SHA256: hex.EncodeToString(sha.Sum(nil)),
		MD5:    hex.EncodeToString(legacy.Sum(nil)),
	}, n, nil
}

// onlyReader hides WriterTo so io.CopyBuffer honours the buffer size.
type onlyReader struct {
	io.Reader
}
