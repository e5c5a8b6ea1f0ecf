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

// Package s3event encodes and decodes the S3 "object created" notification
// envelope used as the body of every queue message in the pipeline.  Messages
// produced by bucket enumeration and messages produced natively by S3 share
// this shape, so the dispatcher parses both the same way.
package s3event

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

type event struct {
	Records []record `json:"Records"`
}

type record struct {
	S3 entity `json:"s3"`
}

type entity struct {
	Object object `json:"object"`
}

type object struct {
	Key string `json:"key"`
}

// MalformedError is returned by Decode when a message body is not a usable
// object-created envelope.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed s3 event: %s: %v", e.Reason, e.Err)
	}
	return "malformed s3 event: " + e.Reason
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err (or anything it wraps) is a MalformedError.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

// Encode builds a message body carrying one record per key.  Keys are
// written as is.
func Encode(keys []string) ([]byte, error) {
	if len(keys) == 0 {
		return nil, errors.New("cannot encode an s3 event with no keys")
	}
	evt := event{Records: make([]record, 0, len(keys))}
	for _, key := range keys {
		evt.Records = append(evt.Records, record{S3: entity{Object: object{Key: key}}})
	}
	return json.Marshal(evt)
}

type decodeConfig struct {
	unescape bool
}

type DecodeOption func(*decodeConfig)

// WithFormEscapedKeys undoes the form escaping S3 applies to keys in its own
// notifications.  A key that does not unescape cleanly is kept as written.
func WithFormEscapedKeys() DecodeOption {
	return func(c *decodeConfig) {
		c.unescape = true
	}
}

// Decode extracts every object key from a message body.  The whole message is
// rejected if any record is missing its key; a partially understood message
// is not trusted.
func Decode(body []byte, opts ...DecodeOption) ([]string, error) {
	var cfg decodeConfig
	for _, o := range opts {
		o(&cfg)
	}

	var evt struct {
		Records *[]struct {
			S3 *struct {
				Object *struct {
					Key *string `json:"key"`
				} `json:"object"`
			} `json:"s3"`
		} `json:"Records"`
	}
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, &MalformedError{Reason: "invalid json", Err: err}
	}
	if evt.Records == nil {
		return nil, &MalformedError{Reason: "missing Records"}
	}
	if len(*evt.Records) == 0 {
		return nil, &MalformedError{Reason: "no records"}
	}

	keys := make([]string, 0, len(*evt.Records))
	for i, rec := range *evt.Records {
		if rec.S3 == nil || rec.S3.Object == nil || rec.S3.Object.Key == nil {
			return nil, &MalformedError{Reason: fmt.Sprintf("record %d has no s3.object.key", i)}
		}
		key := *rec.S3.Object.Key
		if cfg.unescape {
			if unescaped, err := url.QueryUnescape(key); err == nil {
				key = unescaped
			}
		}
		if key == "" {
			return nil, &MalformedError{Reason: fmt.Sprintf("record %d has an empty key", i)}
		}
		keys = append(keys, key)
	}
	return keys, nil
}
