/*
Copyright The CloudNativePG Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package postgres

import (
	"fmt"
	"strconv"
	"strings"
)

// LSN represents a PostgreSQL log sequence number, in the "XXXXXXXX/XXXXXXXX" wire format.
type LSN string

// Parse converts the LSN to a single 64-bit integer, the way pg_lsn does internally.
func (lsn LSN) Parse() (int64, error) {
	parts := strings.Split(string(lsn), "/")
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad LSN format: %v", lsn)
	}

	high, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("bad LSN format: %v, err: %w", lsn, err)
	}

	low, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("bad LSN format: %v, err: %w", lsn, err)
	}

	return int64(high<<32 + low), nil
}

// Diff computes the distance, in bytes, between this LSN and the other one.
// Returns nil if either LSN cannot be parsed.
func (lsn LSN) Diff(other LSN) *int64 {
	lsn1, err := lsn.Parse()
	if err != nil {
		return nil
	}

	lsn2, err := other.Parse()
	if err != nil {
		return nil
	}

	res := lsn1 - lsn2
	return &res
}

// String returns the wire representation of the LSN.
func (lsn LSN) String() string {
	return string(lsn)
}
