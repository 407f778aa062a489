/*
Copyright 2019-2022 The CloudNativePG Contributors

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
	"path/filepath"
	"regexp"
)

// DefaultWALSegmentSize is the default size of a WAL segment, in bytes.
const DefaultWALSegmentSize int64 = 16 * 1024 * 1024

var walSegmentName = regexp.MustCompile(`^[0-9A-Fa-f]{24}$`)

// Segment identifies a WAL segment by timeline, logical log file and
// segment number within that logical log file.
type Segment struct {
	Timeline  uint32
	LogID     uint32
	SegmentID uint32
}

// Name renders the segment in its canonical 24-hex-digit file name.
func (s Segment) Name() string {
	return fmt.Sprintf("%08X%08X%08X", s.Timeline, s.LogID, s.SegmentID)
}

// SegmentFromName parses a WAL segment file name into a Segment.
func SegmentFromName(name string) (Segment, error) {
	if !walSegmentName.MatchString(name) {
		return Segment{}, fmt.Errorf("invalid WAL segment name: %v", name)
	}

	var timeline, logID, segmentID uint32
	if _, err := fmt.Sscanf(name, "%08X%08X%08X", &timeline, &logID, &segmentID); err != nil {
		return Segment{}, fmt.Errorf("invalid WAL segment name: %v: %w", name, err)
	}

	return Segment{Timeline: timeline, LogID: logID, SegmentID: segmentID}, nil
}

// MustSegmentFromName is SegmentFromName, panicking on error. Intended for
// use with compile-time-known-good names (tests, constants).
func MustSegmentFromName(name string) Segment {
	segment, err := SegmentFromName(name)
	if err != nil {
		panic(err)
	}
	return segment
}

// NextSegments generates the `size` segments starting at s (inclusive),
// advancing the logical log file when the per-file segment budget implied
// by walSize is exhausted. Before PostgreSQL 9.3 the last segment number of
// each logical log file was reserved and never produced.
func (s Segment) NextSegments(size int, pgVersion *int, walSize *int64) ([]Segment, error) {
	segmentSize := DefaultWALSegmentSize
	if walSize != nil {
		segmentSize = *walSize
	}
	if segmentSize <= 0 {
		return nil, fmt.Errorf("invalid WAL segment size: %v", segmentSize)
	}

	segmentsPerLogID := uint32(0x100000000 / uint64(segmentSize))
	maxUsableSegmentID := segmentsPerLogID - 1
	if pgVersion != nil && *pgVersion < 90300 {
		maxUsableSegmentID = segmentsPerLogID - 2
	}

	result := make([]Segment, 0, size)
	current := s
	for i := 0; i < size; i++ {
		result = append(result, current)
		if current.SegmentID >= maxUsableSegmentID {
			current = Segment{Timeline: current.Timeline, LogID: current.LogID + 1, SegmentID: 0}
		} else {
			current = Segment{Timeline: current.Timeline, LogID: current.LogID, SegmentID: current.SegmentID + 1}
		}
	}

	return result, nil
}

// IsWALFile checks whether name (possibly with a directory prefix) is a
// regular WAL segment file, as opposed to a .history, .backup or .partial
// auxiliary file.
func IsWALFile(name string) bool {
	return walSegmentName.MatchString(filepath.Base(name))
}
