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
	"regexp"
	"strconv"
	"strings"
)

var leadingDigits = regexp.MustCompile(`^\d+`)

// GetPostgresVersionFromTag encodes a PostgreSQL version tag (e.g. "15.3",
// "9.6.1") into the classic numeric form. Versions before 10 carry a
// two-digit minor component (major*10000+minor*100+patch); from 10 on,
// PostgreSQL dropped the minor component so the second dotted number is
// the patch release directly (major*10000+patch). Trailing components and
// suffixes beyond what's needed are ignored.
func GetPostgresVersionFromTag(tag string) (int, error) {
	majorStr := leadingDigits.FindString(tag)
	if majorStr == "" {
		return 0, fmt.Errorf("invalid version tag: %v", tag)
	}
	major, err := strconv.Atoi(majorStr)
	if err != nil {
		return 0, fmt.Errorf("invalid version tag: %v", tag)
	}
	rest := tag[len(majorStr):]

	if major < 10 {
		if !strings.HasPrefix(rest, ".") {
			return 0, fmt.Errorf("invalid version tag: %v", tag)
		}
		rest = rest[1:]
		minorStr := leadingDigits.FindString(rest)
		if minorStr == "" {
			return 0, fmt.Errorf("invalid version tag: %v", tag)
		}
		minor, err := strconv.Atoi(minorStr)
		if err != nil {
			return 0, fmt.Errorf("invalid version tag: %v", tag)
		}
		rest = rest[len(minorStr):]

		patch := 0
		if strings.HasPrefix(rest, ".") {
			if patchStr := leadingDigits.FindString(rest[1:]); patchStr != "" {
				patch, _ = strconv.Atoi(patchStr)
			}
		}

		return major*10000 + minor*100 + patch, nil
	}

	patch := 0
	if strings.HasPrefix(rest, ".") {
		patchStr := leadingDigits.FindString(rest[1:])
		if patchStr == "" {
			return 0, fmt.Errorf("invalid version tag: %v", tag)
		}
		patch, err = strconv.Atoi(patchStr)
		if err != nil {
			return 0, fmt.Errorf("invalid version tag: %v", tag)
		}
	}

	return major*10000 + patch, nil
}

// GetPostgresMajorVersion extracts the major-version component of a numeric
// version, zeroing out everything below it.
func GetPostgresMajorVersion(version int) int {
	if version >= 100000 {
		return (version / 10000) * 10000
	}
	return (version / 100) * 100
}

// IsUpgradePossible tells whether moving from fromVersion to toVersion is a
// minor-release upgrade (same major version).
func IsUpgradePossible(fromVersion, toVersion int) bool {
	return GetPostgresMajorVersion(fromVersion) == GetPostgresMajorVersion(toVersion)
}
