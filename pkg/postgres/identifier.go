/*
Copyright © contributors to CloudNativePG, established as
CloudNativePG a Series of LF Projects, LLC.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

package postgres

import (
	"fmt"
	"regexp"
	"strings"
)

const maxIdentifierLength = 63

var identifierRule = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_$]*$`)

// IsTablespaceNameValid checks whether name can be used as a PostgreSQL
// tablespace name: a valid identifier, not reserved for internal use, and
// within the maximum identifier length.
func IsTablespaceNameValid(name string) (bool, error) {
	if strings.HasPrefix(name, "pg_") {
		return false, fmt.Errorf("tablespace names beginning 'pg_' are reserved for Postgres")
	}

	if !identifierRule.MatchString(name) {
		return false, fmt.Errorf("tablespace names must be valid Postgres identifiers: " +
			"alphanumeric characters, '_', '$', and must start with a letter or an underscore")
	}

	if len(name) > maxIdentifierLength {
		return false, fmt.Errorf("the maximum length of an identifier is 63 characters")
	}

	return true, nil
}
