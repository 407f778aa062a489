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

import "strings"

var truthyValues = map[string]bool{
	"on":   true,
	"true": true,
	"1":    true,
	"yes":  true,
}

var falsyValues = map[string]bool{
	"off":   true,
	"false": true,
	"0":     true,
	"no":    true,
}

// IsTrue tells whether value is a PostgreSQL-style truthy boolean literal.
func IsTrue(value string) bool {
	return truthyValues[strings.ToLower(value)]
}

// IsFalse tells whether value is a PostgreSQL-style falsy boolean literal.
func IsFalse(value string) bool {
	return falsyValues[strings.ToLower(value)]
}
