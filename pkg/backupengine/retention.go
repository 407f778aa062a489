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

package backupengine

// RetentionAdviser answers whether a backup label is still needed by any
// retained dependent backup, the seam a future expire command consults
// before deleting a label's repository artifacts. This package does not
// implement expire itself; it only exposes the question the controller
// is prepared to have asked of it.
type RetentionAdviser interface {
	// IsStillNeeded reports whether label must be kept because some
	// other retained backup's prior-chain depends on it.
	IsStillNeeded(label string) (bool, error)
}

// AlwaysNeeded is a RetentionAdviser that never authorizes deletion,
// the safe default when no real retention policy has been wired in yet.
type AlwaysNeeded struct{}

// IsStillNeeded implements RetentionAdviser.
func (AlwaysNeeded) IsStillNeeded(string) (bool, error) {
	return true, nil
}
