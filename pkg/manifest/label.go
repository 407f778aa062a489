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

package manifest

import (
	"fmt"
	"time"

	"github.com/cloudnative-pg/pg-backup-core/pkg/backupengine"
)

const timeLayout = "20060102-150405"

// maxLabelCollisionRetries bounds the one-second advances NewLabel will
// attempt before giving up: a stanza producing more than this many backups
// within the same few seconds has a bigger problem than label collisions.
const maxLabelCollisionRetries = 2

// NewLabel derives a backup label from startTime and backupType, advancing
// startTime by one second at a time when the candidate collides with
// exists, per the spec's label-uniqueness rule. fullLabel is required (and
// only used) for differential and incremental labels.
func NewLabel(startTime time.Time, backupType BackupType, fullLabel string, exists func(string) bool) (string, error) {
	for attempt := 0; attempt <= maxLabelCollisionRetries; attempt++ {
		candidate, err := formatLabel(startTime, backupType, fullLabel)
		if err != nil {
			return "", err
		}
		if !exists(candidate) {
			return candidate, nil
		}
		startTime = startTime.Add(time.Second)
	}
	return "", fmt.Errorf("could not find a unique backup label after %d attempts: %w",
		maxLabelCollisionRetries+1, backupengine.ErrFormat)
}

func formatLabel(t time.Time, backupType BackupType, fullLabel string) (string, error) {
	stamp := t.UTC().Format(timeLayout)
	switch backupType {
	case BackupTypeFull:
		return stamp + "F", nil
	case BackupTypeDifferential:
		if fullLabel == "" {
			return "", fmt.Errorf("differential backup requires a full label: %w", backupengine.ErrAssert)
		}
		return fmt.Sprintf("%s_%sD", fullLabel, stamp), nil
	case BackupTypeIncremental:
		if fullLabel == "" {
			return "", fmt.Errorf("incremental backup requires a full label: %w", backupengine.ErrAssert)
		}
		return fmt.Sprintf("%s_%sI", fullLabel, stamp), nil
	default:
		return "", fmt.Errorf("unknown backup type %q: %w", backupType, backupengine.ErrAssert)
	}
}
