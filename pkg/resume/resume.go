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

// Package resume decides whether a prior, interrupted backup attempt can
// be resumed, and which of its repository artifacts survive into the new
// attempt.
package resume

import (
	"github.com/cloudnative-pg/pg-backup-core/pkg/manifest"
)

// Options carries the values the resume decision is made against.
type Options struct {
	// ResumeEnabled mirrors the --no-resume/--resume command option.
	ResumeEnabled bool
	// EngineVersion is this engine build's own version string, compared
	// against the saved manifest's recorded engine version.
	EngineVersion string
	// SavedEngineVersion is the engine version the saved manifest records
	// having been written by, or "" if unknown.
	SavedEngineVersion string
	// PlanPriorLabel and SavedPriorLabel are the "prior-label" each
	// manifest carries; both empty means "no prior", which is a match.
	PlanPriorLabel   string
	SavedPriorLabel  string
	PlanCompressType string
	SavedCompressType string
	PlanCipherType   string
	SavedCipherType  string
	PlanBackupType   manifest.BackupType
	SavedBackupType  manifest.BackupType
}

// CanResume implements the decision table of §4.3: any single mismatch
// rejects the resume outright.
func CanResume(saved *manifest.Manifest, opts Options) (bool, string) {
	if !opts.ResumeEnabled {
		return false, "resume disabled by option"
	}
	if saved == nil {
		return false, "saved manifest missing or unreadable"
	}
	if opts.SavedEngineVersion != opts.EngineVersion {
		return false, "engine version differs"
	}
	if opts.SavedPriorLabel != opts.PlanPriorLabel {
		return false, "prior-label differs"
	}
	if opts.SavedCompressType != opts.PlanCompressType {
		return false, "compression type differs"
	}
	if opts.SavedCipherType != opts.PlanCipherType {
		return false, "cipher type differs"
	}
	if opts.SavedBackupType != opts.PlanBackupType {
		return false, "backup type differs"
	}
	if opts.SavedBackupType == manifest.BackupTypeFull && opts.PlanBackupType != manifest.BackupTypeFull {
		return false, "in-progress full backup is not resumable as an incremental plan"
	}
	return true, ""
}

// RemovalReason names why a repository artifact was classified as garbage
// rather than reusable.
type RemovalReason string

// The classification outcomes an artifact can be assigned, mirroring the
// bullet list in §4.3.
const (
	RemovalReferenced        RemovalReason = "referenced-in-prior-backup"
	RemovalExtensionMismatch RemovalReason = "compression-extension-mismatch"
	RemovalNotInPlan         RemovalReason = "absent-from-new-plan"
	RemovalEmptyChecksum     RemovalReason = "never-completed"
	RemovalSizeMismatch      RemovalReason = "size-mismatch"
	RemovalTimestampMismatch RemovalReason = "timestamp-mismatch"
	RemovalZeroSize          RemovalReason = "zero-size"
	RemovalSpecialFile       RemovalReason = "special-file"
	RemovalPathNotInPlan     RemovalReason = "path-absent-from-new-plan"
)

// ClusterFileStat is the subset of a current source file's stat data the
// classifier compares against the saved manifest.
type ClusterFileStat struct {
	Size      int64
	Timestamp int64
}

// RepositoryArtifact is one file found scanning the partial backup's
// repository directory.
type RepositoryArtifact struct {
	// Name is the manifest-relative name with any compression extension
	// already stripped.
	Name string
	// Extension is the compression extension found on disk, "" if none.
	Extension string
	// IsSpecial is true for anything that is not a regular file.
	IsSpecial bool
}

// Classification is the result of classifying one repository artifact.
type Classification struct {
	Artifact RepositoryArtifact
	Keep     bool
	Reason   RemovalReason
	// SavedChecksum is populated when Keep is true: the checksum recorded
	// for this file in the saved manifest, to be carried into the plan so
	// the worker can verify-or-recopy.
	SavedChecksum string
}

// Result is the outcome of classifying every artifact found in a partial
// backup's repository directory.
type Result struct {
	Classifications []Classification
	// EnableDelta is set when any surviving artifact's timestamp no
	// longer matches the cluster file: per the spec's first open
	// question, this engine follows the source behavior of silently
	// widening the whole backup to delta mode rather than failing.
	EnableDelta bool
}

// Classify walks every artifact found in the partial backup's repository
// directory and decides whether it can be reused.
func Classify(
	plan *manifest.Manifest,
	saved *manifest.Manifest,
	expectedCompressionExtension string,
	clusterFiles map[string]ClusterFileStat,
	artifacts []RepositoryArtifact,
) Result {
	result := Result{}

	for _, artifact := range artifacts {
		result.Classifications = append(result.Classifications, classifyOne(plan, saved, expectedCompressionExtension, clusterFiles, artifact, &result.EnableDelta))
	}

	return result
}

func classifyOne(
	plan *manifest.Manifest,
	saved *manifest.Manifest,
	expectedCompressionExtension string,
	clusterFiles map[string]ClusterFileStat,
	artifact RepositoryArtifact,
	enableDelta *bool,
) Classification {
	c := Classification{Artifact: artifact}

	if artifact.IsSpecial {
		c.Reason = RemovalSpecialFile
		return c
	}

	if artifact.Extension != expectedCompressionExtension {
		c.Reason = RemovalExtensionMismatch
		return c
	}

	planFile, err := plan.FindFile(artifact.Name)
	if err != nil {
		c.Reason = RemovalNotInPlan
		return c
	}
	_ = planFile

	savedFile, err := saved.FindFile(artifact.Name)
	if err != nil {
		c.Reason = RemovalNotInPlan
		return c
	}

	if savedFile.Reference != "" {
		c.Reason = RemovalReferenced
		return c
	}

	if savedFile.Checksum == "" {
		c.Reason = RemovalEmptyChecksum
		return c
	}

	if savedFile.Size == 0 {
		c.Reason = RemovalZeroSize
		return c
	}

	clusterFile, known := clusterFiles[artifact.Name]
	if !known {
		c.Reason = RemovalNotInPlan
		return c
	}

	if clusterFile.Size != savedFile.Size {
		c.Reason = RemovalSizeMismatch
		return c
	}

	if clusterFile.Timestamp != savedFile.Timestamp {
		c.Reason = RemovalTimestampMismatch
		*enableDelta = true
		return c
	}

	c.Keep = true
	c.SavedChecksum = savedFile.Checksum
	return c
}

// ClassifyPath decides whether a directory found in the partial backup's
// repository can be kept: per §4.3, directories not in the new manifest
// are always discarded rather than reasoned about further.
func ClassifyPath(plan *manifest.Manifest, name string) (keep bool, reason RemovalReason) {
	for _, p := range plan.PathList() {
		if p.Name == name {
			return true, ""
		}
	}
	return false, RemovalPathNotInPlan
}
