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

package resume

import (
	"github.com/cloudnative-pg/pg-backup-core/pkg/manifest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("CanResume", func() {
	baseOpts := func() Options {
		return Options{
			ResumeEnabled:      true,
			EngineVersion:      "1.0.0",
			SavedEngineVersion: "1.0.0",
			PlanBackupType:     manifest.BackupTypeIncremental,
			SavedBackupType:    manifest.BackupTypeIncremental,
		}
	}

	It("accepts a matching in-progress incremental attempt", func() {
		ok, why := CanResume(manifest.New("20240101-000000F", manifest.BackupTypeIncremental), baseOpts())
		Expect(ok).To(BeTrue())
		Expect(why).To(BeEmpty())
	})

	It("rejects when resume is disabled", func() {
		opts := baseOpts()
		opts.ResumeEnabled = false
		ok, _ := CanResume(manifest.New("x", manifest.BackupTypeIncremental), opts)
		Expect(ok).To(BeFalse())
	})

	It("rejects a nil saved manifest", func() {
		ok, why := CanResume(nil, baseOpts())
		Expect(ok).To(BeFalse())
		Expect(why).To(ContainSubstring("unreadable"))
	})

	It("rejects when the engine version differs", func() {
		opts := baseOpts()
		opts.SavedEngineVersion = "0.9.0"
		ok, _ := CanResume(manifest.New("x", manifest.BackupTypeIncremental), opts)
		Expect(ok).To(BeFalse())
	})

	It("accepts a matching in-progress full attempt", func() {
		opts := baseOpts()
		opts.SavedBackupType = manifest.BackupTypeFull
		opts.PlanBackupType = manifest.BackupTypeFull
		ok, _ := CanResume(manifest.New("x", manifest.BackupTypeFull), opts)
		Expect(ok).To(BeTrue())
	})

	It("rejects when the backup type itself differs", func() {
		opts := baseOpts()
		opts.SavedBackupType = manifest.BackupTypeFull
		ok, _ := CanResume(manifest.New("x", manifest.BackupTypeFull), opts)
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Classify", func() {
	var plan, saved *manifest.Manifest

	BeforeEach(func() {
		plan = manifest.New("20240101-000000F", manifest.BackupTypeFull)
		plan.AddTarget(&manifest.Target{Name: manifest.PrimaryTargetName, Kind: manifest.TargetKindPath})
		plan.AddFile(&manifest.FileEntry{Name: "pg_data/base/1/1", Size: 100, Timestamp: 1000})

		saved = manifest.New("20240101-000000F", manifest.BackupTypeFull)
		saved.AddTarget(&manifest.Target{Name: manifest.PrimaryTargetName, Kind: manifest.TargetKindPath})
		saved.AddFile(&manifest.FileEntry{
			Name:      "pg_data/base/1/1",
			Size:      100,
			Timestamp: 1000,
			Checksum:  "deadbeef",
		})
	})

	It("keeps a file whose size and timestamp still match", func() {
		clusterFiles := map[string]ClusterFileStat{"pg_data/base/1/1": {Size: 100, Timestamp: 1000}}
		artifacts := []RepositoryArtifact{{Name: "pg_data/base/1/1"}}

		result := Classify(plan, saved, "", clusterFiles, artifacts)
		Expect(result.Classifications).To(HaveLen(1))
		Expect(result.Classifications[0].Keep).To(BeTrue())
		Expect(result.Classifications[0].SavedChecksum).To(Equal("deadbeef"))
		Expect(result.EnableDelta).To(BeFalse())
	})

	It("discards a file with a compression extension mismatch", func() {
		artifacts := []RepositoryArtifact{{Name: "pg_data/base/1/1", Extension: ".zst"}}
		result := Classify(plan, saved, "", nil, artifacts)
		Expect(result.Classifications[0].Keep).To(BeFalse())
		Expect(result.Classifications[0].Reason).To(Equal(RemovalExtensionMismatch))
	})

	It("widens to delta when a surviving file's timestamp has moved", func() {
		clusterFiles := map[string]ClusterFileStat{"pg_data/base/1/1": {Size: 100, Timestamp: 2000}}
		artifacts := []RepositoryArtifact{{Name: "pg_data/base/1/1"}}

		result := Classify(plan, saved, "", clusterFiles, artifacts)
		Expect(result.Classifications[0].Keep).To(BeFalse())
		Expect(result.Classifications[0].Reason).To(Equal(RemovalTimestampMismatch))
		Expect(result.EnableDelta).To(BeTrue())
	})

	It("discards a special file outright", func() {
		artifacts := []RepositoryArtifact{{Name: "pg_data/base/1/1", IsSpecial: true}}
		result := Classify(plan, saved, "", nil, artifacts)
		Expect(result.Classifications[0].Reason).To(Equal(RemovalSpecialFile))
	})
})

var _ = Describe("ClassifyPath", func() {
	It("keeps a path that is still in the plan", func() {
		plan := manifest.New("x", manifest.BackupTypeFull)
		plan.AddTarget(&manifest.Target{Name: manifest.PrimaryTargetName, Kind: manifest.TargetKindPath})
		plan.AddPath(&manifest.PathEntry{Name: "pg_data/base"})

		keep, _ := ClassifyPath(plan, "pg_data/base")
		Expect(keep).To(BeTrue())
	})

	It("discards a path no longer in the plan", func() {
		plan := manifest.New("x", manifest.BackupTypeFull)
		keep, reason := ClassifyPath(plan, "pg_data/base")
		Expect(keep).To(BeFalse())
		Expect(reason).To(Equal(RemovalPathNotInPlan))
	})
})
