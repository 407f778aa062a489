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

import (
	"errors"
	"time"

	"github.com/cloudnative-pg/pg-backup-core/pkg/manifest"
	"github.com/cloudnative-pg/pg-backup-core/pkg/resume"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeRepositoryRoot is an in-memory RepositoryRoot double: just enough to
// drive resolveLabel/discoverResumableLabel without a real filesystem.
type fakeRepositoryRoot struct {
	manifests   map[string]*manifest.Manifest
	unpublished []string
}

func (f *fakeRepositoryRoot) InProgressDir(label string) string { return label }
func (f *fakeRepositoryRoot) FinalDir(label string) string      { return label }
func (f *fakeRepositoryRoot) Publish(string) error               { return nil }

func (f *fakeRepositoryRoot) SavedManifest(label string) (*manifest.Manifest, error) {
	m, ok := f.manifests[label]
	if !ok {
		return nil, errors.New("not found")
	}
	return m, nil
}

func (f *fakeRepositoryRoot) ExistingArtifacts(string) ([]resume.RepositoryArtifact, error) {
	return nil, nil
}

func (f *fakeRepositoryRoot) UnpublishedLabels() ([]string, error) {
	return f.unpublished, nil
}

var _ = Describe("labelMatchesGeneration", func() {
	It("matches a full label only when it has no generation suffix", func() {
		Expect(labelMatchesGeneration("20240101-000000F", manifest.BackupTypeFull, "")).To(BeTrue())
		Expect(labelMatchesGeneration("20240101-000000F_20240102-000000D", manifest.BackupTypeFull, "")).To(BeFalse())
	})

	It("matches a differential label only against its own full label", func() {
		full := "20240101-000000F"
		Expect(labelMatchesGeneration(full+"_20240102-000000D", manifest.BackupTypeDifferential, full)).To(BeTrue())
		Expect(labelMatchesGeneration(full+"_20240102-000000D", manifest.BackupTypeDifferential, "other")).To(BeFalse())
		Expect(labelMatchesGeneration(full+"_20240102-000000I", manifest.BackupTypeDifferential, full)).To(BeFalse())
	})

	It("matches an incremental label only against its own full label", func() {
		full := "20240101-000000F"
		Expect(labelMatchesGeneration(full+"_20240102-000000I", manifest.BackupTypeIncremental, full)).To(BeTrue())
	})
})

var _ = Describe("Controller.resolveLabel", func() {
	var c *Controller
	var startTime time.Time

	BeforeEach(func() {
		startTime = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
		c = &Controller{
			Options: Options{ResumeEnabled: true, CompressType: "", BackupType: manifest.BackupTypeFull},
		}
	})

	It("mints a fresh label when nothing is resumable", func() {
		c.Repository = &fakeRepositoryRoot{manifests: map[string]*manifest.Manifest{}}

		label, saved, err := c.resolveLabel(startTime, "", manifest.BackupTypeFull)
		Expect(err).ToNot(HaveOccurred())
		Expect(saved).To(BeNil())
		Expect(label).To(HaveSuffix("F"))
	})

	It("auto-discovers and resumes the latest unpublished label of the right generation", func() {
		saved := manifest.New("20240103-000000F", manifest.BackupTypeFull)
		saved.Backup.EngineVersion = EngineVersion
		c.Repository = &fakeRepositoryRoot{
			manifests:   map[string]*manifest.Manifest{"20240103-000000F": saved},
			unpublished: []string{"20240103-000000F"},
		}

		label, resumedFrom, err := c.resolveLabel(startTime, "", manifest.BackupTypeFull)
		Expect(err).ToNot(HaveOccurred())
		Expect(label).To(Equal("20240103-000000F"))
		Expect(resumedFrom).To(BeIdenticalTo(saved))
	})

	It("ignores an unpublished label from a different generation", func() {
		saved := manifest.New("20240103-000000F_20240104-000000D", manifest.BackupTypeDifferential)
		saved.Backup.EngineVersion = EngineVersion
		c.Repository = &fakeRepositoryRoot{
			manifests:   map[string]*manifest.Manifest{"20240103-000000F_20240104-000000D": saved},
			unpublished: []string{"20240103-000000F_20240104-000000D"},
		}

		label, resumedFrom, err := c.resolveLabel(startTime, "", manifest.BackupTypeFull)
		Expect(err).ToNot(HaveOccurred())
		Expect(resumedFrom).To(BeNil())
		Expect(label).To(HaveSuffix("F"))
		Expect(label).ToNot(Equal("20240103-000000F_20240104-000000D"))
	})

	It("honors an explicit ResumeLabel and errors when it cannot be resumed", func() {
		c.Options.ResumeLabel = "missing-label"
		c.Repository = &fakeRepositoryRoot{manifests: map[string]*manifest.Manifest{}}

		_, _, err := c.resolveLabel(startTime, "", manifest.BackupTypeFull)
		Expect(err).To(HaveOccurred())
	})

	It("resumes the explicit ResumeLabel when it is a valid candidate", func() {
		saved := manifest.New("wanted-label", manifest.BackupTypeFull)
		saved.Backup.EngineVersion = EngineVersion
		c.Options.ResumeLabel = "wanted-label"
		c.Repository = &fakeRepositoryRoot{manifests: map[string]*manifest.Manifest{"wanted-label": saved}}

		label, resumedFrom, err := c.resolveLabel(startTime, "", manifest.BackupTypeFull)
		Expect(err).ToNot(HaveOccurred())
		Expect(label).To(Equal("wanted-label"))
		Expect(resumedFrom).To(BeIdenticalTo(saved))
	})
})

var _ = Describe("applyDeltaReferences", func() {
	It("references files whose size and timestamp match the prior backup, leaving changed files untouched", func() {
		prior := manifest.New("priorlabel", manifest.BackupTypeFull)
		prior.AddFile(&manifest.FileEntry{Name: "pg_data/base/1/1", Size: 10, Timestamp: 100, Checksum: "abc"})
		prior.AddFile(&manifest.FileEntry{Name: "pg_data/base/1/2", Size: 20, Timestamp: 200, Checksum: "def"})

		m := manifest.New("newlabel", manifest.BackupTypeDifferential)
		m.AddFile(&manifest.FileEntry{Name: "pg_data/base/1/1", Size: 10, Timestamp: 100})
		m.AddFile(&manifest.FileEntry{Name: "pg_data/base/1/2", Size: 25, Timestamp: 250})
		m.AddFile(&manifest.FileEntry{Name: "pg_data/base/1/3", Size: 5, Timestamp: 300})

		applyDeltaReferences(m, prior, "priorlabel")

		unchanged, err := m.FindFile("pg_data/base/1/1")
		Expect(err).ToNot(HaveOccurred())
		Expect(unchanged.Reference).To(Equal("priorlabel"))
		Expect(unchanged.Checksum).To(Equal("abc"))
		Expect(unchanged.RepoSize).To(Equal(int64(0)))

		changed, err := m.FindFile("pg_data/base/1/2")
		Expect(err).ToNot(HaveOccurred())
		Expect(changed.Reference).To(BeEmpty())

		fresh, err := m.FindFile("pg_data/base/1/3")
		Expect(err).ToNot(HaveOccurred())
		Expect(fresh.Reference).To(BeEmpty())
	})
})
