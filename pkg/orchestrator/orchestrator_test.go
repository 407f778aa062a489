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

package orchestrator

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cloudnative-pg/pg-backup-core/pkg/concurrency"
	"github.com/cloudnative-pg/pg-backup-core/pkg/copier"
	"github.com/cloudnative-pg/pg-backup-core/pkg/manifest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Dispatcher.Run", func() {
	var (
		sourceDir string
		repoDir   string
		worker    *copier.Worker
	)

	BeforeEach(func() {
		var err error
		sourceDir, err = os.MkdirTemp(tempDir, "source-")
		Expect(err).ToNot(HaveOccurred())
		repoDir, err = os.MkdirTemp(tempDir, "repo-")
		Expect(err).ToNot(HaveOccurred())

		Expect(os.WriteFile(filepath.Join(sourceDir, "base1"), []byte("one"), 0o640)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(sourceDir, "base2"), []byte("two-bytes!"), 0o640)).To(Succeed())

		worker = &copier.Worker{
			Source:     copier.LocalSourceFilesystem{BaseDir: sourceDir},
			Repository: copier.LocalRepositoryWriter{BaseDir: repoDir},
		}
	})

	planFor := func(name, relPath string) PlannedFile {
		info, err := os.Stat(filepath.Join(sourceDir, name))
		Expect(err).ToNot(HaveOccurred())
		return PlannedFile{
			Job: copier.Job{
				SourceName: name,
				RepoName:   name,
				Label:      "20240101-000000F",
			},
			RelPath:     relPath,
			Size:        info.Size(),
			Destination: Destination{Local: true},
		}
	}

	It("copies every planned file and tallies the summary", func() {
		files := []PlannedFile{planFor("base1", "pg_data/base1"), planFor("base2", "pg_data/base2")}

		var applied []manifest.CopyResult
		apply := func(_ PlannedFile, result manifest.CopyResult) error {
			applied = append(applied, result)
			return nil
		}

		dispatcher := NewDispatcher(Config{Concurrency: 2, LocalWorker: worker})
		summary, err := dispatcher.Run(context.Background(), files, apply, nil, nil)

		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Copied).To(Equal(2))
		Expect(applied).To(HaveLen(2))
		Expect(filepath.Join(repoDir, "20240101-000000F", "base1")).To(BeAnExistingFile())
	})

	It("stops applying once one job fails and reports that error", func() {
		files := []PlannedFile{
			planFor("base1", "pg_data/base1"),
			{
				Job:         copier.Job{SourceName: "missing-file", RepoName: "missing-file", Label: "20240101-000000F"},
				RelPath:     "pg_data/missing-file",
				Destination: Destination{Local: true},
			},
		}

		dispatcher := NewDispatcher(Config{Concurrency: 1, LocalWorker: worker})
		_, err := dispatcher.Run(context.Background(), files, func(_ PlannedFile, _ manifest.CopyResult) error { return nil }, nil, nil)
		Expect(err).To(HaveOccurred())
	})

	It("invokes the periodic saver after the configured threshold", func() {
		files := []PlannedFile{planFor("base1", "pg_data/base1"), planFor("base2", "pg_data/base2")}

		saves := 0
		save := func() error {
			saves++
			return nil
		}

		dispatcher := NewDispatcher(Config{Concurrency: 1, ManifestSaveThreshold: 1, LocalWorker: worker})
		_, err := dispatcher.Run(context.Background(), files, func(_ PlannedFile, _ manifest.CopyResult) error { return nil }, save, nil)

		Expect(err).ToNot(HaveOccurred())
		Expect(saves).To(Equal(2))
	})

	It("stops dispatching new jobs once cancel is broadcast", func() {
		files := []PlannedFile{planFor("base1", "pg_data/base1"), planFor("base2", "pg_data/base2")}

		cancel := concurrency.NewExecuted()
		cancel.Broadcast()

		dispatcher := NewDispatcher(Config{Concurrency: 1, LocalWorker: worker})
		_, err := dispatcher.Run(context.Background(), files, func(_ PlannedFile, _ manifest.CopyResult) error { return nil }, nil, cancel)
		Expect(err).ToNot(HaveOccurred())
	})

	It("fails a job routed to a remote destination with no pool configured", func() {
		files := []PlannedFile{
			{
				Job:         copier.Job{SourceName: "base1", RepoName: "base1", Label: "20240101-000000F"},
				RelPath:     "pg_data/base1",
				Destination: Destination{Local: false, Key: RemoteClientKey{HostID: "node-a"}},
			},
		}
		dispatcher := NewDispatcher(Config{Concurrency: 1, LocalWorker: worker})
		_, err := dispatcher.Run(context.Background(), files, func(_ PlannedFile, _ manifest.CopyResult) error { return nil }, nil, nil)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("groupAndOrder", func() {
	It("orders files within a directory bucket largest first", func() {
		files := []PlannedFile{
			{RelPath: "pg_data/small", Size: 10},
			{RelPath: "pg_data/large", Size: 100},
			{RelPath: "pg_data/medium", Size: 50},
		}
		ordered := groupAndOrder(files)
		Expect(ordered[0].RelPath).To(Equal("pg_data/large"))
		Expect(ordered[1].RelPath).To(Equal("pg_data/medium"))
		Expect(ordered[2].RelPath).To(Equal("pg_data/small"))
	})

	It("preserves first-seen directory order across buckets", func() {
		files := []PlannedFile{
			{RelPath: "pg_data/base/1", Size: 1},
			{RelPath: "pg_data/pg_wal/seg", Size: 1},
			{RelPath: "pg_data/base/2", Size: 1},
		}
		ordered := groupAndOrder(files)
		Expect(ordered[0].RelPath).To(Equal("pg_data/base/1"))
		Expect(ordered[1].RelPath).To(Equal("pg_data/base/2"))
		Expect(ordered[2].RelPath).To(Equal("pg_data/pg_wal/seg"))
	})
})

var _ = Describe("tallyStatus", func() {
	It("increments the matching summary field for each status", func() {
		var s Summary
		tallyStatus(&s, manifest.CopyStatusCopied)
		tallyStatus(&s, manifest.CopyStatusSkipped)
		tallyStatus(&s, manifest.CopyStatusNoop)
		tallyStatus(&s, manifest.CopyStatusRecopied)
		tallyStatus(&s, manifest.CopyStatusChecksumMatch)

		Expect(s).To(Equal(Summary{Copied: 1, Skipped: 1, Noop: 1, Recopied: 1, ChecksumMatch: 1}))
	})
})
