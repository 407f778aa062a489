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
	"os"
	"path/filepath"

	"github.com/cloudnative-pg/pg-backup-core/pkg/manifest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("WalkCluster", func() {
	var dataDir string

	BeforeEach(func() {
		var err error
		dataDir, err = os.MkdirTemp(tempDir, "pgdata-")
		Expect(err).ToNot(HaveOccurred())

		Expect(os.MkdirAll(filepath.Join(dataDir, "base", "1"), 0o750)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dataDir, "base", "1", "1"), []byte("data"), 0o640)).To(Succeed())
		Expect(os.MkdirAll(filepath.Join(dataDir, "pg_wal"), 0o750)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dataDir, "pg_wal", "000000010000000000000001"), []byte("wal"), 0o640)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dataDir, "postmaster.pid"), []byte("1234"), 0o640)).To(Succeed())
		Expect(os.MkdirAll(filepath.Join(dataDir, "global"), 0o750)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dataDir, "global", "pg_control"), []byte("control"), 0o640)).To(Succeed())
	})

	It("records the pg_data target, its files and directories", func() {
		m := manifest.New("x", manifest.BackupTypeFull)
		plans := []TargetPlan{{Name: manifest.PrimaryTargetName, Kind: manifest.TargetKindPath, Path: dataDir}}

		Expect(WalkCluster(m, plans, false)).To(Succeed())

		names := make([]string, 0)
		for _, f := range m.FileList() {
			names = append(names, f.Name)
		}
		Expect(names).To(ContainElement("pg_data/base/1/1"))
	})

	It("skips postmaster.pid entirely", func() {
		m := manifest.New("x", manifest.BackupTypeFull)
		plans := []TargetPlan{{Name: manifest.PrimaryTargetName, Kind: manifest.TargetKindPath, Path: dataDir}}
		Expect(WalkCluster(m, plans, false)).To(Succeed())

		for _, f := range m.FileList() {
			Expect(f.Name).ToNot(ContainSubstring("postmaster.pid"))
		}
	})

	It("records pg_wal's directory entry but not its contents unless archiveCopy is set", func() {
		m := manifest.New("x", manifest.BackupTypeFull)
		plans := []TargetPlan{{Name: manifest.PrimaryTargetName, Kind: manifest.TargetKindPath, Path: dataDir}}
		Expect(WalkCluster(m, plans, false)).To(Succeed())

		foundDir := false
		for _, p := range m.PathList() {
			if p.Name == "pg_data/pg_wal" {
				foundDir = true
			}
		}
		Expect(foundDir).To(BeTrue())

		for _, f := range m.FileList() {
			Expect(f.Name).ToNot(ContainSubstring("pg_wal/"))
		}
	})

	It("computes a defaults section from the most common file mode", func() {
		m := manifest.New("x", manifest.BackupTypeFull)
		plans := []TargetPlan{{Name: manifest.PrimaryTargetName, Kind: manifest.TargetKindPath, Path: dataDir}}
		Expect(WalkCluster(m, plans, false)).To(Succeed())

		Expect(m.Defaults.FileMode).ToNot(BeEmpty())
		Expect(m.Defaults.PathMode).ToNot(BeEmpty())
	})

	It("marks pg_control as master-read so it is never routed to a standby", func() {
		m := manifest.New("x", manifest.BackupTypeFull)
		plans := []TargetPlan{{Name: manifest.PrimaryTargetName, Kind: manifest.TargetKindPath, Path: dataDir}}
		Expect(WalkCluster(m, plans, false)).To(Succeed())

		control, err := m.FindFile("pg_data/global/pg_control")
		Expect(err).ToNot(HaveOccurred())
		Expect(control.MasterRead).To(BeTrue())

		base1, err := m.FindFile("pg_data/base/1/1")
		Expect(err).ToNot(HaveOccurred())
		Expect(base1.MasterRead).To(BeFalse())
	})
})
