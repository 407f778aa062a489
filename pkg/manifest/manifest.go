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
	"sort"
	"strings"

	"github.com/cloudnative-pg/pg-backup-core/pkg/backupengine"
)

// Manifest is the in-memory, mutable record of one backup's content. All
// mutating methods keep the four entry collections sorted by name, so
// FindFile and the other lookups can binary-search and the *List accessors never need to sort on
// read.
type Manifest struct {
	Backup   BackupHeader
	Option   BackupOption
	Database DatabaseInfo
	Defaults Defaults

	targets []*Target
	paths   []*PathEntry
	files   []*FileEntry
	links   []*LinkEntry
}

// New creates an empty manifest for the given backup label and type.
func New(label string, backupType BackupType) *Manifest {
	return &Manifest{
		Backup: BackupHeader{
			Label: label,
			Type:  backupType,
		},
	}
}

// AddTarget registers a top-level backup target. Targets are kept sorted
// by name.
func (m *Manifest) AddTarget(t *Target) {
	idx, found := m.searchTargets(t.Name)
	if found {
		m.targets[idx] = t
		return
	}
	m.targets = append(m.targets, nil)
	copy(m.targets[idx+1:], m.targets[idx:])
	m.targets[idx] = t
}

// AddPath registers a directory entry, keeping the path list sorted.
func (m *Manifest) AddPath(p *PathEntry) {
	idx, found := m.searchPaths(p.Name)
	if found {
		m.paths[idx] = p
		return
	}
	m.paths = append(m.paths, nil)
	copy(m.paths[idx+1:], m.paths[idx:])
	m.paths[idx] = p
}

// AddFile registers a file entry, keeping the file list sorted by name.
func (m *Manifest) AddFile(f *FileEntry) {
	idx, found := m.searchFiles(f.Name)
	if found {
		m.files[idx] = f
		return
	}
	m.files = append(m.files, nil)
	copy(m.files[idx+1:], m.files[idx:])
	m.files[idx] = f
}

// AddLink registers a symlink entry, keeping the link list sorted by name.
func (m *Manifest) AddLink(l *LinkEntry) {
	idx, found := m.searchLinks(l.Name)
	if found {
		m.links[idx] = l
		return
	}
	m.links = append(m.links, nil)
	copy(m.links[idx+1:], m.links[idx:])
	m.links[idx] = l
}

// FindFile looks up a file entry by name, failing with ErrAssert if it is
// not present: callers are expected to only ask about files the manifest
// is known to contain.
func (m *Manifest) FindFile(name string) (*FileEntry, error) {
	idx, found := m.searchFiles(name)
	if !found {
		return nil, fmt.Errorf("file %q not found in manifest: %w", name, backupengine.ErrAssert)
	}
	return m.files[idx], nil
}

// Reference marks a file entry as stored in a prior backup rather than
// this one: its repository bytes aren't duplicated, so the current
// backup's repo-size contribution for it is zeroed.
func (m *Manifest) Reference(name string, priorLabel string) error {
	file, err := m.FindFile(name)
	if err != nil {
		return err
	}
	file.Reference = priorLabel
	file.RepoSize = 0
	return nil
}

// TargetList returns every target, sorted by name.
func (m *Manifest) TargetList() []*Target { return m.targets }

// PathList returns every path, sorted by name.
func (m *Manifest) PathList() []*PathEntry { return m.paths }

// FileList returns every file, sorted by name.
func (m *Manifest) FileList() []*FileEntry { return m.files }

// LinkList returns every link, sorted by name.
func (m *Manifest) LinkList() []*LinkEntry { return m.links }

func (m *Manifest) searchTargets(name string) (int, bool) {
	i := sort.Search(len(m.targets), func(i int) bool { return m.targets[i].Name >= name })
	return i, i < len(m.targets) && m.targets[i].Name == name
}

func (m *Manifest) searchPaths(name string) (int, bool) {
	i := sort.Search(len(m.paths), func(i int) bool { return m.paths[i].Name >= name })
	return i, i < len(m.paths) && m.paths[i].Name == name
}

func (m *Manifest) searchFiles(name string) (int, bool) {
	i := sort.Search(len(m.files), func(i int) bool { return m.files[i].Name >= name })
	return i, i < len(m.files) && m.files[i].Name == name
}

func (m *Manifest) searchLinks(name string) (int, bool) {
	i := sort.Search(len(m.links), func(i int) bool { return m.links[i].Name >= name })
	return i, i < len(m.links) && m.links[i].Name == name
}

// hasPath reports whether exactly path is present in the path list.
func (m *Manifest) hasPath(name string) bool {
	_, found := m.searchPaths(name)
	return found
}

// hasTarget reports whether a target with exactly this name is present.
func (m *Manifest) hasTarget(name string) bool {
	_, found := m.searchTargets(name)
	return found
}

// parentPath returns the containing directory of a target-relative name,
// or "" if name is itself a target root.
func parentPath(name string) string {
	idx := strings.LastIndex(name, "/")
	if idx <= 0 {
		return ""
	}
	return name[:idx]
}

// targetOf returns the target name a fully-qualified entry name belongs
// to: the first path component.
func targetOf(name string) string {
	if idx := strings.Index(name, "/"); idx >= 0 {
		return name[:idx]
	}
	return name
}

// Validate checks the invariants that must hold before a manifest is
// persisted: every file/link's parent directory is known, there's exactly
// one pg_data target, every tablespace target is named pg_tblspc/<oid>,
// and full backups carry no references.
func (m *Manifest) Validate() error {
	if !m.hasTarget(PrimaryTargetName) {
		return fmt.Errorf("manifest has no %s target: %w", PrimaryTargetName, backupengine.ErrAssert)
	}

	for _, t := range m.targets {
		if t.Kind == TargetKindLink && t.Name != PrimaryTargetName {
			if !strings.HasPrefix(t.Name, "pg_tblspc/") {
				return fmt.Errorf("tablespace target %q is not named pg_tblspc/<oid>: %w", t.Name, backupengine.ErrAssert)
			}
		}
	}

	for _, f := range m.files {
		parent := parentPath(f.Name)
		if parent != "" && !m.hasPath(parent) && !m.hasTarget(parent) {
			return fmt.Errorf("file %q has no containing path in the manifest: %w", f.Name, backupengine.ErrAssert)
		}
		if m.Backup.Type == BackupTypeFull && f.Reference != "" {
			return fmt.Errorf("full backup file %q carries a reference to %q: %w",
				f.Name, f.Reference, backupengine.ErrAssert)
		}
	}

	for _, l := range m.links {
		parent := parentPath(l.Name)
		if parent != "" && !m.hasPath(parent) && !m.hasTarget(parent) {
			return fmt.Errorf("link %q has no containing path in the manifest: %w", l.Name, backupengine.ErrAssert)
		}
	}

	return nil
}

// TotalRepoSize sums the repo-size of every file not satisfied by a
// reference into a prior backup.
func (m *Manifest) TotalRepoSize() int64 {
	var total int64
	for _, f := range m.files {
		if f.Reference == "" {
			total += f.RepoSize
		}
	}
	return total
}
