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

package copier

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudnative-pg/pg-backup-core/pkg/manifest"
	"github.com/cloudnative-pg/pg-backup-core/pkg/resume"
)

// reservedArtifactNames are the manifest files living alongside the actual
// backup content inside an in-progress directory; ExistingArtifacts never
// reports them since they are not cluster files a resume plan could adopt.
var reservedArtifactNames = map[string]bool{
	"backup.manifest":      true,
	"backup.manifest.copy": true,
}

// knownExtensions lists every compression suffix a repository artifact may
// carry, longest first so ".zst" isn't shadowed by a shorter false match.
var knownExtensions = []string{CompressZstd.Extension(), CompressLZ4.Extension()}

// LocalRepositoryRoot lays a stanza's backups out on a local POSIX
// filesystem: BaseDir/<stanza>/backup/<label> holds one attempt's content
// directly (no ".tmp" staging directory, since the file-copy pipeline's
// repository paths are already prefixed by label), with a "backup.published"
// marker distinguishing an attempt still being written from one Publish
// has accepted, and a "latest" symlink always pointing at the most
// recently published label.
//
// This is the same thin, dependency-free default the package ships
// LocalRepositoryWriter and LocalSourceFilesystem as: object-store or SFTP
// backed repositories are expected to supply their own RepositoryRoot.
type LocalRepositoryRoot struct {
	BaseDir string
	Stanza  string
}

// Writer returns a LocalRepositoryWriter rooted so that a Worker using it
// reproduces the same BaseDir/<stanza>/backup/<label>/<name> layout this
// type reads back in SavedManifest and ExistingArtifacts. One Writer,
// built once at startup, serves every backup attempt: the label lives in
// each job's own repository-relative path, not in the writer's root.
func (l LocalRepositoryRoot) Writer() LocalRepositoryWriter {
	return LocalRepositoryWriter{BaseDir: l.stanzaBackupDir()}
}

const publishMarkerName = "backup.published"

func (l LocalRepositoryRoot) stanzaBackupDir() string {
	return filepath.Join(l.BaseDir, l.Stanza, "backup")
}

// InProgressDir implements backupengine.RepositoryRoot.
func (l LocalRepositoryRoot) InProgressDir(label string) string {
	return filepath.Join(l.stanzaBackupDir(), label)
}

// FinalDir implements backupengine.RepositoryRoot. A local repository never
// moves a label's directory, so this is the same path InProgressDir
// returns; only the publish marker and the latest symlink distinguish a
// published backup from one still in flight.
func (l LocalRepositoryRoot) FinalDir(label string) string {
	return l.InProgressDir(label)
}

// Publish implements backupengine.RepositoryRoot: it drops a marker file
// confirming the attempt completed, then repoints the stanza's "latest"
// symlink at it. Both steps are individually atomic (create-then-rename,
// symlink-then-rename) so a crash between them leaves either the old or
// the new latest target, never a dangling one.
func (l LocalRepositoryRoot) Publish(label string) error {
	dir := l.InProgressDir(label)
	marker := filepath.Join(dir, publishMarkerName)
	tmpMarker := marker + ".tmp"
	if err := os.WriteFile(tmpMarker, []byte(label), 0o640); err != nil { //nolint:gosec
		return err
	}
	if err := os.Rename(tmpMarker, marker); err != nil {
		return err
	}

	latest := filepath.Join(l.stanzaBackupDir(), "latest")
	tmpLatest := latest + ".tmp"
	_ = os.Remove(tmpLatest)
	if err := os.Symlink(label, tmpLatest); err != nil {
		return err
	}
	return os.Rename(tmpLatest, latest)
}

// SavedManifest implements backupengine.RepositoryRoot, preferring the
// primary manifest file and falling back to its copy when the primary is
// missing or fails its integrity check — the same fallback a restore would
// apply when a prior attempt was interrupted mid-save.
func (l LocalRepositoryRoot) SavedManifest(label string) (*manifest.Manifest, error) {
	dir := l.InProgressDir(label)

	primary, primaryErr := loadManifestFile(filepath.Join(dir, "backup.manifest"))
	if primaryErr == nil {
		return primary, nil
	}

	fallback, fallbackErr := loadManifestFile(filepath.Join(dir, "backup.manifest.copy"))
	if fallbackErr == nil {
		return fallback, nil
	}

	return nil, primaryErr
}

func loadManifestFile(path string) (*manifest.Manifest, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return manifest.Load(f)
}

// ExistingArtifacts implements backupengine.RepositoryRoot by walking
// label's in-progress directory, stripping the label's reserved manifest
// files and any recognized compression extension so the returned names
// line up with a manifest's file entry names.
func (l LocalRepositoryRoot) ExistingArtifacts(label string) ([]resume.RepositoryArtifact, error) {
	dir := l.InProgressDir(label)

	var artifacts []resume.RepositoryArtifact
	err := filepath.Walk(dir, func(fullPath string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if fullPath == dir || info.IsDir() {
			return nil
		}

		rel := filepath.ToSlash(strings.TrimPrefix(fullPath, dir+string(filepath.Separator)))
		base := filepath.Base(rel)
		if reservedArtifactNames[base] || base == publishMarkerName || strings.HasSuffix(base, ".tmp") {
			return nil
		}

		if !info.Mode().IsRegular() {
			artifacts = append(artifacts, resume.RepositoryArtifact{Name: rel, IsSpecial: true})
			return nil
		}

		name, ext := stripKnownExtension(rel)
		artifacts = append(artifacts, resume.RepositoryArtifact{Name: name, Extension: ext})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return artifacts, nil
}

// UnpublishedLabels implements backupengine.RepositoryRoot by listing every
// top-level entry of the stanza's backup directory that has no publish
// marker — "latest" and any already-published label are excluded, leaving
// only attempts that started but never finished.
func (l LocalRepositoryRoot) UnpublishedLabels() ([]string, error) {
	dir := l.stanzaBackupDir()

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var labels []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Lstat(filepath.Join(dir, entry.Name(), publishMarkerName)); err == nil {
			continue
		}
		labels = append(labels, entry.Name())
	}
	return labels, nil
}

func stripKnownExtension(name string) (stripped, extension string) {
	for _, ext := range knownExtensions {
		if ext != "" && strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext), ext
		}
	}
	return name, ""
}
