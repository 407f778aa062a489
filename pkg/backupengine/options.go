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
	"fmt"

	"github.com/cloudnative-pg/pg-backup-core/pkg/copier"
	"github.com/cloudnative-pg/pg-backup-core/pkg/manifest"
)

// Role selects which subset of Options a generated command line needs:
// a local worker never needs database connection flags, a remote worker
// never needs repository-local paths.
type Role string

// Recognized roles for Options.ToArgv.
const (
	RoleLocalWorker  Role = "local"
	RoleRemoteWorker Role = "remote"
)

// Options is the typed replacement for a string-keyed settings map: every
// field this engine's runtime behavior depends on, enumerated once here
// instead of scattered across ad hoc option lookups. ToArgv is the only
// place that knows how to render a subset of these into a worker's
// command line, so an unsupported combination is a compile error at the
// call site rather than a silently-dropped map key at runtime.
type Options struct {
	StanzaName string
	BackupType manifest.BackupType
	PriorLabel string
	// ResumeLabel names a specific unpublished repository label to resume,
	// bypassing latest-unpublished auto-discovery. Decided once by the
	// local controller process, so it never crosses into a worker's argv.
	ResumeLabel string

	Online         bool
	BackupStandby  bool
	FastCheckpoint bool
	Force          bool

	CompressType  copier.CompressType
	CompressLevel int
	ChecksumPage  bool
	Hardlink      bool
	Delta         bool
	ResumeEnabled bool

	CipherType string
	CipherPass string

	BufferSize int
	ProcessMax int

	ArchiveCheck   bool
	ArchiveTimeout int
	ProtocolTimeout int
}

// ToArgv renders the subset of o relevant to role as a worker subprocess
// command line suffix, in a stable, fully enumerated order. Unlike a
// dynamic key/value map, adding a new option here requires touching this
// function, which is the point: no silent, role-dependent key filtering
// happens anywhere else.
func (o Options) ToArgv(role Role) []string {
	var argv []string

	add := func(flag, value string) {
		argv = append(argv, fmt.Sprintf("--%s=%s", flag, value))
	}
	addBool := func(flag string, value bool) {
		if value {
			argv = append(argv, fmt.Sprintf("--%s", flag))
		}
	}

	add("compress-type", string(o.CompressType))
	add("compress-level", fmt.Sprintf("%d", o.CompressLevel))
	addBool("checksum-page", o.ChecksumPage)
	addBool("delta", o.Delta)
	add("buffer-size", fmt.Sprintf("%d", o.BufferSize))

	if o.CipherType != "" {
		add("cipher-type", o.CipherType)
		// cipher-pass is deliberately never rendered into an argv: it
		// crosses the wire through the subprocess protocol's Cipher job
		// field instead, never as a process argument another local user
		// could read from /proc/<pid>/cmdline.
	}

	switch role {
	case RoleRemoteWorker:
		addBool("hardlink", o.Hardlink)
	case RoleLocalWorker:
		add("stanza", o.StanzaName)
		addBool("online", o.Online)
		addBool("backup-standby", o.BackupStandby)
	}

	return argv
}
