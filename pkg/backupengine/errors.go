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

// Package backupengine implements the top-level backup controller state
// machine and the error kinds shared by every component it drives.
package backupengine

import "errors"

// Sentinel error kinds, comparable with errors.Is. Each wraps additional
// context (the file name, the backup label, ...) with fmt.Errorf's %w verb
// at the point it's raised.
var (
	// ErrFileMissing is raised when a source file disappears before or
	// during a read. Recoverable when the caller set ignore-missing.
	ErrFileMissing = errors.New("source file missing")

	// ErrChecksum is raised when a loaded manifest's integrity checksum
	// does not match its content.
	ErrChecksum = errors.New("manifest checksum mismatch")

	// ErrFormat is raised when persisted data cannot be parsed.
	ErrFormat = errors.New("unparseable persisted data")

	// ErrBackupMismatch is raised when the connected cluster's identity
	// does not match the stanza's recorded identity.
	ErrBackupMismatch = errors.New("cluster identity does not match stanza")

	// ErrArchiveTimeout is raised when the WAL archive does not catch up
	// within the configured timeout after StopBackup.
	ErrArchiveTimeout = errors.New("archive did not catch up in time")

	// ErrPostmasterRunning is raised when an offline backup is requested
	// against a running cluster without --force.
	ErrPostmasterRunning = errors.New("cluster is running, offline backup refused")

	// ErrProtocolTimeout is raised when a subprocess transport round-trip
	// stalls past its deadline.
	ErrProtocolTimeout = errors.New("subprocess protocol timed out")

	// ErrHostConnect is raised when a remote host is unreachable.
	ErrHostConnect = errors.New("cannot connect to remote host")

	// ErrAssert is raised when an internal invariant is violated; always
	// a bug.
	ErrAssert = errors.New("internal invariant violated")
)
