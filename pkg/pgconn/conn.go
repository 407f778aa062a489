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

// Package pgconn is the narrow slice of a PostgreSQL client the backup
// controller needs: starting and stopping the backup, reading the
// cluster's identity and replay position, and enumerating what it
// contains. It is not a general-purpose database access layer.
package pgconn

import (
	"context"
	"time"

	"github.com/cloudnative-pg/pg-backup-core/pkg/postgres"
)

// TablespaceInfo describes one non-default tablespace the controller must
// copy and record in the manifest.
type TablespaceInfo struct {
	OID      int64
	Name     string
	Location string
}

// DatabaseInfo describes one database found in pg_database, enough to
// populate the manifest's database section.
type DatabaseInfo struct {
	OID        int64
	Name       string
	DatLastSysOID int64
}

// BackupStartResult is what StartBackup reports back once pg_backup_start
// returns.
type BackupStartResult struct {
	StartLSN     postgres.LSN
	TimelineID   int
	BackupLabel  string
	StartTime    time.Time
}

// BackupStopResult is what StopBackup reports once pg_backup_stop returns.
type BackupStopResult struct {
	StopLSN       postgres.LSN
	BackupLabel   string
	TablespaceMap string
	StopTime      time.Time
}

// Conn is the database-facing half of the backup controller: everything
// it needs from a single PostgreSQL connection (primary or standby) to
// drive a physical backup. A real implementation wraps one *sql.DB
// connection; a test implementation can be a hand-rolled stub.
type Conn interface {
	// ServerVersion returns the connected server's numeric version, e.g.
	// 150003 for 15.3.
	ServerVersion(ctx context.Context) (int, error)
	// SystemIdentifier returns the cluster's system identifier, as found
	// in pg_control and reported by pg_control_system().
	SystemIdentifier(ctx context.Context) (string, error)
	// IsInRecovery reports whether this connection is to a standby.
	IsInRecovery(ctx context.Context) (bool, error)
	// CurrentTimestamp returns the server's notion of now, used to derive
	// the backup's start time from the same clock as the LSNs it records.
	CurrentTimestamp(ctx context.Context) (time.Time, error)
	// DataDirectory returns the value of the data_directory GUC.
	DataDirectory(ctx context.Context) (string, error)
	// Tablespaces enumerates pg_tablespace, excluding pg_default and
	// pg_global.
	Tablespaces(ctx context.Context) ([]TablespaceInfo, error)
	// Databases enumerates pg_database.
	Databases(ctx context.Context) ([]DatabaseInfo, error)
	// ReplayLSN returns the replica's last-replayed LSN. Only valid when
	// IsInRecovery is true.
	ReplayLSN(ctx context.Context) (postgres.LSN, error)
	// StartBackup calls the server's non-exclusive pg_backup_start with the
	// given label. pg_start_backup, the entry point of servers older than
	// 15, is not called.
	StartBackup(ctx context.Context, label string, fastCheckpoint bool) (BackupStartResult, error)
	// StopBackup calls the matching backup-stop entry point.
	StopBackup(ctx context.Context) (BackupStopResult, error)
	// AdvisoryLock acquires (true) or fails to acquire (false) a session
	// level advisory lock, used to serialize concurrent backups against
	// the same cluster.
	AdvisoryLock(ctx context.Context, key int64) (bool, error)
	AdvisoryUnlock(ctx context.Context, key int64) error
	// WaitForArchive blocks until the WAL segment containing lsn has been
	// archived, or ctx expires first.
	WaitForArchive(ctx context.Context, lsn postgres.LSN, timeout time.Duration) error
	Close() error
}
