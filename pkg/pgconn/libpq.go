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

package pgconn

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // registers the "postgres" sql.DB driver

	"github.com/cloudnative-pg/pg-backup-core/pkg/backupengine"
	"github.com/cloudnative-pg/pg-backup-core/pkg/postgres"
)

// ConnectionConfig names everything needed to dial one PostgreSQL server
// and run the backup protocol against it, §7's connection configuration.
type ConnectionConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	ApplicationName string
	ConnectTimeout  time.Duration
}

// DSN renders cfg as a libpq connection string.
func (cfg ConnectionConfig) DSN() string {
	database := cfg.Database
	if database == "" {
		database = "postgres"
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	appName := cfg.ApplicationName
	if appName == "" {
		appName = "pgbackup"
	}
	timeout := int(cfg.ConnectTimeout.Seconds())
	if timeout <= 0 {
		timeout = 5
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s application_name=%s connect_timeout=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, database, sslMode, appName, timeout,
	)
}

// libpqConn is the lib/pq-backed Conn implementation used against real
// clusters; tests exercise the controller against a hand-rolled stub
// instead of a live server.
type libpqConn struct {
	db *sql.DB
}

// Dial opens a connection to the server described by cfg and verifies it
// is reachable with a ping.
func Dial(ctx context.Context, cfg ConnectionConfig) (Conn, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", backupengine.ErrHostConnect, err)
	}

	return &libpqConn{db: db}, nil
}

func (c *libpqConn) ServerVersion(ctx context.Context) (int, error) {
	var version int
	err := c.db.QueryRowContext(ctx, "SHOW server_version_num").Scan(&version)
	return version, err
}

func (c *libpqConn) SystemIdentifier(ctx context.Context) (string, error) {
	var id string
	err := c.db.QueryRowContext(ctx, "SELECT system_identifier::text FROM pg_control_system()").Scan(&id)
	return id, err
}

func (c *libpqConn) IsInRecovery(ctx context.Context) (bool, error) {
	var inRecovery bool
	err := c.db.QueryRowContext(ctx, "SELECT pg_is_in_recovery()").Scan(&inRecovery)
	return inRecovery, err
}

func (c *libpqConn) CurrentTimestamp(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := c.db.QueryRowContext(ctx, "SELECT now()").Scan(&t)
	return t, err
}

func (c *libpqConn) DataDirectory(ctx context.Context) (string, error) {
	var dir string
	err := c.db.QueryRowContext(ctx, "SHOW data_directory").Scan(&dir)
	return dir, err
}

func (c *libpqConn) Tablespaces(ctx context.Context) ([]TablespaceInfo, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT oid, spcname, pg_tablespace_location(oid)
		FROM pg_tablespace
		WHERE spcname NOT IN ('pg_default', 'pg_global')`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []TablespaceInfo
	for rows.Next() {
		var ts TablespaceInfo
		if err := rows.Scan(&ts.OID, &ts.Name, &ts.Location); err != nil {
			return nil, err
		}
		result = append(result, ts)
	}
	return result, rows.Err()
}

func (c *libpqConn) Databases(ctx context.Context) ([]DatabaseInfo, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT oid, datname, datlastsysoid FROM pg_database`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []DatabaseInfo
	for rows.Next() {
		var d DatabaseInfo
		if err := rows.Scan(&d.OID, &d.Name, &d.DatLastSysOID); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (c *libpqConn) ReplayLSN(ctx context.Context) (postgres.LSN, error) {
	var lsn string
	err := c.db.QueryRowContext(ctx, "SELECT pg_last_wal_replay_lsn()::text").Scan(&lsn)
	return postgres.LSN(lsn), err
}

func (c *libpqConn) StartBackup(ctx context.Context, label string, fastCheckpoint bool) (BackupStartResult, error) {
	var lsn string
	err := c.db.QueryRowContext(ctx,
		"SELECT lsn::text FROM pg_backup_start($1, $2)", label, fastCheckpoint).Scan(&lsn)
	if err != nil {
		return BackupStartResult{}, fmt.Errorf("starting backup: %w", err)
	}

	now, err := c.CurrentTimestamp(ctx)
	if err != nil {
		return BackupStartResult{}, err
	}

	var timeline int
	if err := c.db.QueryRowContext(ctx, "SELECT timeline_id FROM pg_control_checkpoint()").Scan(&timeline); err != nil {
		return BackupStartResult{}, err
	}

	return BackupStartResult{
		StartLSN:    postgres.LSN(lsn),
		TimelineID:  timeline,
		BackupLabel: label,
		StartTime:   now,
	}, nil
}

func (c *libpqConn) StopBackup(ctx context.Context) (BackupStopResult, error) {
	var lsn, labelFile, tablespaceMapFile string
	err := c.db.QueryRowContext(ctx,
		"SELECT lsn::text, labelfile, spcmapfile FROM pg_backup_stop()").Scan(&lsn, &labelFile, &tablespaceMapFile)
	if err != nil {
		return BackupStopResult{}, fmt.Errorf("stopping backup: %w", err)
	}

	now, err := c.CurrentTimestamp(ctx)
	if err != nil {
		return BackupStopResult{}, err
	}

	return BackupStopResult{
		StopLSN:       postgres.LSN(lsn),
		BackupLabel:   labelFile,
		TablespaceMap: tablespaceMapFile,
		StopTime:      now,
	}, nil
}

func (c *libpqConn) AdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var acquired bool
	err := c.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired)
	return acquired, err
}

func (c *libpqConn) AdvisoryUnlock(ctx context.Context, key int64) error {
	_, err := c.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", key)
	return err
}

func (c *libpqConn) WaitForArchive(ctx context.Context, lsn postgres.LSN, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		var archived bool
		err := c.db.QueryRowContext(ctx,
			"SELECT COALESCE(pg_walfile_name($1::pg_lsn) <= last_archived_wal, false) FROM pg_stat_archiver",
			string(lsn)).Scan(&archived)
		if err != nil {
			return err
		}
		if archived {
			return nil
		}
		if time.Now().After(deadline) {
			return backupengine.ErrArchiveTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (c *libpqConn) Close() error {
	return c.db.Close()
}
