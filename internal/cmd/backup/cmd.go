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

// Package backup implements the "pgbackup backup" command.
package backup

import (
	"context"
	"fmt"

	"github.com/logrusorgru/aurora/v3"
	"github.com/spf13/cobra"
	"github.com/thoas/go-funk"

	"github.com/cloudnative-pg/pg-backup-core/internal/cmd/clusterflags"
	"github.com/cloudnative-pg/pg-backup-core/pkg/backupengine"
	"github.com/cloudnative-pg/pg-backup-core/pkg/copier"
	"github.com/cloudnative-pg/pg-backup-core/pkg/manifest"
	"github.com/cloudnative-pg/pg-backup-core/pkg/orchestrator"
	"github.com/cloudnative-pg/pg-backup-core/pkg/pgconn"
)

var allowedCompressTypes = []string{string(copier.CompressNone), string(copier.CompressZstd), string(copier.CompressLZ4)}

type flags struct {
	conn        clusterflags.Connection
	standby     clusterflags.Connection
	repo        clusterflags.Repository
	opts        backupengine.Options
	concurrency int
	saveEvery   int
}

// NewCmd builds the "backup" subcommand.
func NewCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Take a full, differential or incremental physical backup",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}

	f.conn.AddFlags(cmd.Flags(), "", "primary")
	f.standby.AddFlags(cmd.Flags(), "standby-", "standby")
	f.repo.AddFlags(cmd.Flags())
	f.opts.StanzaName = "" // bound to f.repo.Stanza at run time, not duplicated as a flag

	cmd.Flags().StringVar((*string)(&f.opts.BackupType), "backup-type", string(manifest.BackupTypeFull),
		"backup type: full, diff or incr")
	cmd.Flags().StringVar(&f.opts.PriorLabel, "prior-label", "", "label of the backup this one is relative to")
	cmd.Flags().BoolVar(&f.opts.Online, "online", true, "take the backup against a running server")
	cmd.Flags().BoolVar(&f.opts.BackupStandby, "backup-standby", false, "copy files from the standby instead of the primary")
	cmd.Flags().BoolVar(&f.opts.FastCheckpoint, "fast-checkpoint", false, "request an immediate checkpoint at backup start")
	cmd.Flags().BoolVar(&f.opts.Force, "force", false, "override the running-postmaster check for an offline backup")
	cmd.Flags().StringVar((*string)(&f.opts.CompressType), "compress-type", "", "compression filter: zstd or lz4, empty for none")
	cmd.Flags().IntVar(&f.opts.CompressLevel, "compress-level", 3, "compression level")
	cmd.Flags().BoolVar(&f.opts.ChecksumPage, "checksum-page", false, "verify relation file page checksums while copying")
	cmd.Flags().BoolVar(&f.opts.Hardlink, "hardlink", false, "record the hardlink option in the manifest and remote worker arguments; no hardlinks are created")
	cmd.Flags().BoolVar(&f.opts.Delta, "delta", false, "verify content against expected checksum before recopying")
	cmd.Flags().BoolVar(&f.opts.ResumeEnabled, "resume", true, "attempt to resume a matching partial backup attempt")
	cmd.Flags().StringVar(&f.opts.ResumeLabel, "resume-label", "",
		"resume this specific unpublished label instead of auto-discovering one")
	cmd.Flags().StringVar(&f.opts.CipherType, "cipher-type", "", "encryption cipher, e.g. aes-256-gcm")
	cmd.Flags().StringVar(&f.opts.CipherPass, "cipher-pass", "", "encryption passphrase")
	cmd.Flags().IntVar(&f.opts.BufferSize, "buffer-size", 1<<20, "buffer size in bytes, recorded in the manifest and worker arguments; the local copy pipeline does not use it")
	cmd.Flags().IntVar(&f.opts.ProcessMax, "process-max", 4, "maximum concurrent file-copy workers; replaced by the value of --jobs")
	cmd.Flags().BoolVar(&f.opts.ArchiveCheck, "archive-check", true, "wait for the WAL archive to catch up before publishing")
	cmd.Flags().IntVar(&f.opts.ArchiveTimeout, "archive-timeout", 60, "seconds to wait for archive-check")
	cmd.Flags().IntVar(&f.opts.ProtocolTimeout, "protocol-timeout", 30, "remote worker round-trip timeout in seconds; not passed to any transport")
	cmd.Flags().IntVar(&f.concurrency, "jobs", 4, "concurrent local file-copy workers")
	cmd.Flags().IntVar(&f.saveEvery, "manifest-save-threshold", 100, "files between periodic manifest saves")

	return cmd
}

func run(ctx context.Context, f *flags) error {
	if !funk.Contains(allowedCompressTypes, string(f.opts.CompressType)) {
		return fmt.Errorf("invalid --compress-type %q: must be one of %v", f.opts.CompressType, allowedCompressTypes)
	}
	f.opts.StanzaName = f.repo.Stanza
	f.opts.ProcessMax = f.concurrency

	primary, err := pgconn.Dial(ctx, f.conn.ToConnectionConfig())
	if err != nil {
		return err
	}
	defer func() { _ = primary.Close() }()

	var standby pgconn.Conn
	if f.opts.BackupStandby {
		standby, err = pgconn.Dial(ctx, f.standby.ToConnectionConfig())
		if err != nil {
			return err
		}
		defer func() { _ = standby.Close() }()
	}

	repoRoot := f.repo.ToRepositoryRoot()
	// Source is left unset here: the controller doesn't know the cluster's
	// data directory until it queries the primary inside buildManifest, so
	// it points the worker at the right root itself once that's known.
	worker := &copier.Worker{
		Repository: repoRoot.Writer(),
	}

	dispatcher := orchestrator.NewDispatcher(orchestrator.Config{
		Concurrency:           f.concurrency,
		ManifestSaveThreshold: f.saveEvery,
		LocalWorker:           worker,
		Metrics:               orchestrator.NewMetrics(),
	})

	controller := &backupengine.Controller{
		Primary:    primary,
		Standby:    standby,
		Repository: repoRoot,
		Worker:     worker,
		Dispatcher: dispatcher,
		Retention:  backupengine.AlwaysNeeded{},
		Options:    f.opts,
	}

	result, err := controller.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%s backup %s complete: %d copied, %d skipped, %d reused, %d recopied, %d checksum-matched\n",
		aurora.Green("OK"), result.Label,
		result.Summary.Copied, result.Summary.Skipped, result.Summary.Noop,
		result.Summary.Recopied, result.Summary.ChecksumMatch)
	return nil
}
