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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/google/uuid"

	"github.com/cloudnative-pg/pg-backup-core/pkg/concurrency"
	"github.com/cloudnative-pg/pg-backup-core/pkg/copier"
	"github.com/cloudnative-pg/pg-backup-core/pkg/management/log"
	"github.com/cloudnative-pg/pg-backup-core/pkg/manifest"
	"github.com/cloudnative-pg/pg-backup-core/pkg/orchestrator"
	"github.com/cloudnative-pg/pg-backup-core/pkg/pgconn"
	"github.com/cloudnative-pg/pg-backup-core/pkg/resume"
)

// State names the controller's position in its state machine, used only
// for logging and for tests that assert on the sequence of transitions.
type State string

// The controller's states, visited in this order on the success path.
const (
	StateInit            State = "Init"
	StateOptionReconcile State = "OptionReconcile"
	StateConnectPrimary  State = "ConnectPrimary"
	StateConnectStandby  State = "ConnectStandby"
	StateStartBackup     State = "StartBackup"
	StateBuildManifest   State = "BuildManifest"
	StateDispatch        State = "Dispatch"
	StateStopBackup      State = "StopBackup"
	StateFinalizeManifest State = "FinalizeManifest"
	StateArchiveCheck    State = "ArchiveCheck"
	StatePublish         State = "Publish"
	StateDone            State = "Done"
)

// EngineVersion is this build's own version string, compared by the
// Resume Analyzer against a saved manifest's recorded engine version.
// Overridable in tests; set at link time in real builds via -ldflags.
var EngineVersion = "0.1.0"

// RepositoryRoot abstracts the backup repository's directory layout so
// the controller never shell-invokes mkdir/mv/ln directly, the way the
// teacher keeps filesystem operations behind pkg/fileutils rather than
// scattered os.* calls.
type RepositoryRoot interface {
	// InProgressDir returns the working directory for a backup attempt
	// before it is published, e.g. "<stanza>/backup/<label>".
	InProgressDir(label string) string
	// FinalDir returns the published directory for a completed backup.
	FinalDir(label string) string
	// Publish marks label's backup as complete and repoints the
	// repository's "latest" pointer at it. Implementations are free to
	// choose how "in progress" and "final" differ on the underlying
	// store, so long as SavedManifest and ExistingArtifacts see the same
	// content before and after.
	Publish(label string) error
	// SavedManifest opens the saved manifest (and its copy) of an
	// existing, possibly partial, backup directory for resume analysis.
	SavedManifest(label string) (*manifest.Manifest, error)
	// ExistingArtifacts lists the repository-relative file names already
	// present in label's in-progress directory.
	ExistingArtifacts(label string) ([]resume.RepositoryArtifact, error)
	// UnpublishedLabels lists every label in the repository that has no
	// publish marker: attempts that started but never finished, the
	// candidate pool the Resume Analyzer picks from when no explicit
	// label is requested.
	UnpublishedLabels() ([]string, error)
}

// Controller drives one backup attempt end to end.
type Controller struct {
	Primary    pgconn.Conn
	Standby    pgconn.Conn
	Repository RepositoryRoot
	Worker     *copier.Worker
	Dispatcher *orchestrator.Dispatcher
	Retention  RetentionAdviser

	Options Options
}

// Result is what a successful Run reports.
type Result struct {
	Label       string
	CorrelationID string
	Manifest    *manifest.Manifest
	Summary     orchestrator.Summary
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Run executes the full state machine, returning as soon as any state
// fails. Failures of the controller's own checks wrap one of this
// package's sentinel kinds; errors returned by a connection, the
// filesystem or the dispatcher are wrapped only with the failing state's
// name.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	correlationID := uuid.New().String()
	logger := log.GetLogger().WithValues("correlationId", correlationID, "stanza", c.Options.StanzaName)

	state := StateInit
	logger.Info("entering state", "state", state)

	if err := c.reconcileOptions(); err != nil {
		return Result{}, fmt.Errorf("%s: %w", StateOptionReconcile, err)
	}
	state = StateOptionReconcile
	logger.Info("entering state", "state", state)

	if c.Primary == nil {
		return Result{}, fmt.Errorf("no primary connection configured: %w", ErrAssert)
	}
	state = StateConnectPrimary
	logger.Info("entering state", "state", state)

	if c.Options.BackupStandby {
		if c.Standby == nil {
			return Result{}, fmt.Errorf("backup-standby requested but no standby connection configured: %w", ErrAssert)
		}
		replayLSN, err := c.Standby.ReplayLSN(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", StateConnectStandby, err)
		}
		logger.Info("standby reachable", "replayLsn", replayLSN)
		state = StateConnectStandby
	}

	startTime := time.Now()
	startResult, err := c.Primary.StartBackup(ctx, "", c.Options.FastCheckpoint)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", StateStartBackup, err)
	}
	state = StateStartBackup
	logger.Info("entering state", "state", state, "startLsn", startResult.StartLSN)

	label, m, err := c.buildManifest(ctx, startResult, startTime)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", StateBuildManifest, err)
	}
	state = StateBuildManifest
	logger.Info("entering state", "state", state, "label", label, "files", len(m.FileList()))

	planned, err := c.planFiles(m, label)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", StateDispatch, err)
	}

	cancel := concurrency.NewExecuted()
	summary, err := c.Dispatcher.Run(ctx, planned, c.applyResult(m), c.periodicSave(m, label), cancel)
	if err != nil {
		cancel.Broadcast()
		return Result{}, fmt.Errorf("%s: %w", StateDispatch, err)
	}
	state = StateDispatch
	logger.Info("entering state", "state", state, "copied", summary.Copied, "skipped", summary.Skipped)

	stopResult, err := c.Primary.StopBackup(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", StateStopBackup, err)
	}
	state = StateStopBackup
	logger.Info("entering state", "state", state, "stopLsn", stopResult.StopLSN)

	if err := c.recordSynthesizedFiles(m, label, stopResult); err != nil {
		return Result{}, fmt.Errorf("%s: %w", StateStopBackup, err)
	}
	m.Backup.TimestampStop = stopResult.StopTime.Unix()
	if err := c.finalizeManifest(m, label); err != nil {
		return Result{}, fmt.Errorf("%s: %w", StateFinalizeManifest, err)
	}
	state = StateFinalizeManifest
	logger.Info("entering state", "state", state)

	if c.Options.ArchiveCheck {
		timeout := time.Duration(c.Options.ArchiveTimeout) * time.Second
		if err := c.Primary.WaitForArchive(ctx, stopResult.StopLSN, timeout); err != nil {
			return Result{}, fmt.Errorf("%s: %w", StateArchiveCheck, err)
		}
	}
	state = StateArchiveCheck
	logger.Info("entering state", "state", state)

	if err := c.Repository.Publish(label); err != nil {
		return Result{}, fmt.Errorf("%s: %w", StatePublish, err)
	}
	state = StatePublish
	logger.Info("entering state", "state", state)

	state = StateDone
	logger.Info("entering state", "state", state)

	return Result{
		Label:         label,
		CorrelationID: correlationID,
		Manifest:      m,
		Summary:       summary,
		StartedAt:     startTime,
		FinishedAt:    time.Now(),
	}, nil
}

// reconcileOptions rejects option combinations invalid for the target
// cluster and downgrades unsupported ones with a warning, per §4.6.
func (c *Controller) reconcileOptions() error {
	if c.Options.BackupStandby {
		version, err := c.Primary.ServerVersion(context.Background())
		if err == nil {
			if version < 90200 {
				return fmt.Errorf("backup-standby requires PostgreSQL 9.2 or newer: %w", ErrAssert)
			}
		}
	}

	if !c.Options.Online {
		if c.Options.ChecksumPage {
			log.Warning("checksum-page has no effect for an offline backup, disabling")
			c.Options.ChecksumPage = false
		}
		if !c.Options.Force {
			running, err := c.Primary.IsInRecovery(context.Background())
			if err == nil && !running {
				// A live, non-recovery connection answering at all means
				// the postmaster is up — offline backups require it down.
				return fmt.Errorf("%w: postmaster appears to be running, rerun with force",
					ErrPostmasterRunning)
			}
		}
	}

	return nil
}

func (c *Controller) buildManifest(
	ctx context.Context,
	start pgconn.BackupStartResult,
	startTime time.Time,
) (string, *manifest.Manifest, error) {
	dataDir, err := c.Primary.DataDirectory(ctx)
	if err != nil {
		return "", nil, err
	}
	if c.Worker != nil {
		c.Worker.Source = copier.LocalSourceFilesystem{BaseDir: dataDir}
	}
	tablespaces, err := c.Primary.Tablespaces(ctx)
	if err != nil {
		return "", nil, err
	}
	version, err := c.Primary.ServerVersion(ctx)
	if err != nil {
		return "", nil, err
	}
	systemID, err := c.Primary.SystemIdentifier(ctx)
	if err != nil {
		return "", nil, err
	}

	priorLabel, backupType := c.selectBackupType()

	var priorManifest *manifest.Manifest
	if priorLabel != "" {
		priorManifest, err = c.Repository.SavedManifest(priorLabel)
		if err != nil {
			log.Warning("prior backup manifest unreadable, falling back to full",
				"priorLabel", priorLabel, "error", err)
			priorLabel = ""
			backupType = manifest.BackupTypeFull
		}
	}

	label, savedForResume, err := c.resolveLabel(startTime, priorLabel, backupType)
	if err != nil {
		return "", nil, err
	}

	m := manifest.New(label, backupType)
	m.Backup.PriorLabel = priorLabel
	m.Backup.EngineVersion = EngineVersion
	m.Backup.TimestampStart = startTime.Unix()
	m.Backup.TimestampCopy = time.Now().Unix()

	m.Option = manifest.BackupOption{
		CompressType:  string(c.Options.CompressType),
		CompressLevel: c.Options.CompressLevel,
		Hardlink:      c.Options.Hardlink,
		ChecksumPage:  c.Options.ChecksumPage,
		Online:        c.Options.Online,
		BackupStandby: c.Options.BackupStandby,
		BufferSize:    c.Options.BufferSize,
		ProcessMax:    c.Options.ProcessMax,
		Delta:         c.Options.Delta,
		CipherType:    c.Options.CipherType,
	}

	plans := []TargetPlan{{Name: manifest.PrimaryTargetName, Kind: manifest.TargetKindPath, Path: dataDir}}
	for _, ts := range tablespaces {
		plans = append(plans, TargetPlan{
			Name:           fmt.Sprintf("pg_tblspc/%d", ts.OID),
			Kind:           manifest.TargetKindLink,
			Path:           ts.Location,
			TablespaceOID:  fmt.Sprintf("%d", ts.OID),
			TablespaceName: ts.Name,
		})
	}

	if err := WalkCluster(m, plans, false); err != nil {
		return "", nil, err
	}

	var fsIdentifier uint64
	if _, err := fmt.Sscanf(systemID, "%d", &fsIdentifier); err != nil {
		return "", nil, fmt.Errorf("%w: unparseable system identifier %q", ErrFormat, systemID)
	}
	m.Database = manifest.DatabaseInfo{
		Version:          version,
		SystemIdentifier: fsIdentifier,
	}

	if priorManifest != nil {
		if err := verifyClusterIdentity(priorManifest, m.Database); err != nil {
			return "", nil, err
		}
		applyDeltaReferences(m, priorManifest, priorLabel)
	}

	if savedForResume != nil {
		if err := c.applyResumeClassification(m, savedForResume, label, priorLabel); err != nil {
			return "", nil, err
		}
	}

	return label, m, nil
}

// selectBackupType applies the downgrade policy: a requested differential
// or incremental backup with no qualifying prior backup becomes full.
func (c *Controller) selectBackupType() (priorLabel string, backupType manifest.BackupType) {
	if c.Options.PriorLabel == "" {
		return "", manifest.BackupTypeFull
	}
	return c.Options.PriorLabel, c.Options.BackupType
}

// labelMatchesGeneration reports whether label could be an unpublished
// attempt for the requested backupType/priorLabel combination, per the
// naming convention formatLabel uses: a full label ends in "F" with no
// underscore; a differential or incremental label is prefixed by its own
// full backup's label followed by an underscore.
func labelMatchesGeneration(label string, backupType manifest.BackupType, priorLabel string) bool {
	switch backupType {
	case manifest.BackupTypeFull:
		return strings.HasSuffix(label, "F") && !strings.Contains(label, "_")
	case manifest.BackupTypeDifferential:
		return strings.HasPrefix(label, priorLabel+"_") && strings.HasSuffix(label, "D")
	case manifest.BackupTypeIncremental:
		return strings.HasPrefix(label, priorLabel+"_") && strings.HasSuffix(label, "I")
	default:
		return false
	}
}

// discoverResumableLabel picks the most recent unpublished repository label
// matching the requested generation, the candidate Resume Analyzer uses
// when the operator didn't name one with ResumeLabel.
func (c *Controller) discoverResumableLabel(priorLabel string, backupType manifest.BackupType) (string, bool) {
	labels, err := c.Repository.UnpublishedLabels()
	if err != nil || len(labels) == 0 {
		return "", false
	}

	var matches []string
	for _, l := range labels {
		if labelMatchesGeneration(l, backupType, priorLabel) {
			matches = append(matches, l)
		}
	}
	if len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[len(matches)-1], true
}

// resolveLabel decides which label this attempt uses: an operator-named or
// auto-discovered unpublished label to resume, or a freshly minted one when
// no resumable attempt exists. It returns the saved manifest to resume from
// as well, nil when this attempt isn't resuming anything.
func (c *Controller) resolveLabel(
	startTime time.Time,
	priorLabel string,
	backupType manifest.BackupType,
) (string, *manifest.Manifest, error) {
	candidate := c.Options.ResumeLabel
	explicit := candidate != ""

	if candidate == "" && c.Options.ResumeEnabled {
		if found, ok := c.discoverResumableLabel(priorLabel, backupType); ok {
			candidate = found
		}
	}

	if candidate != "" {
		saved, err := c.Repository.SavedManifest(candidate)
		switch {
		case err != nil && explicit:
			return "", nil, fmt.Errorf("resuming %s: %w", candidate, err)
		case err != nil:
			log.Debug("no resumable manifest found, starting fresh", "label", candidate)
		default:
			if _, verErr := semver.Make(EngineVersion); verErr != nil {
				log.Warning("engine version is not valid semver, resume comparisons will be literal", "version", EngineVersion)
			}
			canResume, reason := resume.CanResume(saved, resume.Options{
				ResumeEnabled:      c.Options.ResumeEnabled,
				EngineVersion:      EngineVersion,
				SavedEngineVersion: saved.Backup.EngineVersion,
				PlanPriorLabel:     priorLabel,
				SavedPriorLabel:    saved.Backup.PriorLabel,
				PlanCompressType:   string(c.Options.CompressType),
				SavedCompressType:  saved.Option.CompressType,
				PlanCipherType:     c.Options.CipherType,
				SavedCipherType:    saved.Option.CipherType,
				PlanBackupType:     backupType,
				SavedBackupType:    saved.Backup.Type,
			})
			if canResume {
				return candidate, saved, nil
			}
			log.Info("not resuming prior backup attempt", "label", candidate, "reason", reason)
			if explicit {
				return "", nil, fmt.Errorf("cannot resume %s: %s: %w", candidate, reason, ErrBackupMismatch)
			}
		}
	}

	exists := func(c2 string) bool {
		_, err := c.Repository.SavedManifest(c2)
		return err == nil
	}
	label, err := manifest.NewLabel(startTime, backupType, priorLabel, exists)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return label, nil, nil
}

// applyDeltaReferences links every freshly walked file whose size and
// modification time match priorLabel's saved recording back to that
// backup: the delta engine's verdict that the file is unchanged and its
// bytes need not be copied again, carrying the prior checksum forward for
// verification.
func applyDeltaReferences(m *manifest.Manifest, prior *manifest.Manifest, priorLabel string) {
	for _, f := range m.FileList() {
		priorFile, err := prior.FindFile(f.Name)
		if err != nil || priorFile.Size != f.Size || priorFile.Timestamp != f.Timestamp {
			continue
		}
		f.Reference = priorLabel
		f.RepoSize = 0
		f.Checksum = priorFile.Checksum
	}
}

// applyResumeClassification runs the Resume Analyzer's per-file
// classification against a confirmed-resumable saved manifest, carrying
// each kept artifact's saved checksum into the new plan so the worker
// verifies the artifact already in the repository or recopies it.
func (c *Controller) applyResumeClassification(m, saved *manifest.Manifest, label, priorLabel string) error {
	artifacts, err := c.Repository.ExistingArtifacts(label)
	if err != nil {
		return err
	}

	clusterFiles := make(map[string]resume.ClusterFileStat, len(m.FileList()))
	for _, f := range m.FileList() {
		clusterFiles[f.Name] = resume.ClusterFileStat{Size: f.Size, Timestamp: f.Timestamp}
	}

	result := resume.Classify(m, saved, c.Options.CompressType.Extension(), clusterFiles, artifacts)
	if result.EnableDelta && !c.Options.Delta {
		log.Warning("enabling delta mode: a resumed file's timestamp no longer matches the cluster",
			"label", label)
		c.Options.Delta = true
		m.Option.Delta = true
	}

	for _, class := range result.Classifications {
		if !class.Keep {
			continue
		}
		if file, ferr := m.FindFile(class.Artifact.Name); ferr == nil {
			file.Checksum = class.SavedChecksum
		}
	}

	return nil
}

// planFiles translates the manifest's file list into orchestrator jobs,
// skipping entries that already carry a reference (their bytes already
// live in a prior backup and need no copy) unless delta mode is on, in
// which case referenced entries are planned with HasReference set.
func (c *Controller) planFiles(m *manifest.Manifest, label string) ([]orchestrator.PlannedFile, error) {
	var planned []orchestrator.PlannedFile

	for _, f := range m.FileList() {
		if f.Reference != "" && !c.Options.Delta {
			continue
		}

		sourceName := f.Name[len(manifest.PrimaryTargetName)+1:]
		job := copier.Job{
			SourceName:       sourceName,
			ExpectedSize:     f.Size,
			CopyExactSize:    true,
			ExpectedChecksum: f.Checksum,
			CheckPages:       c.Options.ChecksumPage && isRelationFile(f.Name),
			RepoName:         f.Name,
			HasReference:     f.Reference != "",
			CompressType:     c.Options.CompressType,
			CompressLevel:    c.Options.CompressLevel,
			Label:            label,
			Delta:            c.Options.Delta,
			Cipher:           copier.EncryptionOptions{CipherType: c.Options.CipherType, Passphrase: c.Options.CipherPass},
		}

		dest := orchestrator.Destination{Local: true}
		if c.Options.BackupStandby && !f.MasterRead {
			dest = orchestrator.Destination{Local: false, Key: orchestrator.RemoteClientKey{HostID: "standby", Role: "standby-worker"}}
		}

		planned = append(planned, orchestrator.PlannedFile{
			Job:         job,
			RelPath:     f.Name,
			Size:        f.Size,
			Destination: dest,
		})
	}

	return planned, nil
}

func isRelationFile(name string) bool {
	base := filepath.Base(name)
	for _, r := range base {
		if r < '0' || r > '9' {
			return false
		}
	}
	return base != ""
}

// applyResult commits one completed job's CopyResult into the manifest.
// Called by the orchestrator from a single goroutine, so it needs no
// locking of its own.
func (c *Controller) applyResult(m *manifest.Manifest) orchestrator.Applier {
	return func(file orchestrator.PlannedFile, result manifest.CopyResult) error {
		entry, err := m.FindFile(file.RelPath)
		if err != nil {
			return err
		}
		entry.RepoSize = result.RepoSize
		entry.Checksum = result.Checksum
		entry.PageChecksum = result.PageChecksum
		return nil
	}
}

// periodicSave persists the in-progress manifest to its repository copy
// file, §4.5's manifest-save-threshold mechanism.
func (c *Controller) periodicSave(m *manifest.Manifest, label string) orchestrator.PeriodicSaver {
	return func() error {
		path := filepath.Join(c.Repository.InProgressDir(label), "backup.manifest.copy")
		tmp := path + ".tmp"
		f, err := os.Create(tmp) //nolint:gosec
		if err != nil {
			return err
		}
		if err := m.Save(f); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		return os.Rename(tmp, path)
	}
}

// recordSynthesizedFiles writes the backup_label and tablespace_map
// contents StopBackup returned straight into the repository (they never
// went through the dispatcher, since nothing on the cluster filesystem
// holds them until the server writes its own backup_label on restore),
// and records both as ordinary manifest file entries, per §4.6's
// StopBackup handling for servers 9.6 and newer.
func (c *Controller) recordSynthesizedFiles(m *manifest.Manifest, label string, stop pgconn.BackupStopResult) error {
	timestamp := stop.StopTime.Unix()
	dir := filepath.Join(c.Repository.InProgressDir(label), manifest.PrimaryTargetName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(dir, "backup_label"), []byte(stop.BackupLabel), 0o640); err != nil { //nolint:gosec
		return err
	}
	m.AddFile(&manifest.FileEntry{
		Name:      manifest.PrimaryTargetName + "/backup_label",
		Size:      int64(len(stop.BackupLabel)),
		Timestamp: timestamp,
		Mode:      "0640",
	})

	if stop.TablespaceMap != "" {
		if err := os.WriteFile(filepath.Join(dir, "tablespace_map"), []byte(stop.TablespaceMap), 0o640); err != nil { //nolint:gosec
			return err
		}
		m.AddFile(&manifest.FileEntry{
			Name:      manifest.PrimaryTargetName + "/tablespace_map",
			Size:      int64(len(stop.TablespaceMap)),
			Timestamp: timestamp,
			Mode:      "0640",
		})
	}

	return nil
}

// finalizeManifest validates and writes both the primary and copy
// manifest files into the in-progress backup directory.
func (c *Controller) finalizeManifest(m *manifest.Manifest, label string) error {
	if err := m.Validate(); err != nil {
		return err
	}

	dir := c.Repository.InProgressDir(label)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	for _, name := range []string{"backup.manifest", "backup.manifest.copy"} {
		f, err := os.Create(filepath.Join(dir, name)) //nolint:gosec
		if err != nil {
			return err
		}
		err = m.Save(f)
		closeErr := f.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
	}

	if c.Retention != nil {
		if _, err := c.Retention.IsStillNeeded(label); err != nil {
			log.Warning("retention adviser query failed, continuing", "error", err)
		}
	}

	return nil
}

// verifyClusterIdentity confirms that the prior (reference) backup's saved
// manifest records the same system identifier as the cluster currently
// being backed up, failing with ErrBackupMismatch otherwise. The server
// version is not compared.
func verifyClusterIdentity(saved *manifest.Manifest, current manifest.DatabaseInfo) error {
	if saved.Database.SystemIdentifier != 0 && saved.Database.SystemIdentifier != current.SystemIdentifier {
		return fmt.Errorf("%w: saved manifest system-id %d, cluster reports %d",
			ErrBackupMismatch, saved.Database.SystemIdentifier, current.SystemIdentifier)
	}
	return nil
}
