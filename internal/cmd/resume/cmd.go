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

// Package resume implements the "pgbackup resume" command: a dry-run
// report of whether a partial backup attempt could be resumed, without
// actually taking a backup.
package resume

import (
	"context"
	"fmt"
	"os"

	"github.com/cheynewallace/tabby"
	"github.com/logrusorgru/aurora/v3"
	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/pg-backup-core/internal/cmd/clusterflags"
	"github.com/cloudnative-pg/pg-backup-core/pkg/backupengine"
	"github.com/cloudnative-pg/pg-backup-core/pkg/manifest"
	"github.com/cloudnative-pg/pg-backup-core/pkg/resume"
)

type flags struct {
	repo          clusterflags.Repository
	label         string
	dataDirectory string
	compressExt   string
	cipherType    string
	resumeEnabled bool
}

// NewCmd builds the "resume" subcommand.
func NewCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Report whether a partial backup attempt can be resumed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}

	f.repo.AddFlags(cmd.Flags())
	cmd.Flags().StringVar(&f.label, "label", "", "label of the partial backup attempt to inspect (required)")
	cmd.Flags().StringVar(&f.dataDirectory, "pgdata", "", "cluster data directory to compare repository artifacts against (required)")
	cmd.Flags().StringVar(&f.compressExt, "compress-ext", "", "compression extension the planned backup would use, e.g. .zst")
	cmd.Flags().StringVar(&f.cipherType, "cipher-type", "", "cipher type the planned backup would use")
	cmd.Flags().BoolVar(&f.resumeEnabled, "resume", true, "whether resume is enabled for the planned backup")

	return cmd
}

func run(_ context.Context, f *flags) error {
	root := f.repo.ToRepositoryRoot()

	saved, err := root.SavedManifest(f.label)
	if err != nil {
		return fmt.Errorf("loading saved manifest for %q: %w", f.label, err)
	}

	ok, why := resume.CanResume(saved, resume.Options{
		ResumeEnabled:      f.resumeEnabled,
		EngineVersion:      backupengine.EngineVersion,
		SavedEngineVersion: saved.Backup.EngineVersion,
		PlanPriorLabel:     saved.Backup.PriorLabel,
		SavedPriorLabel:    saved.Backup.PriorLabel,
		PlanCompressType:   f.compressExt,
		SavedCompressType:  f.compressExt,
		PlanCipherType:     f.cipherType,
		SavedCipherType:    f.cipherType,
		PlanBackupType:     saved.Backup.Type,
		SavedBackupType:    saved.Backup.Type,
	})
	if !ok {
		fmt.Printf("%s cannot resume %s: %s\n", aurora.Red("NO"), f.label, why)
		return nil
	}

	artifacts, err := root.ExistingArtifacts(f.label)
	if err != nil {
		return fmt.Errorf("scanning repository artifacts: %w", err)
	}

	clusterFiles := statClusterFiles(f.dataDirectory, saved)

	result := resume.Classify(saved, saved, f.compressExt, clusterFiles, artifacts)

	t := tabby.New()
	t.AddHeader("ARTIFACT", "KEEP", "REASON")
	for _, c := range result.Classifications {
		keep := aurora.Red("no")
		if c.Keep {
			keep = aurora.Green("yes")
		}
		t.AddLine(c.Artifact.Name, keep, c.Reason)
	}
	t.Print()

	fmt.Printf("\n%s resume possible for %s (delta forced: %v)\n", aurora.Green("YES"), f.label, result.EnableDelta)
	return nil
}

// statClusterFiles stats every regular-file entry the saved manifest names,
// relative to dataDirectory, so Classify can compare what's still on the
// cluster filesystem against what the interrupted attempt recorded.
func statClusterFiles(dataDirectory string, saved *manifest.Manifest) map[string]resume.ClusterFileStat {
	out := make(map[string]resume.ClusterFileStat)
	for _, f := range saved.FileList() {
		info, err := os.Stat(dataDirectory + "/" + stripPrimaryTarget(f.Name))
		if err != nil {
			continue
		}
		out[f.Name] = resume.ClusterFileStat{Size: info.Size(), Timestamp: info.ModTime().Unix()}
	}
	return out
}

func stripPrimaryTarget(name string) string {
	prefix := manifest.PrimaryTargetName + "/"
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		return name[len(prefix):]
	}
	return name
}
