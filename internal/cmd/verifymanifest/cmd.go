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

// Package verifymanifest implements the "pgbackup verify-manifest" command:
// load a manifest file, check its checksum and internal consistency, and
// print a summary of what it describes.
package verifymanifest

import (
	"fmt"
	"os"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/logrusorgru/aurora/v3"
	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/pg-backup-core/pkg/manifest"
)

type flags struct {
	path string
}

// NewCmd builds the "verify-manifest" subcommand.
func NewCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "verify-manifest",
		Short: "Load a backup manifest, verify its checksum, and summarize it",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(f)
		},
	}

	cmd.Flags().StringVar(&f.path, "path", "", "path to the backup.manifest file (required)")

	return cmd
}

func run(f *flags) error {
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	m, err := manifest.Load(file)
	if err != nil {
		fmt.Printf("%s %s: %v\n", aurora.Red("INVALID"), f.path, err)
		return err
	}

	if err := m.Validate(); err != nil {
		fmt.Printf("%s %s: %v\n", aurora.Red("INVALID"), f.path, err)
		return err
	}

	fmt.Printf("%s %s\n\n", aurora.Green("OK"), f.path)

	t := tabby.New()
	t.AddLine("label", m.Backup.Label)
	t.AddLine("type", m.Backup.Type)
	t.AddLine("prior-label", m.Backup.PriorLabel)
	t.AddLine("engine-version", m.Backup.EngineVersion)
	t.AddLine("started", time.Unix(m.Backup.TimestampStart, 0).UTC())
	t.AddLine("stopped", time.Unix(m.Backup.TimestampStop, 0).UTC())
	t.AddLine("compress-type", m.Option.CompressType)
	t.AddLine("cipher-type", m.Option.CipherType)
	t.AddLine("files", len(m.FileList()))
	t.AddLine("paths", len(m.PathList()))
	t.AddLine("links", len(m.LinkList()))
	t.AddLine("total repository size", m.TotalRepoSize())
	t.Print()

	return nil
}
