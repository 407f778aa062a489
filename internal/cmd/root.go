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

// Package cmd wires the pgbackup binary's cobra command tree: the
// persistent logging flags every subcommand shares, and the subcommand
// registrations themselves.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cloudnative-pg/pg-backup-core/internal/cmd/backup"
	"github.com/cloudnative-pg/pg-backup-core/internal/cmd/genkey"
	"github.com/cloudnative-pg/pg-backup-core/internal/cmd/resume"
	"github.com/cloudnative-pg/pg-backup-core/internal/cmd/verifymanifest"
	"github.com/cloudnative-pg/pg-backup-core/pkg/management/log"
)

// LogFlags binds the logging configuration shared by every subcommand,
// the same two-flag shape the teacher's manager.Flags exposes, trimmed of
// its controller-runtime and klog wiring since this binary answers to no
// Kubernetes logging convention.
type LogFlags struct {
	level       string
	destination string
}

// AddFlags binds the logging flags to flags.
func (l *LogFlags) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&l.level, "log-level", log.DefaultLevelString,
		"the desired log level: error, warning, info, debug or trace")
	flags.StringVar(&l.destination, "log-destination", "",
		"file to write logs to, instead of stderr")
}

// Configure installs a logger built from the bound flag values as the
// package-level global logger every command reaches for.
func (l *LogFlags) Configure() error {
	var destination *os.File
	if l.destination != "" {
		f, err := os.OpenFile(l.destination, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o640) //nolint:gosec
		if err != nil {
			return err
		}
		destination = f
	}
	log.SetLogger(log.NewLogger(log.ParseLevel(l.level), destination))
	return nil
}

// NewRootCmd builds the pgbackup command tree.
func NewRootCmd() *cobra.Command {
	logFlags := &LogFlags{}

	root := &cobra.Command{
		Use:           "pgbackup",
		Short:         "Parallel, resumable physical backups of a PostgreSQL cluster",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return logFlags.Configure()
		},
	}

	logFlags.AddFlags(root.PersistentFlags())

	root.AddCommand(backup.NewCmd())
	root.AddCommand(resume.NewCmd())
	root.AddCommand(verifymanifest.NewCmd())
	root.AddCommand(genkey.NewCmd())

	return root
}
