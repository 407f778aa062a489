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

// Package clusterflags binds the connection and repository flags shared by
// every subcommand that needs to reach a cluster and a local repository,
// so backup and resume don't each redeclare them.
package clusterflags

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/cloudnative-pg/pg-backup-core/pkg/copier"
	"github.com/cloudnative-pg/pg-backup-core/pkg/pgconn"
)

// Connection binds the flags needed to dial a single PostgreSQL server.
type Connection struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Timeout  time.Duration
}

// AddFlags registers the connection flags under prefix (e.g. "" for the
// primary, "standby-" for a backup-standby connection).
func (c *Connection) AddFlags(flags *pflag.FlagSet, prefix, label string) {
	flags.StringVar(&c.Host, prefix+"host", "", label+" host to connect to")
	flags.IntVar(&c.Port, prefix+"port", 5432, label+" port")
	flags.StringVar(&c.User, prefix+"user", "postgres", label+" connection user")
	flags.StringVar(&c.Password, prefix+"password", "", label+" connection password")
	flags.StringVar(&c.Database, prefix+"dbname", "postgres", label+" database to connect to")
	flags.StringVar(&c.SSLMode, prefix+"sslmode", "prefer", label+" libpq sslmode")
	flags.DurationVar(&c.Timeout, prefix+"connect-timeout", 5*time.Second, label+" connection timeout")
}

// ToConnectionConfig renders c as a pgconn.ConnectionConfig.
func (c Connection) ToConnectionConfig() pgconn.ConnectionConfig {
	return pgconn.ConnectionConfig{
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Database:        c.Database,
		SSLMode:         c.SSLMode,
		ApplicationName: "pgbackup",
		ConnectTimeout:  c.Timeout,
	}
}

// Repository binds the flags describing where the local repository lives.
type Repository struct {
	Path   string
	Stanza string
}

// AddFlags registers the repository flags.
func (r *Repository) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&r.Path, "repo-path", "", "local repository root directory (required)")
	flags.StringVar(&r.Stanza, "stanza", "", "stanza name identifying this cluster in the repository (required)")
}

// ToRepositoryRoot renders r as a LocalRepositoryRoot.
func (r Repository) ToRepositoryRoot() copier.LocalRepositoryRoot {
	return copier.LocalRepositoryRoot{BaseDir: r.Path, Stanza: r.Stanza}
}
