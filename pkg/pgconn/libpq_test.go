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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ConnectionConfig.DSN", func() {
	It("renders every field into the libpq connection string", func() {
		cfg := ConnectionConfig{
			Host:            "db.internal",
			Port:            5433,
			User:            "replicator",
			Password:        "s3cret",
			Database:        "appdb",
			SSLMode:         "require",
			ApplicationName: "pgbackup-test",
			ConnectTimeout:  10 * time.Second,
		}
		Expect(cfg.DSN()).To(Equal(
			"host=db.internal port=5433 user=replicator password=s3cret dbname=appdb " +
				"sslmode=require application_name=pgbackup-test connect_timeout=10",
		))
	})

	It("fills in defaults for an otherwise empty config", func() {
		cfg := ConnectionConfig{Host: "localhost", Port: 5432, User: "postgres"}
		Expect(cfg.DSN()).To(ContainSubstring("dbname=postgres"))
		Expect(cfg.DSN()).To(ContainSubstring("sslmode=prefer"))
		Expect(cfg.DSN()).To(ContainSubstring("application_name=pgbackup"))
		Expect(cfg.DSN()).To(ContainSubstring("connect_timeout=5"))
	})
})
