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
	"github.com/cloudnative-pg/pg-backup-core/pkg/copier"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Options.ToArgv", func() {
	base := Options{
		CompressType:  copier.CompressZstd,
		CompressLevel: 5,
		ChecksumPage:  true,
		Delta:         true,
		BufferSize:    65536,
		CipherType:    "aes-256-gcm",
		CipherPass:    "super-secret",
		Hardlink:      true,
		StanzaName:    "main",
		Online:        true,
		BackupStandby: true,
	}

	It("never renders the cipher passphrase into argv", func() {
		argv := base.ToArgv(RoleRemoteWorker)
		for _, a := range argv {
			Expect(a).ToNot(ContainSubstring("super-secret"))
		}
	})

	It("includes hardlink only for a remote worker", func() {
		Expect(base.ToArgv(RoleRemoteWorker)).To(ContainElement("--hardlink"))
		Expect(base.ToArgv(RoleLocalWorker)).ToNot(ContainElement("--hardlink"))
	})

	It("includes stanza and online only for a local worker", func() {
		local := base.ToArgv(RoleLocalWorker)
		Expect(local).To(ContainElement("--stanza=main"))
		Expect(local).To(ContainElement("--online"))

		remote := base.ToArgv(RoleRemoteWorker)
		Expect(remote).ToNot(ContainElement("--stanza=main"))
		Expect(remote).ToNot(ContainElement("--online"))
	})

	It("renders the compression and checksum-page flags for both roles", func() {
		for _, role := range []Role{RoleLocalWorker, RoleRemoteWorker} {
			argv := base.ToArgv(role)
			Expect(argv).To(ContainElement("--compress-type=zstd"))
			Expect(argv).To(ContainElement("--compress-level=5"))
			Expect(argv).To(ContainElement("--checksum-page"))
			Expect(argv).To(ContainElement("--delta"))
		}
	})

	It("omits the cipher-type flag entirely when no cipher is configured", func() {
		argv := Options{}.ToArgv(RoleLocalWorker)
		for _, a := range argv {
			Expect(a).ToNot(HavePrefix("--cipher-type"))
		}
	})
})
