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

// Package genkey implements the "pgbackup genkey" command, generating a
// passphrase suitable for --cipher-pass.
package genkey

import (
	"fmt"

	"github.com/sethvargo/go-password/password"
	"github.com/spf13/cobra"
)

type flags struct {
	length      int
	digits      int
	symbols     int
	allowUpper  bool
	allowRepeat bool
}

// NewCmd builds the "genkey" subcommand.
func NewCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate a random passphrase for encrypted backups",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(f)
		},
	}

	cmd.Flags().IntVar(&f.length, "length", 32, "passphrase length")
	cmd.Flags().IntVar(&f.digits, "digits", 6, "number of digits")
	cmd.Flags().IntVar(&f.symbols, "symbols", 4, "number of symbols")
	cmd.Flags().BoolVar(&f.allowUpper, "upper", true, "allow uppercase letters")
	cmd.Flags().BoolVar(&f.allowRepeat, "allow-repeat", false, "allow repeat characters")

	return cmd
}

func run(f *flags) error {
	gen, err := password.NewGenerator(&password.GeneratorInput{})
	if err != nil {
		return err
	}

	pass, err := gen.Generate(f.length, f.digits, f.symbols, !f.allowUpper, f.allowRepeat)
	if err != nil {
		return err
	}

	fmt.Println(pass)
	return nil
}
