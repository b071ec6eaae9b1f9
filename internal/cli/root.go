// Package cli implements relayctl, the operator command line for the relay.
package cli

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func NewRoot() *cobra.Command {
	return newRoot(afero.NewOsFs())
}

// newRoot reads definition and body files through fs.
func newRoot(fs afero.Fs) *cobra.Command {
	root := &cobra.Command{
		Use:           "relayctl",
		Short:         "Operate the call relay",
		SilenceUsage: true,
	}
	root.AddCommand(
		newMigrateCommand(),
		newWorkflowCommand(fs),
		newSignCommand(fs),
	)
	return root
}
