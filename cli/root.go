package cli

import (
	"github.com/spf13/cobra"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "palisade",
		Short: "Scoped GenAI query pipeline",
	}

	root.AddCommand(
		QueryCmd(),
	)

	return root
}
