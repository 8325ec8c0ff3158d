package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-clothing-orderflow/internal/observability"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show shopctl version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "shopctl %s\n", observability.ServiceVersion)
			return nil
		},
	}
}
