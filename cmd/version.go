package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const (
	serviceName    = "timeserver"
	serviceVersion = "1.0.0"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serviceName, serviceVersion)
			return err
		},
	}
}
