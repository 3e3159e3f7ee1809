package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/r9s-ai/dashgate/internal/server"
	"github.com/r9s-ai/dashgate/internal/version"
)

const defaultConfigPath = "dashgate.yaml"

func Run(args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.Execute()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dashgate",
		Short:         "Authorization and query shaping for embedded dashboards",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newServeCmd(),
		newCheckCmd(),
		newResolveCmd(),
		newReloadCmd(),
		newEncryptCmd(),
		newGenMasterKeyCmd(),
		newVersionCmd(),
	)
	return cmd
}

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.Run(cfgPath)
		},
	}
	addConfigFlag(cmd, &cfgPath)
	return cmd
}

func newVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if short {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Short())
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Get())
			return err
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "print only the version")
	return cmd
}

func addConfigFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVarP(dst, "config", "c", defaultConfigPath, "config yaml path (missing file means defaults + env)")
}
