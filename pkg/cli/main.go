// Package cli wires the pipeline into a cobra command tree: a long-running
// `run` command, operator commands for the dead letter store, and version
// reporting.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dteflow/dteflow/pkg/config"
	"github.com/dteflow/dteflow/pkg/version"
)

const defaultEnvPrefix = "DTEFLOW"

// NewRootCommand builds the full command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "dteflow",
		Short:         "Asynchronous document transmission pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "path to configuration file")
	root.PersistentFlags().String("env-prefix", defaultEnvPrefix, "environment variable prefix")

	root.AddCommand(newRunCommand())
	root.AddCommand(newDLQCommand())
	root.AddCommand(newVersionCommand())
	return root
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	envPrefix, err := cmd.Flags().GetString("env-prefix")
	if err != nil {
		return nil, err
	}
	return config.NewViperLoader(configFile, envPrefix).LoadWithSecrets()
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderYAML(cmd, version.Current("dteflow"))
		},
	}
}

func renderYAML(cmd *cobra.Command, value any) error {
	encoder := yaml.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(value)
}
