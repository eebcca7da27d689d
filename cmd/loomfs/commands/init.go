package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomfs/loomfs/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample LoomFS configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/loomfs/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  loomfs init

  # Initialize with custom path
  loomfs init --config /etc/loomfs/config.yaml

  # Force overwrite existing config
  loomfs init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if err := config.InitConfigToPath(configPath, initForce); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the server with: loomfs start")
	fmt.Printf("  3. Or specify custom config: loomfs start --config %s\n", configPath)

	return nil
}
