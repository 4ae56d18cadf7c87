package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/janus/am"
	"github.com/teranos/janus/cmd/janus/commands"
	"github.com/teranos/janus/errors"
	"github.com/teranos/janus/logger"
)

var rootCmd = &cobra.Command{
	Use:   "janus",
	Short: "janus - FidesJS consent bridge",
	Long: `janus - FidesJS consent event bridge and consent synchronisation.

janus drives browser surfaces that load a FidesJS page, relays every consent
lifecycle event to the host, and keeps a canonical consent copy in step.

Available commands:
  serve   - Start the host and its HTTP/WebSocket API
  am      - Show and change janus configuration ("I am")
  script  - Print the JavaScript injected into surfaces
  version - Show build information

Examples:
  janus serve -v             # Start with info logging
  janus am show              # Show effective configuration
  janus script listener      # Print the listener bundle`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Config and script output stay clean for piping
		if cmd.Name() == "show" || (cmd.Parent() != nil && cmd.Parent().Name() == "script") {
			return nil
		}

		jsonOutput := false
		if cfg, err := am.Load(); err == nil {
			jsonOutput = cfg.Log.JSON
		}
		if err := logger.Initialize(jsonOutput); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		logger.SetVerbosity(verbosity)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.ScriptCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
