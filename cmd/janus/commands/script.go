package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/janus/am"
	"github.com/teranos/janus/inject"
)

// ScriptCmd prints the JavaScript janus injects, for pasting into a console
// or embedding in another host.
var ScriptCmd = &cobra.Command{
	Use:   "script",
	Short: "Print the JavaScript injected into surfaces",
}

var scriptChannel string

var scriptListenerCmd = &cobra.Command{
	Use:   "listener",
	Short: "Print the FidesJS listener bundle",
	RunE: func(cmd *cobra.Command, args []string) error {
		channel := scriptChannel
		if channel == "" {
			channel = am.DefaultChannel
			if cfg, err := am.Load(); err == nil {
				channel = cfg.GetChannel()
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), inject.ListenerBundle(channel))
		return nil
	},
}

var scriptQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Print the consent query snippet",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), inject.QuerySnippet())
	},
}

var scriptModalCmd = &cobra.Command{
	Use:   "modal",
	Short: "Print the show-modal snippet",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), inject.ShowModalSnippet())
	},
}

func init() {
	scriptListenerCmd.Flags().StringVar(&scriptChannel, "channel", "", "Message channel name (default from config)")

	ScriptCmd.AddCommand(scriptListenerCmd)
	ScriptCmd.AddCommand(scriptQueryCmd)
	ScriptCmd.AddCommand(scriptModalCmd)
}
