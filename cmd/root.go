package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/genevanmeter/tbus/cmd/topic"
	"github.com/genevanmeter/tbus/cmd/util"
)

const (
	Version = "0.4.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "tbus",
		Short: "typed publish/subscribe messaging",
		Long: fmt.Sprintf(`tbus (v%s)

A typed topic-based publish/subscribe messaging library written in Go,
with an in-process transport and a brokerless peer-to-peer transport
built on libp2p gossipsub.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of tbus",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tbus v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(topic.TopicCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "transport"
	RootCmd.PersistentFlags().String(key, "local", util.WrapString("transport to use (local, p2p)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
