package topic

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/genevanmeter/tbus/cmd/util"
	"github.com/genevanmeter/tbus/pubsub/common"
	"github.com/genevanmeter/tbus/pubsub/transport"
)

var (
	busTransport transport.ITransport

	// TopicCommands represents the topic command group
	TopicCommands = &cobra.Command{
		Use:                "topic",
		Short:              "Publish and subscribe to typed topics",
		PersistentPreRunE:  setupTransport,
		PersistentPostRunE: teardownTransport,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitBusConfig)

	// Add the shared transport flags to the topic command
	util.SetupTransportFlags(TopicCommands)

	// Add subcommands
	TopicCommands.AddCommand(sendCmd)
	TopicCommands.AddCommand(listenCmd)
	TopicCommands.AddCommand(perfCmd)
}

// setupTransport creates the configured message transport
func setupTransport(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Init logger
	common.InitLoggers(viper.GetString("log-level"))

	var err error
	busTransport, err = util.GetTransport()
	return err
}

// teardownTransport closes the transport once the command is done
func teardownTransport(_ *cobra.Command, _ []string) error {
	if busTransport == nil {
		return nil
	}
	return busTransport.Close()
}
