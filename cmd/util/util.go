package util

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/genevanmeter/tbus/pubsub/transport"
	"github.com/genevanmeter/tbus/pubsub/transport/local"
	"github.com/genevanmeter/tbus/pubsub/transport/p2p"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupTransportFlags adds the shared transport flags to a command
func SetupTransportFlags(cmd *cobra.Command) {
	key := "queue-size"
	cmd.PersistentFlags().Int(key, 0, WrapString("Per-subscription delivery buffer size, 0 selects the transport default"))

	key = "listen"
	cmd.PersistentFlags().StringSlice(key, nil, WrapString("Multiaddr the p2p transport listens on, can be given multiple times"))

	key = "peer"
	cmd.PersistentFlags().StringSlice(key, nil, WrapString("Bootstrap peer multiaddr for the p2p transport, can be given multiple times"))

	key = "mdns"
	cmd.PersistentFlags().Bool(key, true, WrapString("Discover p2p peers on the local network via mDNS"))

	key = "rendezvous"
	cmd.PersistentFlags().String(key, p2p.DefaultRendezvous, WrapString("Service name announced via mDNS discovery"))

	key = "identity-file"
	cmd.PersistentFlags().String(key, "", WrapString("Path of the persistent p2p identity key, empty means a fresh identity per run"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitBusConfig initializes configuration from environment variables
func InitBusConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("tbus")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetP2POptions reads the p2p transport configuration from viper
func GetP2POptions() p2p.Options {
	return p2p.Options{
		ListenAddrs:    viper.GetStringSlice("listen"),
		BootstrapPeers: viper.GetStringSlice("peer"),
		Rendezvous:     viper.GetString("rendezvous"),
		EnableMDNS:     viper.GetBool("mdns"),
		IdentityFile:   viper.GetString("identity-file"),
		QueueSize:      viper.GetInt("queue-size"),
	}
}

// GetTransport creates the message transport based on configuration
func GetTransport() (transport.ITransport, error) {
	switch viper.GetString("transport") {
	case "local":
		return local.New(local.Options{QueueSize: viper.GetInt("queue-size")}), nil
	case "p2p":
		t, err := p2p.New(GetP2POptions())
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
