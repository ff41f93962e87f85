package topic

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/genevanmeter/tbus/cmd/util"
	"github.com/genevanmeter/tbus/pubsub"
	"github.com/genevanmeter/tbus/pubsub/common"
	"github.com/genevanmeter/tbus/pubsub/serializer"
)

var (
	sendCmd = &cobra.Command{
		Use:   "send [topic] [message]",
		Short: "Publishes a message on a topic",
		Long: "Publishes a message on a topic over the configured transport. " +
			"With the p2p transport, delivery starts once peers have been discovered; " +
			"use --count and --interval to publish repeatedly.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			topicName := args[0]
			message := args[1]

			count := viper.GetInt("count")
			interval := viper.GetDuration("interval")

			pub, err := pubsub.NewTypedPublisher(busTransport, topicName, serializer.NewStringSerializer())
			if err != nil {
				return err
			}
			defer pub.Close()

			for i := 0; i < count; i++ {
				if i > 0 {
					time.Sleep(interval)
				}
				if err := pub.Send(message, common.TimestampAuto()); err != nil {
					return err
				}
			}

			fmt.Printf("sent %d message(s) to topic %q\n", count, topicName)
			return nil
		},
	}

	listenCmd = &cobra.Command{
		Use:   "listen [topic]",
		Short: "Prints messages published on a topic until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topicName := args[0]

			sub, err := pubsub.NewTypedSubscriber(busTransport, topicName, serializer.NewStringSerializer())
			if err != nil {
				return err
			}
			defer sub.Close()

			sub.SetCallback(func(msg pubsub.Received[string]) {
				ts := time.UnixMicro(msg.Timestamp).Format(time.RFC3339Nano)
				fmt.Printf("%s | clock=%d | %s | %s\n", ts, msg.Clock, msg.TopicName, msg.Payload)
			})

			fmt.Printf("listening on topic %q, ctrl-c to stop\n", topicName)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			return nil
		},
	}
)

func init() {
	// add flags
	key := "count"
	sendCmd.Flags().Int(key, 1, util.WrapString("How many times to send the message"))
	key = "interval"
	sendCmd.Flags().Duration(key, time.Second, util.WrapString("Delay between repeated sends"))
}
