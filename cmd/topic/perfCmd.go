package topic

import (
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	vmetrics "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/genevanmeter/tbus/cmd/util"
	"github.com/genevanmeter/tbus/pubsub"
	"github.com/genevanmeter/tbus/pubsub/common"
	"github.com/genevanmeter/tbus/pubsub/transport"
)

var (
	perfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Measures throughput and latency over the configured transport",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfTopic       = "__perf"
	perfPayloadSize = 1024
	perfMessages    = 10000
	perfModify      = true
)

func init() {
	// add flags
	key := "size"
	perfCmd.Flags().Int(key, 1024, util.WrapString("Payload size in bytes (at least 8)"))
	key = "messages"
	perfCmd.Flags().Int(key, 10000, util.WrapString("How many messages to publish"))
	key = "modify"
	perfCmd.Flags().Bool(key, true, util.WrapString("Reuse the payload buffer between sends via the modifying writer path"))
	key = "csv"
	perfCmd.Flags().String(key, "", util.WrapString("Optional path to save the results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfPayloadSize = viper.GetInt("size")
	perfMessages = viper.GetInt("messages")
	perfModify = viper.GetBool("modify")

	if perfPayloadSize < 8 {
		return fmt.Errorf("size must be at least 8 bytes, got %d", perfPayloadSize)
	}
	if perfMessages < 1 {
		return fmt.Errorf("messages must be positive, got %d", perfMessages)
	}
	return nil
}

// stampWriter fills the payload once and afterwards only re-stamps the
// sequence number into the first 8 bytes.
type stampWriter struct {
	size int
	seq  uint64
}

func (w *stampWriter) GetSize() int { return w.size }

func (w *stampWriter) WriteFull(buf []byte) bool {
	for i := range buf {
		buf[i] = 0x2a
	}
	binary.BigEndian.PutUint64(buf, w.seq)
	return true
}

func (w *stampWriter) WriteModified(buf []byte) bool {
	binary.BigEndian.PutUint64(buf, w.seq)
	return true
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Throughput and latency test")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("  %-10s: %s\n", "transport", viper.GetString("transport"))
	fmt.Printf("  %-10s: %d bytes\n", "payload", perfPayloadSize)
	fmt.Printf("  %-10s: %d\n", "messages", perfMessages)
	fmt.Printf("  %-10s: %t\n", "modify", perfModify)
	fmt.Println()

	// latency is measured from the send timestamp carried in every message
	latency := gometrics.NewTimer()
	defer latency.Stop()

	var received atomic.Int64

	dt := common.DataTypeInfo{Encoding: "raw", TypeName: "bytes"}
	sub, err := pubsub.NewSubscriber(busTransport, perfTopic, dt)
	if err != nil {
		return err
	}
	defer sub.Close()

	sub.SetCallback(func(d transport.Delivery) {
		latency.UpdateSince(time.UnixMicro(d.Timestamp))
		received.Add(1)
	})

	pub, err := pubsub.NewPublisher(busTransport, perfTopic, dt)
	if err != nil {
		return err
	}
	defer pub.Close()

	w := &stampWriter{size: perfPayloadSize}
	payload := make([]byte, perfPayloadSize)

	start := time.Now()
	for i := 0; i < perfMessages; i++ {
		var err error
		if perfModify {
			w.seq = uint64(i)
			err = pub.SendWriter(w, common.TimestampAuto())
		} else {
			binary.BigEndian.PutUint64(payload, uint64(i))
			err = pub.Send(payload, common.TimestampAuto())
		}
		if err != nil {
			return fmt.Errorf("send %d: %w", i, err)
		}
	}
	sendElapsed := time.Since(start)

	// delivery is asynchronous, give stragglers a moment to arrive
	deadline := time.Now().Add(10 * time.Second)
	for received.Load() < int64(perfMessages) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	elapsed := time.Since(start)

	got := received.Load()
	dropped := int64(perfMessages) - got
	msgsPerSec := float64(got) / elapsed.Seconds()
	mbPerSec := msgsPerSec * float64(perfPayloadSize) / (1024 * 1024)

	fmt.Println("Results:")
	fmt.Printf("%-20s%s\n", "publish time", sendElapsed.Round(time.Microsecond))
	fmt.Printf("%-20s%d of %d (%d dropped)\n", "received", got, perfMessages, dropped)
	fmt.Printf("%-20s%.0f msgs/sec, %.2f MB/sec\n", "throughput", msgsPerSec, mbPerSec)
	fmt.Printf("%-20smean %s, p50 %s, p99 %s, max %s\n", "latency",
		time.Duration(latency.Mean()).Round(time.Microsecond),
		time.Duration(latency.Percentile(0.5)).Round(time.Microsecond),
		time.Duration(latency.Percentile(0.99)).Round(time.Microsecond),
		time.Duration(latency.Max()).Round(time.Microsecond),
	)

	// the transport counters cover everything sent over this process,
	// including this run
	fmt.Println()
	fmt.Println("Transport counters:")
	vmetrics.WritePrometheus(os.Stdout, false)

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, got, elapsed, msgsPerSec, mbPerSec, latency); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// writeResultsToCSV writes the run results to a CSV file
func writeResultsToCSV(csvPath string, got int64, elapsed time.Duration, msgsPerSec, mbPerSec float64, latency gometrics.Timer) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Transport", "PayloadBytes", "Messages", "Modify",
		"Received", "ElapsedMs", "MsgsPerSec", "MBPerSec",
		"MeanLatencyNs", "P50LatencyNs", "P99LatencyNs", "MaxLatencyNs",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	row := []string{
		viper.GetString("transport"),
		strconv.Itoa(perfPayloadSize),
		strconv.Itoa(perfMessages),
		strconv.FormatBool(perfModify),
		strconv.FormatInt(got, 10),
		strconv.FormatInt(elapsed.Milliseconds(), 10),
		fmt.Sprintf("%.0f", msgsPerSec),
		fmt.Sprintf("%.2f", mbPerSec),
		fmt.Sprintf("%.0f", latency.Mean()),
		fmt.Sprintf("%.0f", latency.Percentile(0.5)),
		fmt.Sprintf("%.0f", latency.Percentile(0.99)),
		strconv.FormatInt(latency.Max(), 10),
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV row: %v", err)
	}

	return nil
}
