// Package cmd implements the command-line interface for the tbus messaging
// library. It provides a hierarchical command structure for publishing to,
// subscribing to and benchmarking topics over the supported transports.
//
// The package is organized into several subpackages:
//
//   - topic: Commands for topic operations (send, listen, perf)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See tbus -help for a list of all commands.
package cmd
