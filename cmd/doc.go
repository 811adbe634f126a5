// Package cmd implements the command-line interface for the 2f2f
// key-value store library.
//
// The package is organized into subpackages:
//
//   - bench: Commands for benchmarking an in-process table
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See 2f2f -help for a list of all commands.
package cmd
