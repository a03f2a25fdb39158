// Package cli implements shardconv's cobra command tree: a "convert"
// subcommand that runs one conversion to completion and a "serve"
// subcommand that exposes the same driver over HTTP, adapted from the
// teacher's RootOpts/newXCmd(ro) command-construction convention.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RootOpts carries flags shared across subcommands.
type RootOpts struct {
	StorageDir string
}

// Execute builds and runs the root command.
func Execute(version string) error {
	ro := &RootOpts{}

	root := &cobra.Command{
		Use:           "shardconv",
		Short:         "Convert GGUF and safetensors weight archives to sharded storage",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&ro.StorageDir, "storage-dir", defaultStorageDir(), "root directory converted models are written under")

	root.AddCommand(newConvertCmd(ro))
	root.AddCommand(newServeCmd(ro))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./shardconv-models"
	}
	return home + "/.shardconv/models"
}
