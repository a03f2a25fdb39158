package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modelshard/convert/internal/convert"
)

func newConvertCmd(ro *RootOpts) *cobra.Command {
	var (
		configPath string
		modelID    string
		source     string
	)

	cmd := &cobra.Command{
		Use:   "convert <file>...",
		Short: "Convert a GGUF or safetensors model into sharded storage",
		Long: `Convert reads one model's files (a .gguf, or a set of .safetensors
files with their config.json/tokenizer assets) and writes a sharded,
manifest-described layout under --storage-dir.

Examples:
  shardconv convert model.gguf tokenizer.json
  shardconv convert model-00001-of-00002.safetensors model-00002-of-00002.safetensors model.safetensors.index.json config.json tokenizer.json --config quant.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if modelID != "" {
				cfg.Output.ModelID = modelID
			}

			d, err := convert.NewDriver(ro.StorageDir)
			if err != nil {
				return err
			}

			m, err := d.Convert(cmd.Context(), convert.Request{
				Input:  convert.InputSet{Paths: args},
				Config: cfg,
				Source: source,
				Progress: func(e convert.Event) {
					if e.Total > 0 {
						fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s (%d/%d)\n", e.Stage, e.Message, e.Current, e.Total)
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", e.Stage, e.Message)
					}
				},
			})
			if err != nil {
				return fmt.Errorf("convert: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote model %s: %d shard(s), %d bytes\n", m.ModelID, len(m.Shards), m.TotalSize)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a JSON or YAML converter configuration file")
	cmd.Flags().StringVar(&modelID, "model-id", "", "override the generated model id")
	cmd.Flags().StringVar(&source, "source", "", "value recorded in the manifest's source field")

	return cmd
}
