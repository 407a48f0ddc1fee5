package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zhenhua32/mindformers/internal/config"
	"github.com/zhenhua32/mindformers/internal/models"
)

// ShowOptions holds options for the show command
type ShowOptions struct {
	*GlobalOptions

	// Model is the model name to show information for
	Model string

	// Parallel displays only the parallel layout
	Parallel bool

	// Converter displays only the checkpoint converter details
	Converter bool

	// Config prints the generated trainer YAML
	Config bool

	// WriteConfig writes the generated trainer YAML to a file
	WriteConfig string

	// DeviceNum scales the generated config to this many devices
	DeviceNum int
}

// NewShowCommand creates the show command.
//
// The show command displays a model card from the registry, including
// the trainer configuration it generates.
//
// Usage:
//
//	xformer show MODEL [--parallel|--converter|--config]
//
// Examples:
//
//	# Show all information about a model
//	xformer show llama_7b
//
//	# Print the trainer YAML the card generates
//	xformer show llama_7b --config
//
//	# Write a ready-to-edit trainer config
//	xformer show llama_7b --write-config run_llama_7b.yaml
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for showing model information
func NewShowCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &ShowOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "show MODEL",
		Short: "Show a model card",
		Long: `Display a model card: architecture numbers, the parallel layout it
trains with, and its checkpoint converter.

The card can also emit a complete trainer configuration, either to
stdout (--config) or to a file (--write-config) ready for
'xformer launch --config'. With --device-num the parallel degrees are
rescaled for that device count.`,
		Example: `  # Show all information
  xformer show llama_7b

  # Show only the parallel layout
  xformer show llama_7b --parallel

  # Print the trainer YAML for a 16 device run
  xformer show llama_7b --config --device-num 16

  # Write a ready-to-edit trainer config
  xformer show llama_7b --write-config run_llama_7b.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Model = args[0]
			return runShow(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Parallel, "parallel", false, "show only the parallel layout")
	cmd.Flags().BoolVar(&opts.Converter, "converter", false, "show only the checkpoint converter")
	cmd.Flags().BoolVar(&opts.Config, "config", false, "print the generated trainer YAML")
	cmd.Flags().StringVar(&opts.WriteConfig, "write-config", "", "write the generated trainer YAML to this file")
	cmd.Flags().IntVar(&opts.DeviceNum, "device-num", 0,
		"device count for the generated config (default: recommended)")

	return cmd
}

// runShow executes the show command logic
func runShow(opts *ShowOptions) error {
	card, err := models.Get(opts.Model)
	if err != nil {
		return err
	}

	deviceNum := opts.DeviceNum
	if deviceNum <= 0 {
		deviceNum = card.RecommendedDevices
	}

	if opts.WriteConfig != "" {
		tc := card.TrainerConfig(deviceNum)
		if err := config.SaveTrainerConfig(tc, opts.WriteConfig); err != nil {
			return err
		}
		fmt.Printf("✓ Trainer config for %s written to %s\n", card.ID, opts.WriteConfig)
		fmt.Printf("\nLaunch with it:  xformer launch --model %s --config %s -- run_mindformer.py\n",
			card.ID, opts.WriteConfig)
		return nil
	}

	if opts.Config {
		tc := card.TrainerConfig(deviceNum)
		data, err := yaml.Marshal(tc)
		if err != nil {
			return fmt.Errorf("failed to render trainer config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	}

	if opts.Parallel {
		displayParallel(card)
		return nil
	}

	if opts.Converter {
		displayConverter(card)
		return nil
	}

	displayCard(card)
	return nil
}

// displayCard displays the complete model card
func displayCard(card *models.Card) {
	fmt.Println("  Model")
	fmt.Println()
	fmt.Printf("    %-20s%s\n", "name", card.ID)
	fmt.Printf("    %-20s%s\n", "display name", card.DisplayName)
	fmt.Printf("    %-20s%s\n", "family", card.Family)
	fmt.Printf("    %-20s%s\n", "parameters", card.Params)
	fmt.Printf("    %-20s%d\n", "layers", card.NumLayers)
	fmt.Printf("    %-20s%d\n", "attention heads", card.NumHeads)
	fmt.Printf("    %-20s%d\n", "hidden size", card.HiddenSize)
	fmt.Printf("    %-20s%d\n", "sequence length", card.SeqLength)
	fmt.Printf("    %-20s%d\n", "vocab size", card.VocabSize)
	fmt.Println()
	fmt.Println()

	fmt.Println("  Parallel")
	fmt.Println()
	p := card.DefaultParallel
	fmt.Printf("    %-20s%d\n", "devices", card.RecommendedDevices)
	fmt.Printf("    %-20s%d\n", "data parallel", p.DataParallel)
	fmt.Printf("    %-20s%d\n", "model parallel", p.ModelParallel)
	fmt.Printf("    %-20s%d\n", "pipeline stages", p.PipelineStage)
	fmt.Printf("    %-20s%d\n", "micro batches", p.MicroBatchNum)
	fmt.Println()
	fmt.Println()

	if card.Converter.Script != "" {
		fmt.Println("  Converter")
		fmt.Println()
		fmt.Printf("    %-20s%s\n", "script", card.Converter.Script)
		fmt.Printf("    %-20s%s\n", "source", converterSource(card))
		fmt.Println()
		fmt.Println()
	}

	if card.Image != "" {
		fmt.Println("  Container")
		fmt.Println()
		fmt.Printf("    %-20s%s\n", "image", card.Image)
		fmt.Println()
		fmt.Println()
	}

	if card.Description != "" {
		fmt.Println("  Description")
		fmt.Println()
		fmt.Printf("    %s\n", card.Description)
		fmt.Println()
	}
}

// displayParallel displays only the parallel layout
func displayParallel(card *models.Card) {
	p := card.DefaultParallel
	fmt.Printf("devices %d\n", card.RecommendedDevices)
	fmt.Printf("data_parallel %d\n", p.DataParallel)
	fmt.Printf("model_parallel %d\n", p.ModelParallel)
	fmt.Printf("pipeline_stage %d\n", p.PipelineStage)
	fmt.Printf("micro_batch_num %d\n", p.MicroBatchNum)
}

// displayConverter displays only the checkpoint converter details
func displayConverter(card *models.Card) {
	if card.Converter.Script == "" {
		fmt.Println("Error: no converter registered for this model")
		return
	}
	fmt.Printf("script %s\n", card.Converter.Script)
	fmt.Printf("source %s\n", converterSource(card))
	fmt.Printf("source_arg %s\n", card.Converter.TorchArg)
	fmt.Printf("output_arg %s\n", card.Converter.OutputArg)
}

// converterSource names what the converter expects as input.
func converterSource(card *models.Card) string {
	if card.Converter.TorchIsDir {
		return "checkpoint shard directory"
	}
	return "single checkpoint file"
}
