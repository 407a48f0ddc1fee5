package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhenhua32/mindformers/internal/config"
	"github.com/zhenhua32/mindformers/internal/ranktable"
)

// ValidateOptions holds options for the validate command
type ValidateOptions struct {
	*GlobalOptions

	// DeviceNum is the device count the parallel layout must multiply to
	DeviceNum int

	// RankTable derives the device count from a rank table instead
	RankTable string

	configPath string
}

// NewValidateCommand creates the validate command.
//
// Usage:
//
//	xformer validate CONFIG [--device-num N | --rank-table PATH]
//
// Examples:
//
//	xformer validate run_llama_7b.yaml --device-num 8
//	xformer validate run_llama_7b.yaml --rank-table hccl_8p.json
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for validating trainer configs
func NewValidateCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &ValidateOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "validate CONFIG",
		Short: "Validate a trainer configuration file",
		Long: `Validate a trainer YAML before spending cluster time on it.

Structural checks always run: run mode, context mode, runner settings,
parallel degrees, recompute flags, and the model section. With a device
count (--device-num or --rank-table) the parallel layout must also
multiply to exactly that many devices.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.configPath = args[0]
			return runValidate(opts)
		},
	}

	cmd.Flags().IntVar(&opts.DeviceNum, "device-num", 0, "device count the parallel layout must match")
	cmd.Flags().StringVar(&opts.RankTable, "rank-table", "", "derive the device count from this rank table")

	return cmd
}

// runValidate executes the validate command logic
func runValidate(opts *ValidateOptions) error {
	deviceNum := opts.DeviceNum
	if opts.RankTable != "" {
		table, err := ranktable.LoadValid(opts.RankTable)
		if err != nil {
			return err
		}
		if deviceNum > 0 && deviceNum != table.RankCount() {
			return fmt.Errorf("--device-num %d does not match rank table with %d rank(s)",
				deviceNum, table.RankCount())
		}
		deviceNum = table.RankCount()
	}

	tc, err := config.LoadTrainerConfig(opts.configPath)
	if err != nil {
		return err
	}
	if err := tc.Validate(deviceNum); err != nil {
		return fmt.Errorf("%s: %w", opts.configPath, err)
	}

	fmt.Printf("✓ %s is valid\n", opts.configPath)
	p := tc.ParallelConfig
	fmt.Printf("  run mode: %s, world size: %d (dp=%d mp=%d pp=%d)\n",
		tc.RunMode, p.WorldSize(), p.DataParallel, p.ModelParallel, p.PipelineStage)
	if mc := tc.Model.ModelConfig; mc.NumLayers > 0 {
		fmt.Printf("  model: %d layer(s), %d head(s), hidden %d, seq %d\n",
			mc.NumLayers, mc.NumHeads, mc.HiddenSize, mc.SeqLength)
	}
	if deviceNum == 0 {
		fmt.Println("  (no device count given, world size not checked)")
	}
	return nil
}
