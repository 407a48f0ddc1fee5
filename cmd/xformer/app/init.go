package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/zhenhua32/mindformers/internal/config"
	"github.com/zhenhua32/mindformers/internal/models"
)

// InitOptions holds options for the init command
type InitOptions struct {
	*GlobalOptions

	// Model selects the registry card non-interactively
	Model string

	// DeviceNum is the device count the config targets
	DeviceNum int

	// Dataset is the training data location written into the config
	Dataset string

	// Output is the trainer YAML to write
	Output string

	// Force overwrites an existing output file
	Force bool
}

// NewInitCommand creates the init command.
//
// The init command builds a trainer configuration, interactively by
// default, from flags when --model is given.
//
// Usage:
//
//	xformer init [OPTIONS]
//
// Examples:
//
//	# Answer a few questions, get a ready-to-launch config
//	xformer init
//
//	# Non-interactive, for scripts
//	xformer init --model llama_7b --device-num 8 -o run_llama_7b.yaml
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for generating trainer configs
func NewInitCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &InitOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a trainer configuration",
		Long: `Create a trainer YAML from a model card.

Without flags this walks through the choices interactively: model,
device count, parallel degrees, and dataset, with the card's defaults
one Enter away. With --model everything comes from flags instead, for
use in scripts. The result validates before it is written, so a config
from init always passes 'xformer validate'.`,
		Example: `  # Interactive
  xformer init

  # Non-interactive
  xformer init --model llama_7b --device-num 8 --dataset /data/wikitext -o run_llama_7b.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Model, "model", "", "model card to start from (skips the wizard)")
	cmd.Flags().IntVar(&opts.DeviceNum, "device-num", 0, "device count (default: the card's recommendation)")
	cmd.Flags().StringVar(&opts.Dataset, "dataset", "", "training dataset directory")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output path (default: run_<model>.yaml)")
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite an existing output file")

	return cmd
}

// runInit executes the init command logic
func runInit(opts *InitOptions) error {
	if opts.Model != "" {
		return initFromFlags(opts)
	}
	return initInteractive(opts)
}

// initFromFlags builds the config from flags alone.
func initFromFlags(opts *InitOptions) error {
	card, err := models.Get(opts.Model)
	if err != nil {
		return err
	}

	deviceNum := opts.DeviceNum
	if deviceNum <= 0 {
		deviceNum = card.RecommendedDevices
	}

	tc := card.TrainerConfig(deviceNum)
	if opts.Dataset != "" {
		tc.TrainDataset.DataLoader.DatasetDir = opts.Dataset
	}

	return writeInitConfig(tc, card.ID, deviceNum, opts)
}

// initInteractive walks through the choices with line editing and model
// name completion.
func initInteractive(opts *InitOptions) error {
	cards := models.Default().List()
	if len(cards) == 0 {
		return fmt.Errorf("no models registered")
	}
	names := lo.Map(cards, func(c *models.Card, _ int) string { return c.ID })

	completions := lo.Map(names, func(name string, _ int) readline.PrefixCompleterInterface {
		return readline.PcItem(name)
	})
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "Model: ",
		HistoryFile:     "",
		InterruptPrompt: "^C",
		EOFPrompt:       "aborted",
		AutoComplete:    readline.NewPrefixCompleter(completions...),
	})
	if err != nil {
		return fmt.Errorf("interactive mode needs a terminal, use --model instead: %w", err)
	}
	defer rl.Close()

	fmt.Println("This walks you through a trainer configuration.")
	fmt.Printf("Registered models: %s\n", strings.Join(names, ", "))
	fmt.Println("Press Enter to accept the [default], Tab completes model names.")
	fmt.Println()

	var card *models.Card
	for card == nil {
		answer, err := ask(rl, "Model", "")
		if err != nil {
			return err
		}
		if card, err = models.Get(answer); err != nil {
			fmt.Println(err)
			card = nil
		}
	}

	deviceNum, err := askInt(rl, "Devices", card.RecommendedDevices)
	if err != nil {
		return err
	}

	tc := card.TrainerConfig(deviceNum)
	p := &tc.ParallelConfig
	for {
		if p.DataParallel, err = askInt(rl, "Data parallel", p.DataParallel); err != nil {
			return err
		}
		if p.ModelParallel, err = askInt(rl, "Model parallel", p.ModelParallel); err != nil {
			return err
		}
		if p.PipelineStage, err = askInt(rl, "Pipeline stages", p.PipelineStage); err != nil {
			return err
		}
		if p.PipelineStage > 1 {
			micro := p.MicroBatchNum
			if micro < p.PipelineStage {
				micro = p.PipelineStage
			}
			if p.MicroBatchNum, err = askInt(rl, "Micro batches", micro); err != nil {
				return err
			}
		}
		if err := p.Validate(deviceNum); err == nil {
			break
		} else {
			fmt.Println(err)
		}
	}
	if p.PipelineStage > 1 || p.ModelParallel > 1 {
		tc.Parallel.ParallelMode = config.ParallelModeSemiAuto
	}

	if tc.Runner.Epochs, err = askInt(rl, "Epochs", tc.Runner.Epochs); err != nil {
		return err
	}
	if tc.Runner.BatchSize, err = askInt(rl, "Batch size per device", tc.Runner.BatchSize); err != nil {
		return err
	}

	dataset, err := ask(rl, "Dataset directory (optional)", opts.Dataset)
	if err != nil {
		return err
	}
	if dataset != "" {
		if _, statErr := os.Stat(dataset); statErr != nil {
			fmt.Printf("Note: %s does not exist yet\n", dataset)
		}
		tc.TrainDataset.DataLoader.DatasetDir = dataset
	}

	output := opts.Output
	if output == "" {
		output = fmt.Sprintf("run_%s.yaml", card.ID)
	}
	if output, err = ask(rl, "Write to", output); err != nil {
		return err
	}
	opts.Output = output

	fmt.Println()
	return writeInitConfig(tc, card.ID, deviceNum, opts)
}

// writeInitConfig validates, writes, and prints the follow-up hint.
func writeInitConfig(tc *config.TrainerConfig, model string, deviceNum int, opts *InitOptions) error {
	output := opts.Output
	if output == "" {
		output = fmt.Sprintf("run_%s.yaml", model)
	}
	if _, err := os.Stat(output); err == nil && !opts.Force {
		return fmt.Errorf("%s already exists, use --force to overwrite", output)
	}

	if err := tc.Validate(deviceNum); err != nil {
		return err
	}
	if err := config.SaveTrainerConfig(tc, output); err != nil {
		return err
	}

	fmt.Printf("✓ Trainer config written to %s\n", output)
	fmt.Println()
	fmt.Printf("Launch with it:  xformer launch --model %s --config %s -- run_mindformer.py\n", model, output)
	return nil
}

// ask reads one answer, returning the default on empty input.
func ask(rl *readline.Instance, question, def string) (string, error) {
	prompt := question + ": "
	if def != "" {
		prompt = fmt.Sprintf("%s [%s]: ", question, def)
	}
	rl.SetPrompt(prompt)

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				return "", fmt.Errorf("aborted")
			}
			return "", err
		}
		answer := strings.TrimSpace(line)
		if answer == "" {
			return def, nil
		}
		return answer, nil
	}
}

// askInt reads one integer answer, re-asking until it parses.
func askInt(rl *readline.Instance, question string, def int) (int, error) {
	for {
		answer, err := ask(rl, question, strconv.Itoa(def))
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(answer)
		if err != nil || n <= 0 {
			fmt.Printf("%q is not a positive integer\n", answer)
			continue
		}
		return n, nil
	}
}
