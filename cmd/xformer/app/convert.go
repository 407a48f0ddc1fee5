package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhenhua32/mindformers/internal/convert"
	"github.com/zhenhua32/mindformers/internal/job"
	"github.com/zhenhua32/mindformers/internal/launcher"
)

// ConvertOptions holds options for the convert command
type ConvertOptions struct {
	*GlobalOptions

	// TorchPath is the source checkpoint, file or shard directory
	// depending on the model family
	TorchPath string

	// OutputPath is the MindSpore checkpoint to write
	OutputPath string

	// PackageRoot is the training package checkout holding the scripts
	PackageRoot string

	// Force overwrites an existing output file
	Force bool

	// Detach runs the conversion under a background supervisor
	Detach bool

	// DryRun prints the conversion command without running it
	DryRun bool

	model string
	extra []string
}

// NewConvertCommand creates the convert command.
//
// Usage:
//
//	xformer convert MODEL --torch-path PATH --output PATH [-- extra args]
//
// Examples:
//
//	xformer convert llama_7b --torch-path /ckpt/llama-7b-hf --output /ckpt/llama_7b.ckpt
//	xformer convert gpt2 --torch-path gpt2.bin --output gpt2.ckpt --dry-run
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for converting checkpoints
func NewConvertCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &ConvertOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "convert MODEL",
		Short: "Convert a checkpoint to the MindSpore format",
		Long: `Convert a checkpoint exported from another framework into the
MindSpore format the trainer loads.

Each model family ships its own conversion script; the model card names
the script and its argument convention. The conversion runs as a
tracked job, so a long-running conversion can be detached and watched
with 'xformer logs' like any training run. Arguments after -- are
passed to the conversion script unchanged.`,
		Example: `  # Convert a HuggingFace LLaMA shard directory
  xformer convert llama_7b --torch-path /ckpt/llama-7b-hf --output /ckpt/llama_7b.ckpt

  # See the command a conversion would run
  xformer convert gpt2 --torch-path gpt2.bin --output gpt2.ckpt --dry-run

  # Detach a large conversion and follow its output
  xformer convert llama_13b --torch-path /ckpt/llama-13b-hf --output /ckpt/llama_13b.ckpt -d`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.model = args[0]
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				if dash != 1 {
					return fmt.Errorf("expected exactly one MODEL before --, got %d argument(s)", dash)
				}
				opts.extra = args[1:]
			} else if len(args) > 1 {
				return fmt.Errorf("unexpected argument %q, script flags go after --", args[1])
			}
			return runConvert(opts)
		},
	}

	cmd.Flags().StringVar(&opts.TorchPath, "torch-path", "", "source checkpoint file or directory (required)")
	cmd.Flags().StringVarP(&opts.OutputPath, "output", "o", "", "MindSpore checkpoint to write (required)")
	cmd.Flags().StringVar(&opts.PackageRoot, "package-root", "", "training package checkout with the conversion scripts")
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite an existing output file")
	cmd.Flags().BoolVarP(&opts.Detach, "detach", "d", false, "run the conversion under a background supervisor")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the conversion command without running it")

	return cmd
}

// runConvert executes the convert command logic
func runConvert(opts *ConvertOptions) error {
	cfg, store, err := openStore()
	if err != nil {
		return err
	}

	spec := &convert.Spec{
		Model:       opts.model,
		TorchPath:   opts.TorchPath,
		OutputPath:  opts.OutputPath,
		PackageRoot: opts.PackageRoot,
		PythonBin:   cfg.Jobs.PythonBin,
		Force:       opts.Force,
		Extra:       opts.extra,
	}

	card, err := spec.Resolve()
	if err != nil {
		return err
	}

	if opts.DryRun {
		fmt.Printf("Would convert %s: %s -> %s\n", card.ID, spec.TorchPath, spec.OutputPath)
		fmt.Println()
		fmt.Println(spec.CommandLine(card))
		return nil
	}

	workDir := spec.PackageRoot
	if workDir == "" {
		if workDir, err = os.Getwd(); err != nil {
			return err
		}
	}

	j := &job.Job{
		Name:       spec.JobName(),
		Kind:       job.KindConvert,
		Model:      card.ID,
		Mode:       job.ModeProcess,
		State:      job.StatePending,
		RankSize:   1,
		Entrypoint: spec.Command(card),
		WorkDir:    workDir,
	}
	j.ID = job.NewID(j.Name)

	if err := launcher.Preflight(j, nil, nil, nil); err != nil {
		return err
	}
	if err := store.Create(j); err != nil {
		return err
	}

	fmt.Printf("Converting %s: %s -> %s\n", card.ID, spec.TorchPath, spec.OutputPath)
	fmt.Printf("Job ID: %s\n", j.ID)

	if opts.Detach {
		return detachJob(store, j)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt, stopping conversion...")
		cancel()
	}()

	grace := time.Duration(cfg.Jobs.StopGraceSeconds) * time.Second
	launch := launcher.NewProcessLauncher(store, grace)
	if err := launch.Run(ctx, j, launcher.RunOptions{Output: os.Stdout}); err != nil {
		return err
	}

	fmt.Printf("\n✓ Checkpoint written to %s\n", spec.OutputPath)
	return nil
}
