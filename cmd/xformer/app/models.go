package app

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/zhenhua32/mindformers/internal/api"
	"github.com/zhenhua32/mindformers/internal/models"
)

// ModelsOptions holds options for the models command
type ModelsOptions struct {
	*GlobalOptions

	// Family filters the listing to one model family
	Family string
}

// NewModelsCommand creates the models command.
//
// The models command lists the model registry.
//
// Usage:
//
//	xformer models [OPTIONS]
//
// Examples:
//
//	# List all registered models
//	xformer models
//
//	# Only the llama family
//	xformer models --family llama
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for listing models
func NewModelsCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &ModelsOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List registered models",
		Long: `List the models the registry knows about.

Each entry carries training defaults: recommended device count,
parallel degrees, sequence length, and the conversion script for
importing checkpoints. Pass a model to 'xformer launch --model' or
'xformer show' by its NAME.`,
		Example: `  # List all registered models
  xformer models

  # Only the llama family
  xformer models --family llama`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModels(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Family, "family", "", "only show models of this family")

	return cmd
}

// runModels executes the models command logic
func runModels(opts *ModelsOptions) error {
	var infos []api.ModelInfo
	if useMonitor(opts.GlobalOptions) {
		client := getClient(opts.GlobalOptions)
		remote, err := client.ListModels()
		if err != nil {
			return fmt.Errorf("failed to list models: %w", err)
		}
		infos = remote
	} else {
		infos = models.Default().Infos()
	}

	if opts.Family != "" {
		infos = lo.Filter(infos, func(m api.ModelInfo, _ int) bool {
			return m.Family == opts.Family
		})
	}

	if len(infos) == 0 {
		if opts.Family != "" {
			fmt.Printf("No models in family %q\n", opts.Family)
			return nil
		}
		fmt.Println("No models registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tFAMILY\tPARAMS\tLAYERS\tHIDDEN\tSEQ\tPARALLEL")

	for _, m := range infos {
		p := m.DefaultParallel
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\tdp%d/mp%d/pp%d\n",
			m.Name,
			m.Family,
			m.Params,
			m.NumLayers,
			m.HiddenSize,
			m.SeqLength,
			p.DataParallel,
			p.ModelParallel,
			p.PipelineStage)
	}

	w.Flush()

	families := lo.Uniq(lo.Map(infos, func(m api.ModelInfo, _ int) string {
		return m.Family
	}))
	fmt.Printf("\nTotal: %d model(s) from %d family(ies)\n", len(infos), len(families))
	fmt.Println("\nInspect one with: xformer show MODEL")

	return nil
}
