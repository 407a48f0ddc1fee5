// Trainer YAML configuration.
//
// This mirrors the subset of the training framework's YAML schema that the
// launcher understands and validates. Keys the launcher does not know are
// left for the framework; decoding is deliberately tolerant of them.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Run modes accepted in trainer configs.
const (
	RunModeTrain    = "train"
	RunModeFinetune = "finetune"
	RunModeEval     = "eval"
	RunModePredict  = "predict"
)

// Execution context modes.
const (
	// ContextModeGraph selects whole-graph compilation.
	ContextModeGraph = 0

	// ContextModePynative selects eager execution.
	ContextModePynative = 1
)

// TrainerConfig is the launcher's view of a trainer YAML file.
//
// Only the fields the launcher validates or forwards are modeled; the file
// itself is passed through to the training entrypoint untouched.
type TrainerConfig struct {
	// Seed is the global random seed.
	Seed int `yaml:"seed"`

	// RunMode selects the trainer phase: train, finetune, eval, predict.
	RunMode string `yaml:"run_mode"`

	// Context configures the execution backend.
	Context ContextConfig `yaml:"context"`

	// Runner configures epochs and batching.
	Runner RunnerConfig `yaml:"runner_config"`

	// Parallel configures the framework parallel mode.
	Parallel ParallelModeConfig `yaml:"parallel"`

	// ParallelConfig holds the partitioning degrees.
	ParallelConfig ParallelConfig `yaml:"parallel_config"`

	// Recompute configures activation recomputation.
	Recompute RecomputeConfig `yaml:"recompute_config"`

	// Model carries the model hyperparameters.
	Model ModelSection `yaml:"model"`

	// TrainDataset configures the training data source.
	TrainDataset DatasetConfig `yaml:"train_dataset"`

	// Profile enables the framework profiler.
	Profile bool `yaml:"profile"`
}

// ContextConfig configures the execution backend.
type ContextConfig struct {
	// Mode is 0 for graph mode, 1 for pynative mode.
	Mode int `yaml:"mode"`

	// DeviceTarget is the backend, e.g. "Ascend".
	DeviceTarget string `yaml:"device_target"`

	// MaxDeviceMemory caps per-device memory, e.g. "28GB".
	MaxDeviceMemory string `yaml:"max_device_memory,omitempty"`
}

// RunnerConfig configures epochs and batching.
type RunnerConfig struct {
	// Epochs is the number of training epochs.
	Epochs int `yaml:"epochs"`

	// BatchSize is the per-replica batch size.
	BatchSize int `yaml:"batch_size"`

	// SinkMode feeds data through the device queue when true.
	SinkMode bool `yaml:"sink_mode"`

	// SinkSize is the number of steps per sink, -1 for one epoch.
	SinkSize int `yaml:"sink_size"`
}

// ParallelModeConfig configures the framework parallel mode.
type ParallelModeConfig struct {
	// ParallelMode is 0 data, 1 semi-auto, 2 auto, 3 hybrid.
	ParallelMode int `yaml:"parallel_mode"`

	// FullBatch loads the full batch on every device in semi-auto mode.
	FullBatch bool `yaml:"full_batch"`

	// GradientsMean averages gradients across replicas when true.
	GradientsMean bool `yaml:"gradients_mean"`

	// EnableParallelOptimizer shards optimizer state across replicas.
	EnableParallelOptimizer bool `yaml:"enable_parallel_optimizer"`
}

// RecomputeConfig configures activation recomputation.
type RecomputeConfig struct {
	// Recompute trades compute for activation memory when true.
	Recompute bool `yaml:"recompute"`

	// ParallelOptimizerCommRecompute recomputes optimizer-parallel
	// communication.
	ParallelOptimizerCommRecompute bool `yaml:"parallel_optimizer_comm_recompute"`

	// MpCommRecompute recomputes model-parallel communication.
	MpCommRecompute bool `yaml:"mp_comm_recompute"`
}

// ModelSection wraps the model hyperparameter block.
type ModelSection struct {
	ModelConfig ModelHyperParams `yaml:"model_config"`
}

// ModelHyperParams carries the architecture fields the launcher validates
// against the parallel degrees.
type ModelHyperParams struct {
	// Type names the architecture, e.g. "LlamaConfig".
	Type string `yaml:"type,omitempty"`

	// NumLayers is the transformer layer count.
	NumLayers int `yaml:"num_layers"`

	// NumHeads is the attention head count.
	NumHeads int `yaml:"num_heads"`

	// HiddenSize is the model hidden dimension.
	HiddenSize int `yaml:"hidden_size"`

	// SeqLength is the training sequence length.
	SeqLength int `yaml:"seq_length"`

	// VocabSize is the tokenizer vocabulary size.
	VocabSize int `yaml:"vocab_size"`

	// CheckpointNameOrPath optionally points at initial weights.
	CheckpointNameOrPath string `yaml:"checkpoint_name_or_path,omitempty"`
}

// DatasetConfig configures the training data source.
type DatasetConfig struct {
	// DataLoader configures the loader feeding the trainer.
	DataLoader DataLoaderConfig `yaml:"data_loader"`

	// BatchSize overrides the runner batch size for this dataset.
	BatchSize int `yaml:"batch_size,omitempty"`

	// Seed is the shuffle seed.
	Seed int `yaml:"seed,omitempty"`
}

// DataLoaderConfig configures the loader feeding the trainer.
type DataLoaderConfig struct {
	// Type names the loader, e.g. "MindDataset".
	Type string `yaml:"type,omitempty"`

	// DatasetDir is the training data directory or file.
	DatasetDir string `yaml:"dataset_dir,omitempty"`

	// Shuffle randomizes sample order.
	Shuffle bool `yaml:"shuffle"`
}

// DefaultTrainerConfig returns a single-device training configuration with
// the defaults the generated scaffolds start from.
func DefaultTrainerConfig() *TrainerConfig {
	return &TrainerConfig{
		Seed:    0,
		RunMode: RunModeTrain,
		Context: ContextConfig{
			Mode:         ContextModeGraph,
			DeviceTarget: "Ascend",
		},
		Runner: RunnerConfig{
			Epochs:    1,
			BatchSize: 4,
			SinkMode:  true,
			SinkSize:  2,
		},
		Parallel: ParallelModeConfig{
			ParallelMode:  ParallelModeSemiAuto,
			FullBatch:     true,
			GradientsMean: false,
		},
		ParallelConfig: DefaultParallelConfig(),
		Recompute: RecomputeConfig{
			Recompute: true,
		},
		TrainDataset: DatasetConfig{
			DataLoader: DataLoaderConfig{
				Type:    "MindDataset",
				Shuffle: true,
			},
		},
	}
}

// LoadTrainerConfig reads and decodes a trainer YAML file.
//
// Unknown keys are tolerated so that full framework configs pass through;
// validation happens separately because the device count may only be known
// after the rank table is resolved.
//
// Parameters:
//   - path: Path to the trainer YAML file
//
// Returns:
//   - The decoded TrainerConfig
//   - Error if the file cannot be read or parsed
func LoadTrainerConfig(path string) (*TrainerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trainer config %s: %w", path, err)
	}

	cfg := DefaultTrainerConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse trainer config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveTrainerConfig writes a trainer config as YAML.
//
// Used by the init scaffold. The config is validated for internal
// consistency (device count unchecked) before writing.
func SaveTrainerConfig(cfg *TrainerConfig, path string) error {
	if err := cfg.Validate(0); err != nil {
		return fmt.Errorf("cannot save invalid trainer config: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal trainer config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write trainer config %s: %w", path, err)
	}

	return nil
}

// Validate checks the trainer configuration for internal consistency and,
// when deviceNum is positive, against the device count.
//
// Beyond the parallel-degree arithmetic this enforces the divisibility
// constraints the sharding engine assumes: layers across pipeline stages,
// heads and hidden size across the tensor-parallel dimension, vocabulary
// across whichever dimension embeds it.
//
// Parameters:
//   - deviceNum: Total device count, or 0 to skip the world-size check
//
// Returns:
//   - nil if the configuration is consistent
//   - Error naming the first violated constraint
func (c *TrainerConfig) Validate(deviceNum int) error {
	switch c.RunMode {
	case "", RunModeTrain, RunModeFinetune, RunModeEval, RunModePredict:
	default:
		return fmt.Errorf("unknown run_mode %q", c.RunMode)
	}

	if c.Context.Mode != ContextModeGraph && c.Context.Mode != ContextModePynative {
		return fmt.Errorf("context mode must be 0 (graph) or 1 (pynative), got %d", c.Context.Mode)
	}

	switch c.Parallel.ParallelMode {
	case ParallelModeDataParallel, ParallelModeSemiAuto, ParallelModeAuto, ParallelModeHybrid:
	default:
		return fmt.Errorf("parallel_mode must be in [0,3], got %d", c.Parallel.ParallelMode)
	}

	pc := &c.ParallelConfig
	if c.Parallel.ParallelMode == ParallelModeDataParallel {
		if pc.ModelParallel > 1 || pc.PipelineStage > 1 {
			return fmt.Errorf(
				"parallel_mode %s does not support model_parallel(%d) or pipeline_stage(%d) above 1",
				ParallelModeName(c.Parallel.ParallelMode), pc.ModelParallel, pc.PipelineStage)
		}
	}

	if err := pc.Validate(deviceNum); err != nil {
		return err
	}

	m := &c.Model.ModelConfig
	if m.NumLayers > 0 && m.NumLayers%pc.PipelineStage != 0 {
		return fmt.Errorf(
			"num_layers(%d) must be divisible by pipeline_stage(%d)",
			m.NumLayers, pc.PipelineStage)
	}
	if m.NumHeads > 0 && m.NumHeads%pc.ModelParallel != 0 {
		return fmt.Errorf(
			"num_heads(%d) must be divisible by model_parallel(%d)",
			m.NumHeads, pc.ModelParallel)
	}
	if m.HiddenSize > 0 && m.HiddenSize%pc.ModelParallel != 0 {
		return fmt.Errorf(
			"hidden_size(%d) must be divisible by model_parallel(%d)",
			m.HiddenSize, pc.ModelParallel)
	}
	if !pc.VocabEmbDP && m.VocabSize > 0 && m.VocabSize%pc.ModelParallel != 0 {
		return fmt.Errorf(
			"vocab_size(%d) must be divisible by model_parallel(%d) when vocab_emb_dp is false",
			m.VocabSize, pc.ModelParallel)
	}

	if c.Runner.Epochs < 0 {
		return fmt.Errorf("epochs must not be negative, got %d", c.Runner.Epochs)
	}
	if c.Runner.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative, got %d", c.Runner.BatchSize)
	}

	return nil
}
