package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTrainerYAML = `
seed: 42
run_mode: train
context:
  mode: 0
  device_target: Ascend
  max_device_memory: "28GB"
runner_config:
  epochs: 2
  batch_size: 4
  sink_mode: true
  sink_size: 2
parallel:
  parallel_mode: 1
  full_batch: true
  gradients_mean: false
parallel_config:
  data_parallel: 2
  model_parallel: 2
  pipeline_stage: 2
  micro_batch_num: 4
  vocab_emb_dp: true
  gradient_aggregation_group: 4
recompute_config:
  recompute: true
model:
  model_config:
    type: LlamaConfig
    num_layers: 32
    num_heads: 32
    hidden_size: 4096
    seq_length: 2048
    vocab_size: 32000
train_dataset:
  data_loader:
    type: MindDataset
    dataset_dir: "/data/wikitext"
    shuffle: true
  batch_size: 4
`

func writeTrainerYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run_trainer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadTrainerConfig(t *testing.T) {
	path := writeTrainerYAML(t, sampleTrainerYAML)

	cfg, err := LoadTrainerConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.Seed)
	assert.Equal(t, RunModeTrain, cfg.RunMode)
	assert.Equal(t, "Ascend", cfg.Context.DeviceTarget)
	assert.Equal(t, 2, cfg.Runner.Epochs)
	assert.Equal(t, ParallelModeSemiAuto, cfg.Parallel.ParallelMode)
	assert.Equal(t, 2, cfg.ParallelConfig.DataParallel)
	assert.Equal(t, 2, cfg.ParallelConfig.ModelParallel)
	assert.Equal(t, 2, cfg.ParallelConfig.PipelineStage)
	assert.Equal(t, "LlamaConfig", cfg.Model.ModelConfig.Type)
	assert.Equal(t, 32000, cfg.Model.ModelConfig.VocabSize)
	assert.Equal(t, "/data/wikitext", cfg.TrainDataset.DataLoader.DatasetDir)

	assert.NoError(t, cfg.Validate(8))
}

func TestLoadTrainerConfigUnknownKeysTolerated(t *testing.T) {
	// Full framework configs carry many sections the launcher does not
	// model; they must decode without error.
	path := writeTrainerYAML(t, sampleTrainerYAML+`
lr_schedule:
  type: CosineWithWarmUpLR
  learning_rate: 0.0003
callbacks:
  - type: MFLossMonitor
  - type: CheckpointMonitor
`)

	cfg, err := LoadTrainerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Seed)
}

func TestLoadTrainerConfigMissingFile(t *testing.T) {
	_, err := LoadTrainerConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read trainer config")
}

func TestLoadTrainerConfigMalformed(t *testing.T) {
	path := writeTrainerYAML(t, "seed: [not a scalar\n")
	_, err := LoadTrainerConfig(path)
	assert.ErrorContains(t, err, "failed to parse trainer config")
}

func TestTrainerConfigValidate(t *testing.T) {
	base := func() *TrainerConfig {
		cfg := DefaultTrainerConfig()
		cfg.ParallelConfig = ParallelConfig{
			DataParallel: 2, ModelParallel: 2, PipelineStage: 2,
			MicroBatchNum: 4, VocabEmbDP: true, GradientAggregationGroup: 4,
		}
		cfg.Model.ModelConfig = ModelHyperParams{
			NumLayers: 32, NumHeads: 32, HiddenSize: 4096,
			SeqLength: 2048, VocabSize: 32000,
		}
		return cfg
	}

	t.Run("consistent config passes", func(t *testing.T) {
		assert.NoError(t, base().Validate(8))
	})

	t.Run("device count mismatch", func(t *testing.T) {
		assert.ErrorContains(t, base().Validate(16), "do not match device count")
	})

	t.Run("layers not divisible by pipeline stages", func(t *testing.T) {
		cfg := base()
		cfg.Model.ModelConfig.NumLayers = 31
		assert.ErrorContains(t, cfg.Validate(8), "num_layers")
	})

	t.Run("heads not divisible by model parallel", func(t *testing.T) {
		cfg := base()
		cfg.Model.ModelConfig.NumHeads = 31
		assert.ErrorContains(t, cfg.Validate(8), "num_heads")
	})

	t.Run("vocab split checked only without vocab_emb_dp", func(t *testing.T) {
		cfg := base()
		cfg.Model.ModelConfig.VocabSize = 32001
		assert.NoError(t, cfg.Validate(8))

		cfg.ParallelConfig.VocabEmbDP = false
		assert.ErrorContains(t, cfg.Validate(8), "vocab_size")
	})

	t.Run("data parallel mode rejects sharding degrees", func(t *testing.T) {
		cfg := base()
		cfg.Parallel.ParallelMode = ParallelModeDataParallel
		assert.ErrorContains(t, cfg.Validate(8), "does not support model_parallel")
	})

	t.Run("unknown run mode", func(t *testing.T) {
		cfg := base()
		cfg.RunMode = "export"
		assert.ErrorContains(t, cfg.Validate(8), "run_mode")
	})

	t.Run("invalid context mode", func(t *testing.T) {
		cfg := base()
		cfg.Context.Mode = 3
		assert.ErrorContains(t, cfg.Validate(8), "context mode")
	})
}

func TestSaveTrainerConfigRoundTrip(t *testing.T) {
	cfg := DefaultTrainerConfig()
	cfg.ParallelConfig.DataParallel = 4
	cfg.Model.ModelConfig.NumLayers = 24

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, SaveTrainerConfig(cfg, path))

	loaded, err := LoadTrainerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.ParallelConfig.DataParallel)
	assert.Equal(t, 24, loaded.Model.ModelConfig.NumLayers)
}

func TestSaveTrainerConfigRejectsInvalid(t *testing.T) {
	cfg := DefaultTrainerConfig()
	cfg.ParallelConfig.DataParallel = 0

	err := SaveTrainerConfig(cfg, filepath.Join(t.TempDir(), "out.yaml"))
	assert.ErrorContains(t, err, "cannot save invalid trainer config")
}
