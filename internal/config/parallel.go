// Parallelism configuration and its invariants.
//
// The degrees here partition a training job across devices. The framework
// consuming them fails late and obscurely when they are inconsistent (an
// all-reduce hangs, or a shard mismatch surfaces minutes into graph
// compilation), so the launcher checks everything up front.
package config

import (
	"fmt"
)

// Parallel mode values as used in trainer YAML files.
const (
	// ParallelModeDataParallel replicates the whole model on every device.
	ParallelModeDataParallel = 0

	// ParallelModeSemiAuto shards operators along user-set degrees.
	ParallelModeSemiAuto = 1

	// ParallelModeAuto lets the framework search sharding strategies.
	ParallelModeAuto = 2

	// ParallelModeHybrid combines manual and data parallelism.
	ParallelModeHybrid = 3
)

// ParallelModeName returns the human-readable name of a parallel mode.
func ParallelModeName(mode int) string {
	switch mode {
	case ParallelModeDataParallel:
		return "data_parallel"
	case ParallelModeSemiAuto:
		return "semi_auto_parallel"
	case ParallelModeAuto:
		return "auto_parallel"
	case ParallelModeHybrid:
		return "hybrid_parallel"
	default:
		return fmt.Sprintf("unknown(%d)", mode)
	}
}

// ParallelConfig holds the parallel partitioning degrees of a training job.
//
// The product of DataParallel, ModelParallel, and PipelineStage must equal
// the number of devices the job runs on. Validate enforces this along with
// the pipeline and aggregation constraints.
type ParallelConfig struct {
	// DataParallel is the number of model replicas.
	DataParallel int `yaml:"data_parallel"`

	// ModelParallel is the tensor-parallel degree; weight matrices are
	// split this many ways inside each replica.
	ModelParallel int `yaml:"model_parallel"`

	// PipelineStage is the number of pipeline stages the layer stack is
	// divided into.
	PipelineStage int `yaml:"pipeline_stage"`

	// MicroBatchNum is the number of micro batches fed through the
	// pipeline per step. Must be at least PipelineStage to keep all
	// stages busy.
	MicroBatchNum int `yaml:"micro_batch_num"`

	// VocabEmbDP shards the vocabulary embedding along the data-parallel
	// dimension when true, along model-parallel when false.
	VocabEmbDP bool `yaml:"vocab_emb_dp"`

	// GradientAggregationGroup is the fusion group size for gradient
	// all-reduce operations.
	GradientAggregationGroup int `yaml:"gradient_aggregation_group"`

	// UseSeqParallel additionally splits activations along the sequence
	// dimension; only meaningful with ModelParallel > 1.
	UseSeqParallel bool `yaml:"use_seq_parallel"`
}

// DefaultParallelConfig returns a single-device configuration.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		DataParallel:             1,
		ModelParallel:            1,
		PipelineStage:            1,
		MicroBatchNum:            1,
		VocabEmbDP:               true,
		GradientAggregationGroup: 4,
	}
}

// WorldSize returns the number of devices this configuration partitions
// across, i.e. data_parallel * model_parallel * pipeline_stage.
func (p *ParallelConfig) WorldSize() int {
	return p.DataParallel * p.ModelParallel * p.PipelineStage
}

// Validate checks the internal consistency of the parallel degrees and,
// when deviceNum is positive, their fit against the device count.
//
// Parameters:
//   - deviceNum: Total number of devices in the job, or 0 to skip the
//     world-size check (used before the rank table is known).
//
// Returns:
//   - nil if the configuration is consistent
//   - Error naming the first violated constraint
func (p *ParallelConfig) Validate(deviceNum int) error {
	if p.DataParallel < 1 {
		return fmt.Errorf("data_parallel must be at least 1, got %d", p.DataParallel)
	}
	if p.ModelParallel < 1 {
		return fmt.Errorf("model_parallel must be at least 1, got %d", p.ModelParallel)
	}
	if p.PipelineStage < 1 {
		return fmt.Errorf("pipeline_stage must be at least 1, got %d", p.PipelineStage)
	}
	if p.MicroBatchNum < 1 {
		return fmt.Errorf("micro_batch_num must be at least 1, got %d", p.MicroBatchNum)
	}
	if p.GradientAggregationGroup < 1 {
		return fmt.Errorf("gradient_aggregation_group must be at least 1, got %d", p.GradientAggregationGroup)
	}

	if deviceNum > 0 && p.WorldSize() != deviceNum {
		return fmt.Errorf(
			"parallel degrees do not match device count: data_parallel(%d) * model_parallel(%d) * pipeline_stage(%d) = %d, but %d device(s) configured",
			p.DataParallel, p.ModelParallel, p.PipelineStage, p.WorldSize(), deviceNum)
	}

	if p.PipelineStage > 1 && p.MicroBatchNum < p.PipelineStage {
		return fmt.Errorf(
			"micro_batch_num(%d) must be at least pipeline_stage(%d) to keep all stages busy",
			p.MicroBatchNum, p.PipelineStage)
	}

	if p.UseSeqParallel && p.ModelParallel <= 1 {
		return fmt.Errorf("use_seq_parallel requires model_parallel > 1")
	}

	return nil
}
