package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParallelConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       ParallelConfig
		deviceNum int
		wantErr   string
	}{
		{
			name:      "single device defaults",
			cfg:       DefaultParallelConfig(),
			deviceNum: 1,
		},
		{
			name: "eight way data parallel",
			cfg: ParallelConfig{
				DataParallel: 8, ModelParallel: 1, PipelineStage: 1,
				MicroBatchNum: 1, GradientAggregationGroup: 4,
			},
			deviceNum: 8,
		},
		{
			name: "mixed degrees on 32 devices",
			cfg: ParallelConfig{
				DataParallel: 2, ModelParallel: 4, PipelineStage: 4,
				MicroBatchNum: 16, GradientAggregationGroup: 4,
			},
			deviceNum: 32,
		},
		{
			name: "device count check skipped when zero",
			cfg: ParallelConfig{
				DataParallel: 4, ModelParallel: 2, PipelineStage: 1,
				MicroBatchNum: 1, GradientAggregationGroup: 4,
			},
			deviceNum: 0,
		},
		{
			name: "product does not match device count",
			cfg: ParallelConfig{
				DataParallel: 2, ModelParallel: 2, PipelineStage: 1,
				MicroBatchNum: 1, GradientAggregationGroup: 4,
			},
			deviceNum: 8,
			wantErr:   "do not match device count",
		},
		{
			name: "zero data parallel",
			cfg: ParallelConfig{
				DataParallel: 0, ModelParallel: 1, PipelineStage: 1,
				MicroBatchNum: 1, GradientAggregationGroup: 4,
			},
			deviceNum: 1,
			wantErr:   "data_parallel",
		},
		{
			name: "micro batches below pipeline stages",
			cfg: ParallelConfig{
				DataParallel: 1, ModelParallel: 1, PipelineStage: 4,
				MicroBatchNum: 2, GradientAggregationGroup: 4,
			},
			deviceNum: 4,
			wantErr:   "micro_batch_num",
		},
		{
			name: "seq parallel without model parallel",
			cfg: ParallelConfig{
				DataParallel: 8, ModelParallel: 1, PipelineStage: 1,
				MicroBatchNum: 1, GradientAggregationGroup: 4,
				UseSeqParallel: true,
			},
			deviceNum: 8,
			wantErr:   "use_seq_parallel",
		},
		{
			name: "zero aggregation group",
			cfg: ParallelConfig{
				DataParallel: 1, ModelParallel: 1, PipelineStage: 1,
				MicroBatchNum: 1, GradientAggregationGroup: 0,
			},
			deviceNum: 1,
			wantErr:   "gradient_aggregation_group",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate(tt.deviceNum)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestParallelConfigWorldSize(t *testing.T) {
	cfg := ParallelConfig{DataParallel: 2, ModelParallel: 4, PipelineStage: 2}
	assert.Equal(t, 16, cfg.WorldSize())
}

func TestParallelModeName(t *testing.T) {
	assert.Equal(t, "data_parallel", ParallelModeName(ParallelModeDataParallel))
	assert.Equal(t, "semi_auto_parallel", ParallelModeName(ParallelModeSemiAuto))
	assert.Equal(t, "auto_parallel", ParallelModeName(ParallelModeAuto))
	assert.Equal(t, "hybrid_parallel", ParallelModeName(ParallelModeHybrid))
	assert.Equal(t, "unknown(9)", ParallelModeName(9))
}
