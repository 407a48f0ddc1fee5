// Package t5 provides T5 model family cards.
package t5

import (
	"github.com/zhenhua32/mindformers/internal/config"
	"github.com/zhenhua32/mindformers/internal/models"
)

// T5Small is the 60 million parameter T5 encoder-decoder model.
var T5Small = &models.Card{
	ID:          "t5_small",
	DisplayName: "T5 Small",
	Family:      "t5",
	ConfigType:  "T5Config",
	Params:      "60M",

	SeqLength:  1024,
	NumLayers:  6,
	NumHeads:   8,
	HiddenSize: 512,
	VocabSize:  32128,

	RecommendedDevices: 1,
	DefaultParallel: config.ParallelConfig{
		DataParallel:             1,
		ModelParallel:            1,
		PipelineStage:            1,
		MicroBatchNum:            1,
		VocabEmbDP:               true,
		GradientAggregationGroup: 4,
	},

	Converter: models.ConverterRef{
		Script:    "mindformers/models/t5/convert_weight.py",
		TorchArg:  "--torch_ckpt_path",
		OutputArg: "--mindspore_ckpt_path",
	},

	Image:       "swr.cn-central-221.ovaijisuan.com/mindformers/mindformers_dev:mindspore2.2.0",
	Description: "T5 small text-to-text encoder-decoder model",
}

func init() {
	models.Register(T5Small)
}
