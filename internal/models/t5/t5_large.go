package t5

import (
	"github.com/zhenhua32/mindformers/internal/config"
	"github.com/zhenhua32/mindformers/internal/models"
)

// T5Large is the 770 million parameter T5 encoder-decoder model.
var T5Large = &models.Card{
	ID:          "t5_large",
	DisplayName: "T5 Large",
	Family:      "t5",
	ConfigType:  "T5Config",
	Params:      "770M",

	SeqLength:  1024,
	NumLayers:  24,
	NumHeads:   16,
	HiddenSize: 1024,
	VocabSize:  32128,

	RecommendedDevices: 8,
	DefaultParallel: config.ParallelConfig{
		DataParallel:             8,
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
	Description: "T5 large text-to-text encoder-decoder model",
}

func init() {
	models.Register(T5Large)
}
