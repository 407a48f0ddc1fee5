package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhenhua32/mindformers/internal/models"

	_ "github.com/zhenhua32/mindformers/internal/models/bloom"
	_ "github.com/zhenhua32/mindformers/internal/models/gpt"
	_ "github.com/zhenhua32/mindformers/internal/models/llama"
	_ "github.com/zhenhua32/mindformers/internal/models/t5"
)

// The family subpackages register their cards at init time. This test
// pins the shipped catalog and checks every card produces a trainer
// configuration that passes validation at its recommended device count.
func TestShippedCards(t *testing.T) {
	expected := []string{
		"bloom_7.1b",
		"gpt2_13b",
		"llama_13b",
		"llama_7b",
		"t5_large",
		"t5_small",
	}

	cards := models.List()
	var ids []string
	for _, c := range cards {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, expected, ids)

	for _, c := range cards {
		tc := c.TrainerConfig(c.RecommendedDevices)
		assert.NoErrorf(t, tc.Validate(c.RecommendedDevices), "card %s", c.ID)
		assert.NotEmptyf(t, c.Converter.Script, "card %s", c.ID)
		assert.NotEmptyf(t, c.Image, "card %s", c.ID)
	}
}

func TestShippedCardLookups(t *testing.T) {
	c, err := models.Get("llama_7b")
	require.NoError(t, err)
	assert.Equal(t, 32, c.NumLayers)
	assert.Equal(t, 4096, c.HiddenSize)
	assert.True(t, c.Converter.TorchIsDir)

	c, err = models.Get("gpt2_13b")
	require.NoError(t, err)
	assert.Equal(t, 2, c.DefaultParallel.PipelineStage)
	assert.Equal(t, 16, c.DefaultParallel.MicroBatchNum)
	assert.False(t, c.Converter.TorchIsDir)

	c, err = models.Get("bloom_7.1b")
	require.NoError(t, err)
	assert.False(t, c.DefaultParallel.VocabEmbDP)
	assert.Zero(t, c.VocabSize%c.DefaultParallel.ModelParallel)
}
