package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhenhua32/mindformers/internal/config"
)

func testCard(id, family string) *Card {
	return &Card{
		ID:          id,
		DisplayName: id,
		Family:      family,
		ConfigType:  "TestConfig",
		Params:      "1B",
		SeqLength:   2048,
		NumLayers:   24,
		NumHeads:    16,
		HiddenSize:  2048,
		VocabSize:   32000,

		RecommendedDevices: 8,
		DefaultParallel: config.ParallelConfig{
			DataParallel:             8,
			ModelParallel:            1,
			PipelineStage:            1,
			MicroBatchNum:            1,
			VocabEmbDP:               true,
			GradientAggregationGroup: 4,
		},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testCard("demo_1b", "demo")))

	c, err := r.Get("demo_1b")
	require.NoError(t, err)
	assert.Equal(t, "demo_1b", c.ID)

	// Dash spelling resolves to the underscore id.
	c, err = r.Get("demo-1b")
	require.NoError(t, err)
	assert.Equal(t, "demo_1b", c.ID)

	_, err = r.Get("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Contains(t, err.Error(), "demo_1b")
}

func TestRegistryRejectsInvalidCard(t *testing.T) {
	r := NewRegistry()

	err := r.Register(nil)
	require.Error(t, err)

	bad := testCard("", "demo")
	err = r.Register(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id cannot be empty")

	// Parallel layout not covering the recommended device count.
	bad = testCard("demo_bad", "demo")
	bad.DefaultParallel.DataParallel = 4
	err = r.Register(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "covers 4 devices, expected 8")
}

func TestRegistryListOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testCard("zz_1b", "zfam")))
	require.NoError(t, r.Register(testCard("aa_2b", "afam")))
	require.NoError(t, r.Register(testCard("aa_1b", "afam")))

	cards := r.List()
	require.Len(t, cards, 3)
	assert.Equal(t, "aa_1b", cards[0].ID)
	assert.Equal(t, "aa_2b", cards[1].ID)
	assert.Equal(t, "zz_1b", cards[2].ID)

	assert.Equal(t, []string{"afam", "zfam"}, r.Families())
}

func TestCardTrainerConfig(t *testing.T) {
	c := testCard("demo_1b", "demo")
	c.DefaultParallel = config.ParallelConfig{
		DataParallel:             2,
		ModelParallel:            4,
		PipelineStage:            1,
		MicroBatchNum:            1,
		VocabEmbDP:               true,
		GradientAggregationGroup: 4,
	}

	// At the recommended device count the card layout is used verbatim.
	tc := c.TrainerConfig(8)
	assert.Equal(t, 2, tc.ParallelConfig.DataParallel)
	assert.Equal(t, 4, tc.ParallelConfig.ModelParallel)
	assert.Equal(t, config.ParallelModeSemiAuto, tc.Parallel.ParallelMode)
	assert.Equal(t, "TestConfig", tc.Model.ModelConfig.Type)
	assert.Equal(t, 24, tc.Model.ModelConfig.NumLayers)
	require.NoError(t, tc.Validate(8))

	// Other device counts fall back to data parallelism.
	tc = c.TrainerConfig(4)
	assert.Equal(t, 4, tc.ParallelConfig.DataParallel)
	assert.Equal(t, 1, tc.ParallelConfig.ModelParallel)
	require.NoError(t, tc.Validate(4))
}

func TestCardInfo(t *testing.T) {
	c := testCard("demo_1b", "demo")
	info := c.Info()
	assert.Equal(t, "demo_1b", info.Name)
	assert.Equal(t, "demo", info.Family)
	assert.Equal(t, "1B", info.Params)
	assert.Equal(t, 8, info.DefaultParallel.DataParallel)
	assert.Equal(t, "demo_1b (1B)", c.String())
}
