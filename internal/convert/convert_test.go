package convert

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/zhenhua32/mindformers/internal/models/gpt"
	_ "github.com/zhenhua32/mindformers/internal/models/llama"
)

// llama converters take a shard directory, gpt2 converters take a file.

func validDirSpec(t *testing.T) *Spec {
	t.Helper()
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "consolidated.00.pth"), []byte("w"), 0644))
	return &Spec{
		Model:      "llama_7b",
		TorchPath:  src,
		OutputPath: filepath.Join(t.TempDir(), "llama_7b.ckpt"),
	}
}

func TestResolveDirConverter(t *testing.T) {
	s := validDirSpec(t)
	card, err := s.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "llama_7b", card.ID)

	cmd := s.Command(card)
	assert.Equal(t, "python3", cmd[0])
	assert.Contains(t, cmd[1], "convert_weight.py")
	assert.Contains(t, cmd, "--torch_ckpt_dir")
	assert.Contains(t, cmd, s.TorchPath)
	assert.Contains(t, cmd, "--mindspore_ckpt_path")
	assert.Contains(t, cmd, s.OutputPath)
}

func TestResolveFileConverter(t *testing.T) {
	src := filepath.Join(t.TempDir(), "gpt2.bin")
	require.NoError(t, os.WriteFile(src, []byte("w"), 0644))

	s := &Spec{
		Model:      "gpt2_13b",
		TorchPath:  src,
		OutputPath: filepath.Join(t.TempDir(), "gpt2_13b.ckpt"),
	}
	card, err := s.Resolve()
	require.NoError(t, err)
	assert.Contains(t, s.Command(card), "--torch_ckpt_path")
}

func TestResolveRejectsWrongSourceShape(t *testing.T) {
	// Directory converter given a file.
	src := filepath.Join(t.TempDir(), "weights.pth")
	require.NoError(t, os.WriteFile(src, []byte("w"), 0644))
	s := &Spec{Model: "llama_7b", TorchPath: src, OutputPath: filepath.Join(t.TempDir(), "out.ckpt")}
	_, err := s.Resolve()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects a checkpoint directory")

	// File converter given a directory.
	s = &Spec{Model: "gpt2_13b", TorchPath: t.TempDir(), OutputPath: filepath.Join(t.TempDir(), "out.ckpt")}
	_, err = s.Resolve()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects a checkpoint file")
}

func TestResolveRejectsEmptySourceDir(t *testing.T) {
	s := &Spec{Model: "llama_7b", TorchPath: t.TempDir(), OutputPath: filepath.Join(t.TempDir(), "out.ckpt")}
	_, err := s.Resolve()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is empty")
}

func TestResolveRefusesOverwrite(t *testing.T) {
	s := validDirSpec(t)
	require.NoError(t, os.WriteFile(s.OutputPath, []byte("old"), 0644))

	_, err := s.Resolve()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	s.Force = true
	_, err = s.Resolve()
	assert.NoError(t, err)
}

func TestResolveUnknownModel(t *testing.T) {
	s := &Spec{Model: "no_such_model", TorchPath: t.TempDir(), OutputPath: "out.ckpt"}
	_, err := s.Resolve()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCommandWithPackageRootAndExtras(t *testing.T) {
	s := validDirSpec(t)
	s.PackageRoot = "/opt/mindformers"
	s.PythonBin = "python3.9"
	s.Extra = []string{"--dtype", "fp16"}

	// Resolve would stat the script under PackageRoot, build directly.
	card, err := (&Spec{Model: "llama_7b", TorchPath: s.TorchPath, OutputPath: s.OutputPath}).Resolve()
	require.NoError(t, err)

	cmd := s.Command(card)
	assert.Equal(t, "python3.9", cmd[0])
	assert.Equal(t, "/opt/mindformers/mindformers/models/llama/convert_weight.py", cmd[1])
	assert.Equal(t, []string{"--dtype", "fp16"}, cmd[len(cmd)-2:])

	line := s.CommandLine(card)
	assert.Contains(t, line, "python3.9 /opt/mindformers/")
}

func TestJobName(t *testing.T) {
	assert.Equal(t, "convert-llama_7b", (&Spec{Model: "llama_7b"}).JobName())
}
