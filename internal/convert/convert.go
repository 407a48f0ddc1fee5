// Package convert builds weight conversion runs.
//
// Conversion imports checkpoints exported from another framework into
// the MindSpore format the trainer loads. Each model family ships a
// conversion script; this package resolves the script from the model
// card, validates the source and destination paths, and assembles the
// python command line. Execution happens through the regular job
// machinery so conversions show up in ps and logs like any other run.
package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zhenhua32/mindformers/internal/models"
)

// Spec describes one conversion request.
type Spec struct {
	// Model is the registry model id whose converter runs.
	Model string

	// TorchPath is the source checkpoint: a shard directory or a single
	// file depending on the family.
	TorchPath string

	// OutputPath is the MindSpore checkpoint file to write.
	OutputPath string

	// PackageRoot is the training package checkout containing the
	// conversion scripts.
	PackageRoot string

	// PythonBin is the interpreter, e.g. "python3".
	PythonBin string

	// Force overwrites an existing output file.
	Force bool

	// Extra holds additional flags appended to the script invocation.
	Extra []string
}

// Resolve looks up the model card and validates the spec against it.
func (s *Spec) Resolve() (*models.Card, error) {
	card, err := models.Get(s.Model)
	if err != nil {
		return nil, err
	}
	if err := s.validate(card); err != nil {
		return nil, err
	}
	return card, nil
}

// validate checks paths against the card's converter expectations.
func (s *Spec) validate(card *models.Card) error {
	if s.TorchPath == "" {
		return fmt.Errorf("source checkpoint path is required")
	}
	info, err := os.Stat(s.TorchPath)
	if err != nil {
		return fmt.Errorf("source checkpoint %s: %w", s.TorchPath, err)
	}
	if card.Converter.TorchIsDir && !info.IsDir() {
		return fmt.Errorf("%s converter expects a checkpoint directory, %s is a file", card.ID, s.TorchPath)
	}
	if !card.Converter.TorchIsDir && info.IsDir() {
		return fmt.Errorf("%s converter expects a checkpoint file, %s is a directory", card.ID, s.TorchPath)
	}
	if card.Converter.TorchIsDir {
		entries, err := os.ReadDir(s.TorchPath)
		if err != nil {
			return fmt.Errorf("source checkpoint %s: %w", s.TorchPath, err)
		}
		if len(entries) == 0 {
			return fmt.Errorf("source checkpoint directory %s is empty", s.TorchPath)
		}
	}

	if s.OutputPath == "" {
		return fmt.Errorf("output checkpoint path is required")
	}
	if _, err := os.Stat(s.OutputPath); err == nil && !s.Force {
		return fmt.Errorf("output %s already exists, use force to overwrite", s.OutputPath)
	}
	if dir := filepath.Dir(s.OutputPath); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("output directory %s: %w", dir, err)
		}
	}

	if s.PackageRoot != "" {
		script := filepath.Join(s.PackageRoot, card.Converter.Script)
		if _, err := os.Stat(script); err != nil {
			return fmt.Errorf("conversion script %s: %w", script, err)
		}
	}
	return nil
}

// Command assembles the conversion invocation for a resolved card.
func (s *Spec) Command(card *models.Card) []string {
	python := s.PythonBin
	if python == "" {
		python = "python3"
	}
	script := card.Converter.Script
	if s.PackageRoot != "" {
		script = filepath.Join(s.PackageRoot, card.Converter.Script)
	}

	cmd := []string{
		python,
		script,
		card.Converter.TorchArg, s.TorchPath,
		card.Converter.OutputArg, s.OutputPath,
	}
	return append(cmd, s.Extra...)
}

// CommandLine renders the invocation for dry runs.
func (s *Spec) CommandLine(card *models.Card) string {
	return strings.Join(s.Command(card), " ")
}

// JobName derives the display name for the conversion job record.
func (s *Spec) JobName() string {
	return "convert-" + s.Model
}
