package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/krishkpatil/CreditUdaan/internal/schema"
	"github.com/krishkpatil/CreditUdaan/internal/synth"
)

const checkpointFormat = 1

// Checkpoint freezes a training run at an epoch boundary: parameters,
// optimizer moments and the accumulated history. Together with the original
// dataset it resumes into the exact run an uninterrupted training would
// have produced.
type Checkpoint struct {
	FormatVersion int                     `json:"format_version"`
	Config        TrainConfig             `json:"config"`
	Stats         schema.Stats            `json:"stats"`
	Net           *Network                `json:"net"`
	OptM          *Network                `json:"opt_m"`
	OptV          *Network                `json:"opt_v"`
	Step          int                     `json:"step"`
	NextEpoch     int                     `json:"next_epoch"`
	History       []EpochMetrics          `json:"history"`
	DataSeed      uint64                  `json:"data_seed"`
	DataCount     int                     `json:"data_count"`
	Distribution  synth.GroupDistribution `json:"distribution"`
}

// Validate checks structural soundness without touching the dataset.
func (cp *Checkpoint) Validate() error {
	if cp.FormatVersion != checkpointFormat {
		return fmt.Errorf("unsupported checkpoint format %d", cp.FormatVersion)
	}
	if cp.Net == nil || cp.OptM == nil || cp.OptV == nil {
		return errors.New("checkpoint missing parameters or optimizer state")
	}
	if err := cp.Net.Validate(); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	// Optimizer moments share the parameter shapes but may hold any sign.
	if err := cp.OptM.validateShape(); err != nil {
		return fmt.Errorf("optimizer m: %w", err)
	}
	if err := cp.OptV.validateShape(); err != nil {
		return fmt.Errorf("optimizer v: %w", err)
	}
	if err := cp.Config.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cp.Stats.Validate(); err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	if cp.NextEpoch < 0 || cp.NextEpoch > cp.Config.Epochs {
		return fmt.Errorf("next epoch %d outside run of %d epochs", cp.NextEpoch, cp.Config.Epochs)
	}
	if cp.Step < 0 {
		return errors.New("negative optimizer step")
	}
	if cp.DataCount <= 0 {
		return errors.New("non-positive data count")
	}
	if err := cp.Distribution.Validate(); err != nil {
		return fmt.Errorf("distribution: %w", err)
	}
	return nil
}

// Save writes the checkpoint as JSON, replacing any previous file.
func (cp *Checkpoint) Save(path string) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads and validates a checkpoint file.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return &cp, nil
}
