package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/krishkpatil/CreditUdaan/internal/fairness"
	"github.com/krishkpatil/CreditUdaan/internal/model"
	"github.com/krishkpatil/CreditUdaan/internal/schema"
	"github.com/krishkpatil/CreditUdaan/internal/synth"
)

// Model version lifecycle statuses.
const (
	VersionCandidate = "candidate"
	VersionServable  = "servable"
	VersionRejected  = "rejected"
)

// Training run outcomes.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

// ModelVersion persists one immutable trained model. Weights, frozen stats
// and the training config are stored as JSON text; the scalar final metrics
// are columns so listings need no decoding.
type ModelVersion struct {
	ID           uint   `gorm:"primaryKey"`
	Version      string `gorm:"size:64;uniqueIndex"`
	Status       string `gorm:"size:16;index"`
	WeightsJSON  string `gorm:"type:text"`
	StatsJSON    string `gorm:"type:text"`
	ConfigJSON   string `gorm:"type:text"`
	FinalRMSE    float64
	FinalMaxGap  float64
	FinalPenalty float64
	Epochs       int
	TrainedAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SetVersion fills the record from a trained model version.
func (r *ModelVersion) SetVersion(v *model.Version) error {
	weights, err := json.Marshal(v.Net)
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}
	stats, err := json.Marshal(v.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	cfg, err := json.Marshal(v.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	r.Version = v.ID
	r.WeightsJSON = string(weights)
	r.StatsJSON = string(stats)
	r.ConfigJSON = string(cfg)
	r.FinalRMSE = v.Final.RMSE
	r.FinalMaxGap = v.Final.MaxGap
	r.FinalPenalty = v.Final.ParityPenalty
	r.Epochs = v.Final.Epoch + 1
	r.TrainedAt = v.CreatedAt
	return nil
}

// DecodeVersion reconstructs the runnable model from the stored JSON.
func (r *ModelVersion) DecodeVersion() (*model.Version, error) {
	var net model.Network
	if err := json.Unmarshal([]byte(r.WeightsJSON), &net); err != nil {
		return nil, fmt.Errorf("decode weights for %s: %w", r.Version, err)
	}
	var stats schema.Stats
	if err := json.Unmarshal([]byte(r.StatsJSON), &stats); err != nil {
		return nil, fmt.Errorf("decode stats for %s: %w", r.Version, err)
	}
	var cfg model.TrainConfig
	if err := json.Unmarshal([]byte(r.ConfigJSON), &cfg); err != nil {
		return nil, fmt.Errorf("decode config for %s: %w", r.Version, err)
	}
	final := model.EpochMetrics{
		Epoch:         r.Epochs - 1,
		RMSE:          r.FinalRMSE,
		ParityPenalty: r.FinalPenalty,
		MaxGap:        r.FinalMaxGap,
	}
	return model.RestoreVersion(r.Version, r.TrainedAt, cfg, stats, &net, final)
}

// TrainingRun records one training job: its requested config, the per-epoch
// history, the final outcome and, for interrupted jobs, the checkpoint that
// lets the run resume.
type TrainingRun struct {
	ID             uint   `gorm:"primaryKey"`
	JobID          string `gorm:"size:64;uniqueIndex"`
	Status         string `gorm:"size:16;index"`
	Samples        int
	ConfigJSON     string `gorm:"type:text"`
	GroupsJSON     string `gorm:"type:text"`
	HistoryJSON    string `gorm:"type:text"`
	CheckpointJSON string `gorm:"type:text"`
	ModelVersion   string `gorm:"size:64;index"`
	Error          string `gorm:"size:512"`
	StartedAt      time.Time
	FinishedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SetConfig stores the requested training configuration.
func (r *TrainingRun) SetConfig(cfg model.TrainConfig) {
	payload, _ := json.Marshal(cfg)
	r.ConfigJSON = string(payload)
}

// Config reads the stored training configuration.
func (r *TrainingRun) Config() (model.TrainConfig, error) {
	var cfg model.TrainConfig
	if strings.TrimSpace(r.ConfigJSON) == "" {
		return cfg, fmt.Errorf("run %s has no config", r.JobID)
	}
	if err := json.Unmarshal([]byte(r.ConfigJSON), &cfg); err != nil {
		return cfg, fmt.Errorf("decode config for run %s: %w", r.JobID, err)
	}
	return cfg, nil
}

// SetGroups stores the group distribution the run's dataset was drawn from.
// Resuming a cancelled run regenerates the identical dataset from it.
func (r *TrainingRun) SetGroups(dist synth.GroupDistribution) {
	payload, _ := json.Marshal(dist)
	r.GroupsJSON = string(payload)
}

// Groups reads the stored group distribution.
func (r *TrainingRun) Groups() (synth.GroupDistribution, error) {
	var dist synth.GroupDistribution
	if strings.TrimSpace(r.GroupsJSON) == "" {
		return dist, fmt.Errorf("run %s has no group distribution", r.JobID)
	}
	if err := json.Unmarshal([]byte(r.GroupsJSON), &dist); err != nil {
		return dist, fmt.Errorf("decode groups for run %s: %w", r.JobID, err)
	}
	if err := dist.Validate(); err != nil {
		return dist, fmt.Errorf("stored groups for run %s: %w", r.JobID, err)
	}
	return dist, nil
}

// SetHistory stores the per-epoch metric history.
func (r *TrainingRun) SetHistory(history []model.EpochMetrics) {
	if history == nil {
		r.HistoryJSON = "[]"
		return
	}
	payload, _ := json.Marshal(history)
	r.HistoryJSON = string(payload)
}

// History reads the stored per-epoch metrics.
func (r *TrainingRun) History() []model.EpochMetrics {
	if strings.TrimSpace(r.HistoryJSON) == "" {
		return nil
	}
	var out []model.EpochMetrics
	if err := json.Unmarshal([]byte(r.HistoryJSON), &out); err != nil {
		return nil
	}
	return out
}

// SetCheckpoint stores the resumable trainer state.
func (r *TrainingRun) SetCheckpoint(cp *model.Checkpoint) error {
	if cp == nil {
		r.CheckpointJSON = ""
		return nil
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	r.CheckpointJSON = string(payload)
	return nil
}

// Checkpoint reads the stored trainer state, nil when none was saved.
func (r *TrainingRun) Checkpoint() (*model.Checkpoint, error) {
	if strings.TrimSpace(r.CheckpointJSON) == "" {
		return nil, nil
	}
	var cp model.Checkpoint
	if err := json.Unmarshal([]byte(r.CheckpointJSON), &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint for run %s: %w", r.JobID, err)
	}
	if err := cp.Validate(); err != nil {
		return nil, fmt.Errorf("stored checkpoint for run %s: %w", r.JobID, err)
	}
	return &cp, nil
}

// FairnessReport persists the release-gate evaluation for a model version.
type FairnessReport struct {
	ID              uint   `gorm:"primaryKey"`
	Version         string `gorm:"size:64;uniqueIndex"`
	GroupMeansJSON  string `gorm:"type:text"`
	GroupCountsJSON string `gorm:"type:text"`
	MaxPairwiseGap  float64
	Tolerance       float64
	Passed          bool `gorm:"index"`
	SampleCount     int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SetReport fills the record from an evaluator report.
func (r *FairnessReport) SetReport(report fairness.Report) {
	means, _ := json.Marshal(report.PerGroupMeanScore)
	counts, _ := json.Marshal(report.GroupCounts)
	r.GroupMeansJSON = string(means)
	r.GroupCountsJSON = string(counts)
	r.MaxPairwiseGap = report.MaxPairwiseGap
	r.Tolerance = report.Tolerance
	r.Passed = report.Passed
	r.SampleCount = report.SampleCount
}

// Report reconstructs the evaluator report.
func (r *FairnessReport) Report() (fairness.Report, error) {
	report := fairness.Report{
		MaxPairwiseGap: r.MaxPairwiseGap,
		Tolerance:      r.Tolerance,
		Passed:         r.Passed,
		SampleCount:    r.SampleCount,
	}
	if strings.TrimSpace(r.GroupMeansJSON) != "" {
		if err := json.Unmarshal([]byte(r.GroupMeansJSON), &report.PerGroupMeanScore); err != nil {
			return report, fmt.Errorf("decode group means for %s: %w", r.Version, err)
		}
	}
	if strings.TrimSpace(r.GroupCountsJSON) != "" {
		if err := json.Unmarshal([]byte(r.GroupCountsJSON), &report.GroupCounts); err != nil {
			return report, fmt.Errorf("decode group counts for %s: %w", r.Version, err)
		}
	}
	return report, nil
}

// Groups lists the group labels present in the stored report.
func (r *FairnessReport) Groups() []synth.GroupLabel {
	report, err := r.Report()
	if err != nil {
		return nil
	}
	out := make([]synth.GroupLabel, 0, len(report.PerGroupMeanScore))
	for label := range report.PerGroupMeanScore {
		out = append(out, label)
	}
	return out
}
