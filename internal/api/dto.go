package api

import (
	"strings"
	"time"

	"github.com/krishkpatil/CreditUdaan/internal/model"
	"github.com/krishkpatil/CreditUdaan/internal/schema"
	"github.com/krishkpatil/CreditUdaan/internal/scoring"
	"github.com/krishkpatil/CreditUdaan/internal/store"
	"github.com/krishkpatil/CreditUdaan/internal/synth"
)

// AnalyzeRequest carries a raw credit report plus an optional model version.
// An empty version resolves to the latest servable model.
type AnalyzeRequest struct {
	schema.RawFeatures
	ModelVersion string `json:"model_version"`
}

// PredictResponse is the score-only answer for /api/predict.
type PredictResponse struct {
	ModelScore   int                     `json:"model_score"`
	Band         scoring.Band            `json:"band"`
	Outlook      scoring.ApprovalOutlook `json:"approval_outlook"`
	ModelVersion string                  `json:"model_version"`
}

// TrainRequest tunes a training job. Zero values fall back to the server's
// training defaults; pointer fields distinguish "unset" from a meaningful
// zero. ResumeJob restarts a cancelled run from its stored checkpoint.
type TrainRequest struct {
	Samples      int                `json:"samples"`
	EvalSamples  int                `json:"eval_samples"`
	Epochs       int                `json:"epochs"`
	BatchSize    int                `json:"batch_size"`
	LearningRate float64            `json:"learning_rate"`
	Lambda       *float64           `json:"lambda"`
	Tolerance    float64            `json:"tolerance"`
	Seed         *uint64            `json:"seed"`
	Correlation  *float64           `json:"correlation"`
	Groups       []synth.GroupShare `json:"groups"`
	Promote      bool               `json:"promote"`
	ResumeJob    string             `json:"resume_job"`
}

// TrainStartResponse describes the asynchronous training kickoff payload.
type TrainStartResponse struct {
	JobID     string    `json:"job_id"`
	Samples   int       `json:"samples"`
	Epochs    int       `json:"epochs"`
	Resumed   bool      `json:"resumed,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// TrainStatusResponse describes the state of the active training job, or the
// last observed event when nothing is running.
type TrainStatusResponse struct {
	Running bool    `json:"running"`
	JobID   string  `json:"job_id"`
	State   string  `json:"state"`
	Message string  `json:"message"`
	Epoch   int     `json:"epoch"`
	Epochs  int     `json:"epochs"`
	RMSE    float64 `json:"rmse"`
	MaxGap  float64 `json:"max_gap"`
}

// ModelVersionDTO is the API representation of a registry entry. Config and
// Fairness are populated on the detail endpoint only.
type ModelVersionDTO struct {
	Version            string             `json:"version"`
	Status             string             `json:"status"`
	Epochs             int                `json:"epochs"`
	FinalRMSE          float64            `json:"final_rmse"`
	FinalMaxGap        float64            `json:"final_max_gap"`
	FinalParityPenalty float64            `json:"final_parity_penalty"`
	TrainedAt          time.Time          `json:"trained_at"`
	CreatedAt          time.Time          `json:"created_at"`
	Config             *model.TrainConfig `json:"config,omitempty"`
	Fairness           *FairnessDTO       `json:"fairness,omitempty"`
}

// ModelsResponse is the paginated registry listing.
type ModelsResponse struct {
	Items []ModelVersionDTO `json:"items"`
	Total int64             `json:"total"`
}

// FairnessDTO is the stored gate report for a model version.
type FairnessDTO struct {
	Version           string                       `json:"version"`
	Passed            bool                         `json:"passed"`
	MaxPairwiseGap    float64                      `json:"max_pairwise_gap"`
	Tolerance         float64                      `json:"tolerance"`
	PerGroupMeanScore map[synth.GroupLabel]float64 `json:"per_group_mean_score"`
	GroupCounts       map[synth.GroupLabel]int     `json:"group_counts"`
	SampleCount       int                          `json:"sample_count"`
	CreatedAt         time.Time                    `json:"created_at"`
}

// TrainingRunDTO summarizes a persisted training run.
type TrainingRunDTO struct {
	JobID           string     `json:"job_id"`
	Status          string     `json:"status"`
	Samples         int        `json:"samples"`
	EpochsCompleted int        `json:"epochs_completed"`
	ModelVersion    string     `json:"model_version,omitempty"`
	Error           string     `json:"error,omitempty"`
	Resumable       bool       `json:"resumable"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
}

// RunsResponse is the paginated training run history.
type RunsResponse struct {
	Items []TrainingRunDTO `json:"items"`
	Total int64            `json:"total"`
}

// VersionFromRecord converts a registry row into the DTO representation.
func VersionFromRecord(rec store.ModelVersion) ModelVersionDTO {
	return ModelVersionDTO{
		Version:            rec.Version,
		Status:             rec.Status,
		Epochs:             rec.Epochs,
		FinalRMSE:          round2(rec.FinalRMSE),
		FinalMaxGap:        round2(rec.FinalMaxGap),
		FinalParityPenalty: round2(rec.FinalPenalty),
		TrainedAt:          rec.TrainedAt,
		CreatedAt:          rec.CreatedAt,
	}
}

// ReportFromRecord decodes a stored fairness report into the DTO.
func ReportFromRecord(rec store.FairnessReport) (FairnessDTO, error) {
	report, err := rec.Report()
	if err != nil {
		return FairnessDTO{}, err
	}
	means := make(map[synth.GroupLabel]float64, len(report.PerGroupMeanScore))
	for label, mean := range report.PerGroupMeanScore {
		means[label] = round2(mean)
	}
	return FairnessDTO{
		Version:           rec.Version,
		Passed:            report.Passed,
		MaxPairwiseGap:    round2(report.MaxPairwiseGap),
		Tolerance:         report.Tolerance,
		PerGroupMeanScore: means,
		GroupCounts:       report.GroupCounts,
		SampleCount:       report.SampleCount,
		CreatedAt:         rec.CreatedAt,
	}, nil
}

// RunFromRecord converts a training run row into the DTO representation.
func RunFromRecord(rec store.TrainingRun) TrainingRunDTO {
	return TrainingRunDTO{
		JobID:           rec.JobID,
		Status:          rec.Status,
		Samples:         rec.Samples,
		EpochsCompleted: len(rec.History()),
		ModelVersion:    rec.ModelVersion,
		Error:           rec.Error,
		Resumable:       rec.Status == store.RunCancelled && strings.TrimSpace(rec.CheckpointJSON) != "",
		StartedAt:       rec.StartedAt,
		FinishedAt:      rec.FinishedAt,
	}
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
