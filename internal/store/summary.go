package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// RegistrySummary aggregates the registry state for dashboards and the
// runtime config endpoint.
type RegistrySummary struct {
	TotalVersions    int64      `json:"total_versions"`
	CandidateCount   int64      `json:"candidate_count"`
	ServableCount    int64      `json:"servable_count"`
	RejectedCount    int64      `json:"rejected_count"`
	LatestServable   string     `json:"latest_servable,omitempty"`
	LatestTrainedAt  *time.Time `json:"latest_trained_at,omitempty"`
	RunsTotal        int64      `json:"runs_total"`
	RunsCompleted    int64      `json:"runs_completed"`
	RunsCancelled    int64      `json:"runs_cancelled"`
	RunsFailed       int64      `json:"runs_failed"`
	GateReports      int64      `json:"gate_reports"`
	GateReportPasses int64      `json:"gate_report_passes"`
}

type statusCount struct {
	Status string
	Total  int64
}

// Summary aggregates version, run and gate counts directly from the tables.
func (d *Database) Summary() (RegistrySummary, error) {
	if d == nil {
		return RegistrySummary{}, errors.New("database is nil")
	}
	var out RegistrySummary

	var versions []statusCount
	if err := d.gorm.Table("model_versions").
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&versions).Error; err != nil {
		return out, fmt.Errorf("version counts: %w", err)
	}
	for _, row := range versions {
		out.TotalVersions += row.Total
		switch row.Status {
		case VersionCandidate:
			out.CandidateCount = row.Total
		case VersionServable:
			out.ServableCount = row.Total
		case VersionRejected:
			out.RejectedCount = row.Total
		}
	}

	var runs []statusCount
	if err := d.gorm.Table("training_runs").
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&runs).Error; err != nil {
		return out, fmt.Errorf("run counts: %w", err)
	}
	for _, row := range runs {
		out.RunsTotal += row.Total
		switch row.Status {
		case RunCompleted:
			out.RunsCompleted = row.Total
		case RunCancelled:
			out.RunsCancelled = row.Total
		case RunFailed:
			out.RunsFailed = row.Total
		}
	}

	if err := d.gorm.Model(&FairnessReport{}).Count(&out.GateReports).Error; err != nil {
		return out, fmt.Errorf("gate report count: %w", err)
	}
	if err := d.gorm.Model(&FairnessReport{}).
		Where("passed = ?", true).
		Count(&out.GateReportPasses).Error; err != nil {
		return out, fmt.Errorf("gate pass count: %w", err)
	}

	latest, err := d.LatestServable()
	switch {
	case err == nil:
		out.LatestServable = latest.Version
		trainedAt := latest.TrainedAt
		out.LatestTrainedAt = &trainedAt
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return out, fmt.Errorf("latest servable: %w", err)
	}

	return out, nil
}
