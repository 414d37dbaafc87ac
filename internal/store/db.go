package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Database wraps the GORM DB handle and exposes the model registry.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
}

// Open initializes the SQLite-backed registry at the provided path.
func Open(path string, silent bool) (*Database, error) {
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&ModelVersion{}, &TrainingRun{}, &FairnessReport{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logrus.WithError(err).Warn("enable WAL mode")
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		logrus.WithError(err).Warn("set synchronous pragma")
	}
	if err := applyIndexes(db); err != nil {
		return nil, fmt.Errorf("apply indexes: %w", err)
	}
	return &Database{gorm: db}, nil
}

// GORM exposes the raw gorm.DB handle.
func (d *Database) GORM() *gorm.DB {
	return d.gorm
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the underlying connection is alive.
func (d *Database) Ping() error {
	if d == nil {
		return errors.New("database is nil")
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func applyIndexes(db *gorm.DB) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_model_versions_status_created ON model_versions(status, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_training_runs_status_created ON training_runs(status, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_fairness_reports_passed ON fairness_reports(passed)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// SaveModelVersion inserts or refreshes a version record keyed by its
// version string.
func (d *Database) SaveModelVersion(rec *ModelVersion) error {
	if rec == nil {
		return errors.New("model version is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "version"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"weights_json",
			"stats_json",
			"config_json",
			"final_rmse",
			"final_max_gap",
			"final_penalty",
			"epochs",
			"trained_at",
			"updated_at",
		}),
	}).Create(rec).Error
}

// GetModelVersion fetches one version record.
func (d *Database) GetModelVersion(version string) (*ModelVersion, error) {
	var rec ModelVersion
	if err := d.gorm.Where("version = ?", version).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestServable returns the most recently trained servable version.
func (d *Database) LatestServable() (*ModelVersion, error) {
	var rec ModelVersion
	err := d.gorm.Where("status = ?", VersionServable).
		Order("trained_at DESC").
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListModelVersions returns paged version records, newest first.
func (d *Database) ListModelVersions(offset, limit int) ([]ModelVersion, int64, error) {
	var total int64
	if err := d.gorm.Model(&ModelVersion{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query := d.gorm.Model(&ModelVersion{}).Order("trained_at DESC")
	if limit > 0 {
		query = query.Offset(offset).Limit(limit)
	}
	var recs []ModelVersion
	if err := query.Find(&recs).Error; err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

// UpdateModelStatus moves a version through its lifecycle.
func (d *Database) UpdateModelStatus(version, status string) error {
	switch status {
	case VersionCandidate, VersionServable, VersionRejected:
	default:
		return fmt.Errorf("unknown model status %q", status)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	tx := d.gorm.Model(&ModelVersion{}).
		Where("version = ?", version).
		Updates(map[string]any{"status": status, "updated_at": time.Now()})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateTrainingRun inserts a new run row.
func (d *Database) CreateTrainingRun(run *TrainingRun) error {
	if run == nil {
		return errors.New("training run is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Create(run).Error
}

// UpdateTrainingRun persists the run's current state.
func (d *Database) UpdateTrainingRun(run *TrainingRun) error {
	if run == nil || run.ID == 0 {
		return errors.New("training run is not persisted")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Save(run).Error
}

// GetTrainingRun fetches a run by its job id.
func (d *Database) GetTrainingRun(jobID string) (*TrainingRun, error) {
	var run TrainingRun
	if err := d.gorm.Where("job_id = ?", jobID).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// ListTrainingRuns returns paged runs, newest first.
func (d *Database) ListTrainingRuns(offset, limit int) ([]TrainingRun, int64, error) {
	var total int64
	if err := d.gorm.Model(&TrainingRun{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query := d.gorm.Model(&TrainingRun{}).Order("created_at DESC")
	if limit > 0 {
		query = query.Offset(offset).Limit(limit)
	}
	var runs []TrainingRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// SaveFairnessReport inserts or refreshes the gate report for a version.
func (d *Database) SaveFairnessReport(rec *FairnessReport) error {
	if rec == nil {
		return errors.New("fairness report is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "version"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"group_means_json",
			"group_counts_json",
			"max_pairwise_gap",
			"tolerance",
			"passed",
			"sample_count",
			"updated_at",
		}),
	}).Create(rec).Error
}

// GetFairnessReport fetches the stored gate report for a version.
func (d *Database) GetFairnessReport(version string) (*FairnessReport, error) {
	var rec FairnessReport
	if err := d.gorm.Where("version = ?", version).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}
