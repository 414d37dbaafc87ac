package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/krishkpatil/CreditUdaan/internal/fairness"
	"github.com/krishkpatil/CreditUdaan/internal/metrics"
	"github.com/krishkpatil/CreditUdaan/internal/model"
	"github.com/krishkpatil/CreditUdaan/internal/store"
	"github.com/krishkpatil/CreditUdaan/internal/synth"
)

const trainBroadcastThrottle = 250 * time.Millisecond

// trainingJob tracks the single in-flight training run.
type trainingJob struct {
	id        string
	cancel    context.CancelFunc
	startedAt time.Time
	epochs    int
	samples   int
}

// trainSpec is the fully merged request a job executes. On resume the
// checkpoint's config and dataset identity override the request so the run
// continues exactly where it stopped.
type trainSpec struct {
	cfg         model.TrainConfig
	samples     int
	evalSamples int
	dist        synth.GroupDistribution
	promote     bool
	resume      *model.Checkpoint
	resumeFrom  string
}

func (s *Server) handleTrain(c *gin.Context) {
	var req TrainRequest
	if c.Request.Body != nil {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}

	spec, err := s.buildTrainSpec(req)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	if jobID := strings.TrimSpace(req.ResumeJob); jobID != "" {
		run, err := s.db.GetTrainingRun(jobID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				s.renderError(c, http.StatusNotFound, fmt.Errorf("training run %s not found", jobID))
			} else {
				s.renderError(c, http.StatusServiceUnavailable, err)
			}
			return
		}
		cp, err := run.Checkpoint()
		if err != nil {
			s.renderError(c, http.StatusInternalServerError, err)
			return
		}
		if cp == nil {
			s.renderError(c, http.StatusConflict, fmt.Errorf("run %s has no checkpoint to resume", run.JobID))
			return
		}
		dist, err := run.Groups()
		if err != nil {
			s.renderError(c, http.StatusInternalServerError, err)
			return
		}
		spec.resume = cp
		spec.resumeFrom = run.JobID
		spec.cfg = cp.Config
		spec.samples = cp.DataCount
		spec.dist = dist
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if s.activeJob != nil {
		s.renderError(c, http.StatusConflict, errors.New("training already running"))
		return
	}

	job, err := s.startTraining(spec)
	if err != nil {
		s.renderError(c, http.StatusServiceUnavailable, err)
		return
	}

	c.JSON(http.StatusAccepted, TrainStartResponse{
		JobID:     job.id,
		Samples:   job.samples,
		Epochs:    job.epochs,
		Resumed:   spec.resume != nil,
		StartedAt: job.startedAt,
	})
}

// buildTrainSpec merges request knobs over the server's training defaults.
func (s *Server) buildTrainSpec(req TrainRequest) (trainSpec, error) {
	base := s.cfg.Training
	spec := trainSpec{
		cfg:         base.TrainConfig,
		samples:     base.Samples,
		evalSamples: base.EvalSamples,
		dist:        base.Groups,
		promote:     req.Promote,
	}

	if req.Samples > 0 {
		spec.samples = req.Samples
	}
	if req.EvalSamples > 0 {
		spec.evalSamples = req.EvalSamples
	}
	if req.Epochs > 0 {
		spec.cfg.Epochs = req.Epochs
	}
	if req.BatchSize > 0 {
		spec.cfg.BatchSize = req.BatchSize
	}
	if req.LearningRate > 0 {
		spec.cfg.LearningRate = req.LearningRate
	}
	if req.Lambda != nil {
		spec.cfg.Lambda = *req.Lambda
	}
	if req.Tolerance > 0 {
		spec.cfg.Tolerance = req.Tolerance
	}
	if req.Seed != nil {
		spec.cfg.Seed = *req.Seed
	}
	if len(req.Groups) > 0 {
		spec.dist.Shares = req.Groups
	}
	if req.Correlation != nil {
		spec.dist.Correlation = *req.Correlation
	}

	if err := spec.cfg.Validate(); err != nil {
		return trainSpec{}, err
	}
	if err := spec.dist.Validate(); err != nil {
		return trainSpec{}, fmt.Errorf("groups: %w", err)
	}
	return spec, nil
}

// startTraining creates the run row and launches the job goroutine. The
// caller must hold jobMu.
func (s *Server) startTraining(spec trainSpec) (*trainingJob, error) {
	ctx, cancel := context.WithCancel(context.Background())
	job := &trainingJob{
		id:        uuid.NewString(),
		cancel:    cancel,
		startedAt: time.Now().UTC(),
		epochs:    spec.cfg.Epochs,
		samples:   spec.samples,
	}

	run := &store.TrainingRun{
		JobID:     job.id,
		Status:    store.RunRunning,
		Samples:   spec.samples,
		StartedAt: job.startedAt,
	}
	run.SetConfig(spec.cfg)
	run.SetGroups(spec.dist)
	if err := s.db.CreateTrainingRun(run); err != nil {
		cancel()
		return nil, fmt.Errorf("create training run: %w", err)
	}

	s.activeJob = job
	go s.runTraining(ctx, job, spec, run)
	return job, nil
}

func (s *Server) runTraining(ctx context.Context, job *trainingJob, spec trainSpec, run *store.TrainingRun) {
	metrics.TrainingActive.Set(1)
	defer func() {
		metrics.TrainingActive.Set(0)
		s.jobMu.Lock()
		if s.activeJob == job {
			s.activeJob = nil
		}
		s.jobMu.Unlock()
	}()

	logrus.WithFields(logrus.Fields{
		"job":     job.id,
		"samples": spec.samples,
		"epochs":  spec.cfg.Epochs,
		"lambda":  spec.cfg.Lambda,
		"resumed": spec.resumeFrom,
	}).Info("training job started")

	s.notifier.Broadcast(TrainingEvent{
		Type:    "started",
		JobID:   job.id,
		Epochs:  spec.cfg.Epochs,
		Message: "training started",
	})

	trainDS, evalDS, err := trainingData(spec)
	if err != nil {
		s.failRun(run, job, nil, err, "generate training data")
		return
	}

	var lastEmit time.Time
	progress := func(m model.EpochMetrics) {
		final := m.Epoch >= spec.cfg.Epochs-1
		if !final && m.Epoch != 0 && time.Since(lastEmit) < trainBroadcastThrottle {
			return
		}
		lastEmit = time.Now()
		s.notifier.Broadcast(TrainingEvent{
			Type:          "epoch",
			JobID:         job.id,
			Epoch:         m.Epoch,
			Epochs:        spec.cfg.Epochs,
			RMSE:          m.RMSE,
			MaxGap:        m.MaxGap,
			ParityPenalty: m.ParityPenalty,
			ElapsedMs:     m.ElapsedMs,
		})
	}

	var result model.TrainResult
	if spec.resume != nil {
		result, err = model.Resume(ctx, spec.resume, trainDS, progress)
	} else {
		result, err = model.Train(ctx, trainDS, spec.cfg, progress)
	}

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		s.finishRun(run, store.RunCancelled, "", result.History, result.Checkpoint, "")
		s.notifier.Broadcast(TrainingEvent{
			Type:    "cancelled",
			JobID:   job.id,
			Message: "training cancelled, checkpoint saved",
		})
		logrus.WithField("job", job.id).Info("training cancelled with resumable checkpoint")
		return
	default:
		s.failRun(run, job, result.History, err, "training failed")
		return
	}

	version := result.Version
	report, err := fairness.Evaluate(version, evalDS, spec.cfg.Tolerance)
	if err != nil {
		s.failRun(run, job, result.History, err, "fairness evaluation")
		return
	}

	status := store.VersionCandidate
	if !report.Passed {
		status = store.VersionRejected
	} else if spec.promote {
		status = store.VersionServable
	}

	rec := &store.ModelVersion{}
	if err := rec.SetVersion(version); err != nil {
		s.failRun(run, job, result.History, err, "encode model version")
		return
	}
	rec.Status = status
	if err := s.db.SaveModelVersion(rec); err != nil {
		s.failRun(run, job, result.History, err, "save model version")
		return
	}

	gate := &store.FairnessReport{Version: version.ID}
	gate.SetReport(report)
	if err := s.db.SaveFairnessReport(gate); err != nil {
		s.failRun(run, job, result.History, err, "save fairness report")
		return
	}

	s.versionMu.Lock()
	s.versionCache[version.ID] = version
	s.versionMu.Unlock()

	s.finishRun(run, store.RunCompleted, "", result.History, nil, version.ID)

	passed := report.Passed
	s.notifier.Broadcast(TrainingEvent{
		Type:       "completed",
		JobID:      job.id,
		Epochs:     spec.cfg.Epochs,
		RMSE:       version.Final.RMSE,
		MaxGap:     report.MaxPairwiseGap,
		Version:    version.ID,
		GatePassed: &passed,
		Message:    fmt.Sprintf("model %s stored as %s", version.ID, status),
	})
	logrus.WithFields(logrus.Fields{
		"job":     job.id,
		"version": version.ID,
		"status":  status,
		"rmse":    version.Final.RMSE,
		"max_gap": report.MaxPairwiseGap,
		"passed":  report.Passed,
	}).Info("training job completed")
}

// trainingData builds the train and evaluation splits. A resumed job
// regenerates the original training split from the checkpoint's seed and
// count so the trainer accepts it as the same dataset.
func trainingData(spec trainSpec) (synth.Dataset, synth.Dataset, error) {
	if spec.resume != nil {
		train, err := synth.Generate(spec.resume.DataCount, spec.resume.DataSeed, spec.dist)
		if err != nil {
			return synth.Dataset{}, synth.Dataset{}, fmt.Errorf("regenerate training split: %w", err)
		}
		eval, err := synth.Generate(spec.evalSamples, spec.resume.DataSeed+1, spec.dist)
		if err != nil {
			return synth.Dataset{}, synth.Dataset{}, fmt.Errorf("evaluation split: %w", err)
		}
		return train, eval, nil
	}
	return synth.Pair(spec.samples, spec.evalSamples, spec.cfg.Seed, spec.dist)
}

func (s *Server) failRun(run *store.TrainingRun, job *trainingJob, history []model.EpochMetrics, cause error, stage string) {
	s.finishRun(run, store.RunFailed, cause.Error(), history, nil, "")
	s.notifier.Broadcast(TrainingEvent{Type: "error", JobID: job.id, Message: cause.Error()})
	logrus.WithError(cause).WithField("job", job.id).Error(stage)
}

func (s *Server) finishRun(run *store.TrainingRun, status, errMsg string, history []model.EpochMetrics, cp *model.Checkpoint, versionID string) {
	now := time.Now().UTC()
	run.Status = status
	run.Error = errMsg
	run.ModelVersion = versionID
	run.FinishedAt = &now
	run.SetHistory(history)
	if err := run.SetCheckpoint(cp); err != nil {
		logrus.WithError(err).WithField("job", run.JobID).Warn("persist checkpoint")
	}
	if err := s.db.UpdateTrainingRun(run); err != nil {
		logrus.WithError(err).WithField("job", run.JobID).Warn("update training run")
	}
}

func (s *Server) handleTrainStatus(c *gin.Context) {
	s.jobMu.Lock()
	job := s.activeJob
	s.jobMu.Unlock()

	status := s.notifier.LastStatus()

	resp := TrainStatusResponse{Running: job != nil}
	if job != nil {
		resp.JobID = job.id
		resp.Epochs = job.epochs
	}
	if status != nil {
		resp.State = status.Type
		resp.Message = status.Message
		resp.Epoch = status.Epoch
		resp.RMSE = status.RMSE
		resp.MaxGap = status.MaxGap
		if status.Epochs != 0 {
			resp.Epochs = status.Epochs
		}
		if resp.JobID == "" {
			resp.JobID = status.JobID
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCancelTrain(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("jobID"))
	if jobID == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("job id required"))
		return
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if s.activeJob == nil {
		s.renderError(c, http.StatusNotFound, errors.New("no training running"))
		return
	}
	if s.activeJob.id != jobID {
		s.renderError(c, http.StatusNotFound, fmt.Errorf("job %s not found", jobID))
		return
	}

	s.activeJob.cancel()
	logrus.WithField("job", jobID).Info("training cancellation requested")
	s.notifier.Broadcast(TrainingEvent{Type: "cancelling", JobID: jobID, Message: "cancellation requested"})

	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}
