package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/krishkpatil/CreditUdaan/internal/config"
	"github.com/krishkpatil/CreditUdaan/internal/fairness"
	"github.com/krishkpatil/CreditUdaan/internal/model"
	"github.com/krishkpatil/CreditUdaan/internal/store"
	"github.com/krishkpatil/CreditUdaan/internal/synth"
)

func main() {
	var (
		configPath     = flag.String("config", "", "Path to YAML config file (env CREDIT_CONFIG)")
		dbPath         = flag.String("db", "", "SQLite database path (defaults to the configured store)")
		samples        = flag.Int("samples", 0, "Training samples to generate (0 uses config)")
		evalSamples    = flag.Int("eval", 0, "Evaluation samples for the fairness gate (0 uses config)")
		seed           = flag.Uint64("seed", 0, "Generator seed (0 uses config)")
		epochs         = flag.Int("epochs", 0, "Training epochs (0 uses config)")
		batchSize      = flag.Int("batch", 0, "Mini-batch size (0 uses config)")
		learningRate   = flag.Float64("lr", 0, "Adam learning rate (0 uses config)")
		lambda         = flag.Float64("lambda", -1, "Demographic parity penalty weight (negative uses config)")
		tolerance      = flag.Float64("tolerance", 0, "Fairness gate tolerance in score points (0 uses config)")
		correlation    = flag.Float64("correlation", -1, "Group feature correlation in [0,1] (negative uses config)")
		exportPath     = flag.String("export", "", "Write the generated training split as CSV and exit")
		resumePath     = flag.String("resume", "", "Resume training from a checkpoint file")
		checkpointPath = flag.String("checkpoint", "train-checkpoint.json", "Where to write the checkpoint on interrupt")
		promote        = flag.Bool("promote", false, "Mark the trained version servable when the gate passes")
	)
	var groups groupFlag
	flag.Var(&groups, "group", "Group share as label:weight (repeatable, replaces configured groups)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	cfg.Logging.Apply()

	spec := cfg.Training
	if *samples > 0 {
		spec.Samples = *samples
	}
	if *evalSamples > 0 {
		spec.EvalSamples = *evalSamples
	}
	if *seed > 0 {
		spec.Seed = *seed
	}
	if *epochs > 0 {
		spec.Epochs = *epochs
	}
	if *batchSize > 0 {
		spec.BatchSize = *batchSize
	}
	if *learningRate > 0 {
		spec.LearningRate = *learningRate
	}
	if *lambda >= 0 {
		spec.Lambda = *lambda
	}
	if *tolerance > 0 {
		spec.Tolerance = *tolerance
	}
	if *correlation >= 0 {
		spec.Groups.Correlation = *correlation
	}
	if len(groups) > 0 {
		spec.Groups.Shares = groups
	}

	// A checkpoint pins the config and dataset identity so the resumed run
	// continues exactly where the interrupted one stopped.
	var cp *model.Checkpoint
	if *resumePath != "" {
		cp, err = model.LoadCheckpoint(*resumePath)
		if err != nil {
			logrus.Fatalf("load checkpoint: %v", err)
		}
		spec.TrainConfig = cp.Config
		spec.Samples = cp.DataCount
		spec.Groups = cp.Distribution
	}

	if err := spec.TrainConfig.Validate(); err != nil {
		logrus.Fatalf("training config: %v", err)
	}
	if err := spec.Groups.Validate(); err != nil {
		logrus.Fatalf("groups: %v", err)
	}

	if *exportPath != "" {
		ds, err := synth.Generate(spec.Samples, spec.Seed, spec.Groups)
		if err != nil {
			logrus.Fatalf("generate dataset: %v", err)
		}
		if err := synth.ExportCSV(*exportPath, ds); err != nil {
			logrus.Fatalf("export csv: %v", err)
		}
		logrus.WithFields(logrus.Fields{
			"path":    *exportPath,
			"samples": ds.Len(),
			"seed":    ds.Seed,
		}).Info("training split exported")
		return
	}

	storePath := cfg.Store.Path
	if *dbPath != "" {
		storePath = *dbPath
	}
	if dir := filepath.Dir(storePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logrus.Fatalf("create data directory: %v", err)
		}
	}
	db, err := store.Open(storePath, cfg.Store.Silent)
	if err != nil {
		logrus.Fatalf("open database: %v", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("close database")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var trainDS, evalDS synth.Dataset
	if cp != nil {
		trainDS, err = synth.Generate(cp.DataCount, cp.DataSeed, spec.Groups)
		if err == nil {
			evalDS, err = synth.Generate(spec.EvalSamples, cp.DataSeed+1, spec.Groups)
		}
	} else {
		trainDS, evalDS, err = synth.Pair(spec.Samples, spec.EvalSamples, spec.Seed, spec.Groups)
	}
	if err != nil {
		logrus.Fatalf("generate datasets: %v", err)
	}

	jobID := uuid.NewString()
	run := &store.TrainingRun{
		JobID:     jobID,
		Status:    store.RunRunning,
		Samples:   trainDS.Len(),
		StartedAt: time.Now().UTC(),
	}
	run.SetConfig(spec.TrainConfig)
	run.SetGroups(spec.Groups)
	if err := db.CreateTrainingRun(run); err != nil {
		logrus.Fatalf("create training run: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"job":     jobID,
		"samples": trainDS.Len(),
		"epochs":  spec.Epochs,
		"lambda":  spec.Lambda,
		"resumed": cp != nil,
	}).Info("training started")

	progress := func(m model.EpochMetrics) {
		if m.Epoch%25 != 0 && m.Epoch != spec.Epochs-1 {
			return
		}
		logrus.WithFields(logrus.Fields{
			"epoch":   m.Epoch,
			"rmse":    m.RMSE,
			"max_gap": m.MaxGap,
			"penalty": m.ParityPenalty,
		}).Info("epoch complete")
	}

	start := time.Now()
	var result model.TrainResult
	if cp != nil {
		result, err = model.Resume(ctx, cp, trainDS, progress)
	} else {
		result, err = model.Train(ctx, trainDS, spec.TrainConfig, progress)
	}
	if errors.Is(err, context.Canceled) {
		finishRun(db, run, store.RunCancelled, "", result.History, result.Checkpoint, "")
		if saveErr := result.Checkpoint.Save(*checkpointPath); saveErr != nil {
			logrus.Fatalf("save checkpoint: %v", saveErr)
		}
		logrus.WithFields(logrus.Fields{
			"job":        jobID,
			"checkpoint": *checkpointPath,
			"epoch":      result.Checkpoint.NextEpoch,
		}).Warn("training interrupted, resume with -resume")
		return
	}
	if err != nil {
		finishRun(db, run, store.RunFailed, err.Error(), result.History, nil, "")
		logrus.Fatalf("training failed: %v", err)
	}

	version := result.Version
	report, err := fairness.Evaluate(version, evalDS, spec.Tolerance)
	if err != nil {
		finishRun(db, run, store.RunFailed, err.Error(), result.History, nil, "")
		logrus.Fatalf("fairness evaluation: %v", err)
	}

	status := store.VersionCandidate
	if !report.Passed {
		status = store.VersionRejected
	} else if *promote {
		status = store.VersionServable
	}

	rec := &store.ModelVersion{}
	if err := rec.SetVersion(version); err != nil {
		finishRun(db, run, store.RunFailed, err.Error(), result.History, nil, "")
		logrus.Fatalf("encode model version: %v", err)
	}
	rec.Status = status
	if err := db.SaveModelVersion(rec); err != nil {
		finishRun(db, run, store.RunFailed, err.Error(), result.History, nil, "")
		logrus.Fatalf("save model version: %v", err)
	}

	gate := &store.FairnessReport{Version: version.ID}
	gate.SetReport(report)
	if err := db.SaveFairnessReport(gate); err != nil {
		finishRun(db, run, store.RunFailed, err.Error(), result.History, nil, "")
		logrus.Fatalf("save fairness report: %v", err)
	}

	finishRun(db, run, store.RunCompleted, "", result.History, nil, version.ID)

	labels := make([]string, 0, len(report.PerGroupMeanScore))
	for label := range report.PerGroupMeanScore {
		labels = append(labels, string(label))
	}
	sort.Strings(labels)
	for _, label := range labels {
		logrus.WithFields(logrus.Fields{
			"group":      label,
			"mean_score": fmt.Sprintf("%.1f", report.PerGroupMeanScore[synth.GroupLabel(label)]),
			"count":      report.GroupCounts[synth.GroupLabel(label)],
		}).Info("group outcome")
	}

	logrus.WithFields(logrus.Fields{
		"version":  version.ID,
		"status":   status,
		"rmse":     version.Final.RMSE,
		"max_gap":  report.MaxPairwiseGap,
		"passed":   report.Passed,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("training complete")

	if gateErr := report.Gate(); gateErr != nil {
		logrus.Fatalf("%v (stored as %s)", gateErr, store.VersionRejected)
	}
}

// finishRun records the terminal state of the run so it shows up in the
// server's run listing and, when cancelled with a checkpoint, can be resumed
// through the API as well.
func finishRun(db *store.Database, run *store.TrainingRun, status, cause string, history []model.EpochMetrics, cp *model.Checkpoint, version string) {
	now := time.Now().UTC()
	run.Status = status
	run.Error = cause
	run.ModelVersion = version
	run.FinishedAt = &now
	run.SetHistory(history)
	if err := run.SetCheckpoint(cp); err != nil {
		logrus.WithError(err).Warn("persist checkpoint")
	}
	if err := db.UpdateTrainingRun(run); err != nil {
		logrus.WithError(err).Warn("update training run")
	}
}

// groupFlag collects repeated -group label:weight pairs.
type groupFlag []synth.GroupShare

func (g *groupFlag) String() string {
	parts := make([]string, 0, len(*g))
	for _, s := range *g {
		parts = append(parts, fmt.Sprintf("%s:%g", s.Label, s.Weight))
	}
	return strings.Join(parts, ",")
}

func (g *groupFlag) Set(value string) error {
	label, weight, ok := strings.Cut(value, ":")
	if !ok {
		return fmt.Errorf("want label:weight, got %q", value)
	}
	w, err := strconv.ParseFloat(strings.TrimSpace(weight), 64)
	if err != nil {
		return fmt.Errorf("weight in %q: %v", value, err)
	}
	*g = append(*g, synth.GroupShare{
		Label:  synth.GroupLabel(strings.TrimSpace(label)),
		Weight: w,
	})
	return nil
}
