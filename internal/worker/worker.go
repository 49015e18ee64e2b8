// Package worker drives one pass of the stats pipeline: delegate the query
// to the engine (production mode), fetch the results table and materialize
// the stats artifact. Each process runs exactly one pass.
package worker

import (
	"context"
	"errors"

	"tally/internal/engine"
	"tally/internal/params"
	"tally/internal/stats"
	"tally/internal/store"
	"tally/internal/uploader"
	"tally/internal/util"

	"github.com/google/uuid"
)

// Exit codes of the worker process.
const (
	ExitOK          = 0
	ExitParamError  = 1
	ExitQueryFailed = 2
	ExitRunError    = 3
)

// ExitCodeFor maps a pass's terminal error to the container exit code. It
// sees through wrapped errors, so callers may add context freely.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	var perr *params.Error
	if errors.As(err, &perr) {
		return ExitParamError
	}
	var eerr *engine.ExecutionError
	if errors.As(err, &eerr) {
		return ExitQueryFailed
	}
	return ExitRunError
}

// Worker executes a single pass over resolved parameters.
type Worker struct {
	params   params.Params
	engine   engine.Client
	writer   *stats.Writer
	uploader uploader.Uploader
	runID    string
}

// New constructs a Worker. The engine client is only called in production
// mode; the uploader may be a NoopUploader.
func New(p params.Params, eng engine.Client, up uploader.Uploader) *Worker {
	runID := uuid.New().String()
	if v7, err := uuid.NewV7(); err == nil {
		runID = v7.String()
	}
	return &Worker{
		params:   p,
		engine:   eng,
		writer:   stats.New(p.StatsPath),
		uploader: up,
		runID:    runID,
	}
}

// RunID identifies this pass in logs and upload keys.
func (w *Worker) RunID() string {
	return w.runID
}

// Run walks the pipeline once and returns the first failure. The artifact
// is written for every completed pass, including passes with zero rows.
func (w *Worker) Run(ctx context.Context) error {
	util.Infof("worker start run=%s mode=%s store=%s", w.runID, w.params.Mode, w.params.DBPath)
	if w.params.IsDev() {
		util.Infof("running in development mode, using local store %s", w.params.DBPath)
	} else {
		if err := w.executeQuery(ctx); err != nil {
			return err
		}
	}
	if err := w.processResults(ctx); err != nil {
		return err
	}
	util.Infof("worker done run=%s", w.runID)
	return nil
}

func (w *Worker) executeQuery(ctx context.Context) error {
	util.Infof("executing query: %s", w.params.Query)
	out, err := w.engine.Execute(ctx, engine.Request{
		Query:         w.params.Query,
		Signature:     w.params.QuerySignature,
		DatabasePath:  w.params.DBPath,
		ComputeJobID:  w.params.ComputeJobID,
		DataRefinerID: w.params.DataRefinerID,
		Parameters:    w.params.QueryParams,
	})
	if err != nil {
		util.Errorf("query execution failed: %v", err)
		return &engine.ExecutionError{Err: err}
	}
	if !out.Success {
		util.Errorf("query execution failed: %s", out.Error)
		return &engine.ExecutionError{Message: out.Error}
	}
	util.Infof("query executed successfully, processing results from %s", w.params.DBPath)
	return nil
}

func (w *Worker) processResults(ctx context.Context) error {
	rows, err := store.FetchResults(ctx, w.params.DBPath)
	if err != nil {
		util.Errorf("fetch results failed: %v", err)
		return err
	}
	if len(rows) > 0 {
		util.Infof("found %d row(s) in the results table", len(rows))
	} else {
		util.Infof("no rows in the results table")
	}
	if err := w.writer.Write(rows); err != nil {
		util.Errorf("write stats artifact failed: %v", err)
		return err
	}
	util.Infof("stats saved to %s", w.params.StatsPath)

	files := []string{w.params.StatsPath}
	if w.params.Artifact.Compress {
		sidecar, err := w.writer.WriteCompressed()
		if err != nil {
			util.Warnf("compress artifact failed: %v", err)
		} else {
			files = append(files, sidecar)
		}
	}
	if w.uploader.Enabled() {
		location, err := w.uploader.UploadFiles(ctx, w.runID, files)
		if err != nil {
			util.Warnf("artifact upload failed: %v", err)
		} else {
			util.Infof("artifact uploaded to %s", location)
		}
	}
	return nil
}
