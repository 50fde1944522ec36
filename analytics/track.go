// Package analytics reports upload lifecycle events.
package analytics

import (
	"errors"
	"time"

	"github.com/bitrise-io/go-resumable-upload/upload"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/google/uuid"
)

type TrackerFactory func(...analytics.Properties) analytics.Tracker

const (
	StepExecutionIDEnvKey = "BITRISE_STEP_EXECUTION_ID"
	StepExecutionID       = "step_execution_id"
)

const (
	eventStarted      = "upload_started"
	eventPartUploaded = "upload_part_uploaded"
	eventCompleted    = "upload_completed"
	eventInterrupted  = "upload_interrupted"
	eventAborted      = "upload_aborted"
	eventFailed       = "upload_failed"
)

// UploadTracker enqueues the events of one upload run. Every event carries the
// session ID of the run.
type UploadTracker struct {
	tracker   analytics.Tracker
	now       func() time.Time
	startedAt time.Time
	fileSize  int64
}

func NewUploadTracker(repository env.Repository, trackerFactory TrackerFactory, backend string) *UploadTracker {
	p := analytics.Properties{
		"session_id": uuid.NewString(),
		"backend":    backend,
		"build_slug": repository.Get("BITRISE_BUILD_SLUG"),
		"app_slug":   repository.Get("BITRISE_APP_SLUG"),
	}
	if stepExecutionID := repository.Get(StepExecutionIDEnvKey); stepExecutionID != "" {
		p[StepExecutionID] = stepExecutionID
	}
	return &UploadTracker{
		tracker: trackerFactory(p),
		now:     time.Now,
	}
}

func NewDefaultUploadTracker(repository env.Repository, backend string, logger log.Logger) *UploadTracker {
	return NewUploadTracker(repository, func(p ...analytics.Properties) analytics.Tracker {
		return analytics.NewDefaultTracker(logger, p...)
	}, backend)
}

// Started ...
func (t *UploadTracker) Started(fileSize, partSize int64, resumed bool) {
	t.startedAt = t.now()
	t.fileSize = fileSize
	t.tracker.Enqueue(eventStarted, analytics.Properties{
		"file_size_bytes": fileSize,
		"part_size_bytes": partSize,
		"part_count":      upload.PartCount(fileSize, partSize),
		"resumed":         resumed,
	})
}

// PartUploaded matches the signature of upload.WithPartListener.
func (t *UploadTracker) PartUploaded(part upload.PartSpec, took time.Duration) {
	t.tracker.Enqueue(eventPartUploaded, analytics.Properties{
		"part_number":       part.Number,
		"part_size_bytes":   part.Length,
		"upload_time_ms":    took.Milliseconds(),
		"throughput_bps":    upload.Throughput(part.Length, took),
		"file_offset_bytes": part.Offset,
	})
}

// Finished enqueues the event matching the outcome of upload.Controller.Start.
func (t *UploadTracker) Finished(err error, stats *upload.Stats) {
	properties := analytics.Properties{
		"duration_s":      t.now().Sub(t.startedAt).Truncate(time.Second).Seconds(),
		"file_size_bytes": t.fileSize,
	}
	if stats != nil {
		summary := stats.Summary()
		properties["parts_uploaded"] = summary.Parts
		properties["bytes_uploaded"] = summary.Bytes
		properties["avg_part_time_ms"] = summary.Average.Milliseconds()
		properties["throughput_bps"] = summary.Throughput
	}

	var interrupted *upload.InterruptedError
	var aborted *upload.AbortedError
	switch {
	case err == nil:
		t.tracker.Enqueue(eventCompleted, properties)
	case errors.As(err, &interrupted):
		properties["completed_parts"] = interrupted.CompletedParts
		t.tracker.Enqueue(eventInterrupted, properties)
	case errors.As(err, &aborted):
		t.tracker.Enqueue(eventAborted, properties)
	default:
		properties["error_kind"] = errorKind(err)
		properties["error"] = err.Error()
		t.tracker.Enqueue(eventFailed, properties)
	}
}

// Wait blocks until the queued events are sent.
func (t *UploadTracker) Wait() {
	t.tracker.Wait()
}

func errorKind(err error) string {
	var configErr *upload.ConfigurationError
	var backendErr *upload.BackendError
	var persistenceErr *upload.PersistenceError
	switch {
	case errors.As(err, &configErr):
		return "configuration"
	case errors.As(err, &backendErr):
		return "backend"
	case errors.As(err, &persistenceErr):
		return "persistence"
	default:
		return "other"
	}
}
