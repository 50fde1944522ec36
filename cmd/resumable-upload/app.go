package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bitrise-io/go-resumable-upload/analytics"
	"github.com/bitrise-io/go-resumable-upload/backend/awss3"
	"github.com/bitrise-io/go-resumable-upload/backend/httpapi"
	"github.com/bitrise-io/go-resumable-upload/backend/minio"
	"github.com/bitrise-io/go-resumable-upload/backend/storj"
	"github.com/bitrise-io/go-resumable-upload/broadcast"
	"github.com/bitrise-io/go-resumable-upload/checkpoint"
	"github.com/bitrise-io/go-resumable-upload/config"
	"github.com/bitrise-io/go-resumable-upload/objectkey"
	"github.com/bitrise-io/go-resumable-upload/source"
	"github.com/bitrise-io/go-resumable-upload/upload"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

type app struct {
	cfg     config.Config
	envRepo env.Repository
	logger  log.Logger
	stdout  io.Writer
}

// stagedSource is the local file that is uploaded, and how to clean it up once it is no longer needed for a resume.
type stagedSource struct {
	src        string
	uploadPath string
	resolver   source.Resolver
	compressor *source.Compressor
}

func (s stagedSource) release(logger log.Logger) {
	if s.compressor != nil {
		if err := s.compressor.Release(s.uploadPath); err != nil {
			logger.Warnf("Failed to remove compressed source: %s", err)
		}
	}
	if err := s.resolver.Release(s.src); err != nil {
		logger.Warnf("Failed to remove downloaded source: %s", err)
	}
}

func (a app) upload(ctx context.Context, src string) error {
	target, staged, err := a.prepareTarget(ctx, src)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	backend, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown(backend)

	partSize, err := a.cfg.PartSizeBytes()
	if err != nil {
		return err
	}
	policy, err := a.cfg.Policy()
	if err != nil {
		return err
	}

	observer := broadcast.NewObserver(target.Key, a.sink(), a.logger)
	opts := []upload.Option{upload.WithAccessPolicy(policy), upload.WithObserver(observer)}
	var tracker *analytics.UploadTracker
	if a.cfg.Analytics {
		tracker = analytics.NewDefaultUploadTracker(a.envRepo, a.cfg.Backend, a.logger)
		opts = append(opts, upload.WithPartListener(tracker.PartUploaded))
	}

	controller := upload.NewController(target, backend, store, a.logger, opts...)
	if err := controller.SetPartSize(partSize); err != nil {
		return err
	}

	status, resumed, err := upload.Inspect(store, target.Key)
	if err != nil {
		return err
	}
	if resumed {
		a.logger.Infof("Continuing upload of %s: %d parts done", target.Key, status.CompletedParts)
	}
	if tracker != nil {
		fileSize := int64(0)
		if info, err := os.Stat(target.SourcePath); err == nil {
			fileSize = info.Size()
		}
		tracker.Started(fileSize, partSize, resumed)
	}

	stop := interruptOnSignal(controller, a.logger)
	location, err := controller.Start(ctx)
	stop()
	err = settle(location, err, a.logger)

	observer.Finish(location, err)
	if tracker != nil {
		tracker.Finished(err, controller.Stats())
		tracker.Wait()
	}

	// An interrupted or failed upload resumes from the same staged bytes.
	if err == nil || upload.IsAborted(err) {
		staged.release(a.logger)
	}
	if err != nil {
		return err
	}

	a.logger.Donef("Uploaded %s to %s", src, location)
	return nil
}

func (a app) abort(ctx context.Context, src string) error {
	target, staged, err := a.prepareTarget(ctx, src)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	backend, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown(backend)

	discarded, err := upload.Discard(ctx, target, backend, store, a.logger)
	if err != nil {
		return err
	}
	staged.release(a.logger)

	if !discarded {
		a.logger.Printf("No unfinished upload of %s", src)
		return nil
	}
	a.logger.Donef("Upload of %s aborted", src)
	return nil
}

func (a app) status(ctx context.Context, src string) error {
	target, _, err := a.prepareTarget(ctx, src)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	status, found, err := upload.Inspect(store, target.Key)
	if err != nil {
		return err
	}
	if !found {
		a.logger.Printf("No unfinished upload of %s", src)
		return nil
	}

	a.logger.Printf("Key: %s", target.Key)
	a.logger.Printf("Transaction: %s", status.TransactionID)
	a.logger.Printf("Parts done: %d", status.CompletedParts)
	a.logger.Printf("Uploaded: %s of %s", humanSize(status.BytesCompleted), humanSize(status.FileSize))
	a.logger.Printf("Part size: %s", humanSize(status.PartSize))
	if !status.UpdatedAt.IsZero() {
		a.logger.Printf("Last update: %s", status.UpdatedAt.Local().Format(time.RFC3339))
	}
	return nil
}

// settle treats an upload whose object was stored as successful, even when its checkpoint could not be removed.
func settle(location string, err error, logger log.Logger) error {
	if err == nil || location == "" {
		return err
	}
	logger.Warnf("Upload finished, but its checkpoint was kept: %s", err)
	logger.Warnf("Run the abort command with the same source to remove it.")
	return nil
}

func humanSize(n int64) string {
	return units.HumanSizeWithPrecision(float64(n), 3)
}

func (a app) prepareTarget(ctx context.Context, src string) (upload.Target, stagedSource, error) {
	resolver := source.NewResolver(a.cfg.StagingDir, source.NewHTTPDownloader(a.logger), a.logger)
	localPath, err := resolver.LocalPath(ctx, src)
	if err != nil {
		return upload.Target{}, stagedSource{}, err
	}
	staged := stagedSource{src: src, uploadPath: localPath, resolver: resolver}

	key, err := objectkey.NewModel(a.envRepo, a.logger).Evaluate(a.cfg.KeyTemplate, localPath)
	if err != nil {
		return upload.Target{}, stagedSource{}, fmt.Errorf("evaluate key template: %w", err)
	}

	if a.cfg.Compress {
		compressor := source.NewCompressor(a.cfg.StagingDir, a.cfg.CompressionLevel, a.logger)
		compressed, err := compressor.Compress(localPath)
		if err != nil {
			return upload.Target{}, stagedSource{}, err
		}
		staged.compressor = &compressor
		staged.uploadPath = compressed
		key += ".zst"
	}
	a.logger.Debugf("Object key: %s", key)

	return upload.Target{Bucket: a.cfg.Bucket, Key: key, SourcePath: staged.uploadPath}, staged, nil
}

func (a app) openStore() (checkpoint.Store, func(), error) {
	var store checkpoint.Store
	closeStore := func() {}

	switch a.cfg.Store {
	case "sqlite":
		if err := os.MkdirAll(a.cfg.StateDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("create state directory: %w", err)
		}
		sqliteStore, err := checkpoint.OpenSQLiteStore(filepath.Join(a.cfg.StateDir, "checkpoints.db"))
		if err != nil {
			return nil, nil, err
		}
		store = sqliteStore
		closeStore = func() {
			if err := sqliteStore.Close(); err != nil {
				a.logger.Warnf("Failed to close checkpoint database: %s", err)
			}
		}
	default:
		fileStore, err := checkpoint.NewFileStore(filepath.Join(a.cfg.StateDir, "checkpoints"))
		if err != nil {
			return nil, nil, err
		}
		store = fileStore
	}

	syncStore, err := checkpoint.NewSyncStore(store)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return syncStore, closeStore, nil
}

func (a app) openBackend(ctx context.Context) (upload.Backend, error) {
	switch a.cfg.Backend {
	case "http":
		return httpapi.New(httpapi.Params{APIBaseURL: a.cfg.APIBaseURL, Token: a.cfg.APIToken}, a.logger)
	case "minio":
		return minio.New(minio.Params{
			Endpoint:        a.cfg.S3Endpoint,
			Region:          a.cfg.S3Region,
			AccessKeyID:     a.cfg.S3AccessKeyID,
			SecretAccessKey: a.cfg.S3SecretAccessKey,
			UsePathStyle:    a.cfg.S3UsePathStyle,
		}, a.logger)
	case "storj":
		return storj.New(ctx, storj.Params{AccessGrant: a.cfg.StorjAccessGrant, EnsureBucket: a.cfg.StorjEnsureBucket}, a.logger)
	default:
		return awss3.New(ctx, awss3.Params{
			Bucket:          a.cfg.Bucket,
			Region:          a.cfg.S3Region,
			AccessKeyID:     a.cfg.S3AccessKeyID,
			SecretAccessKey: a.cfg.S3SecretAccessKey,
			Endpoint:        a.cfg.S3Endpoint,
			UsePathStyle:    a.cfg.S3UsePathStyle,
		}, a.logger, awss3.WithRetries(a.cfg.S3Retries, 3*time.Second))
	}
}

func (a app) shutdown(backend upload.Backend) {
	if err := backend.Shutdown(); err != nil {
		a.logger.Warnf("Failed to shut down backend: %s", err)
	}
}

func (a app) sink() broadcast.Sink {
	if a.cfg.Progress == "json" {
		return broadcast.NewJSONLinesSink(a.stdout)
	}
	return broadcast.NewLogSink(a.logger)
}

// interruptOnSignal interrupts the controller on SIGINT or SIGTERM. The returned func stops listening.
func interruptOnSignal(controller *upload.Controller, logger log.Logger) func() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-signals:
			logger.Warnf("Received %s, stopping after the current part", sig)
			controller.Interrupt()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(signals)
		close(done)
	}
}
