package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitrise-io/go-resumable-upload/checkpoint"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// Option configures a Controller.
type Option func(*Controller)

// WithAccessPolicy sets the policy requested when a new transaction is initiated.
func WithAccessPolicy(policy AccessPolicy) Option {
	return func(c *Controller) {
		c.policy = policy
	}
}

// WithObserver registers the progress observer. A nil observer disables notifications.
func WithObserver(observer Observer) Option {
	return func(c *Controller) {
		if observer == nil {
			observer = nopObserver{}
		}
		c.observer = observer
	}
}

// WithClock overrides the time source used for checkpoint timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithPartListener registers fn to be called after every part whose receipt was persisted.
func WithPartListener(fn func(part PartSpec, took time.Duration)) Option {
	return func(c *Controller) {
		c.onPart = fn
	}
}

// Controller runs the multipart upload of one Target.
//
// Start is not reentrant, Interrupt and Abort may be called from any goroutine at any time.
// An Interrupt that arrives while no Start runs stops the next Start before it uploads anything.
// Progress notifications are delivered on the goroutine the backend reports progress on.
type Controller struct {
	target   Target
	backend  Backend
	store    checkpoint.Store
	logger   log.Logger
	observer Observer
	policy   AccessPolicy
	now      func() time.Time
	stats    *Stats
	onPart   func(part PartSpec, took time.Duration)

	mu      sync.Mutex
	running bool

	partSize         atomic.Int64
	interrupted      atomic.Bool
	aborted          atomic.Bool
	bytesTransferred atomic.Int64
}

type session struct {
	transactionID string
	receipts      []Receipt
	partSize      int64
	fileSize      int64
}

func (s *session) checkpoint(now time.Time) checkpoint.Checkpoint {
	receipts := make([]Receipt, len(s.receipts))
	copy(receipts, s.receipts)
	return checkpoint.Checkpoint{
		TransactionID: s.transactionID,
		Receipts:      receipts,
		PartSize:      s.partSize,
		FileSize:      s.fileSize,
		UpdatedAt:     now,
	}
}

// NewController ...
func NewController(target Target, backend Backend, store checkpoint.Store, logger log.Logger, opts ...Option) *Controller {
	c := &Controller{
		target:   target,
		backend:  backend,
		store:    store,
		logger:   logger,
		observer: nopObserver{},
		policy:   DefaultAccessPolicy,
		now:      time.Now,
		stats:    NewStats(),
	}
	c.partSize.Store(MinPartSize)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetPartSize sets the size of the parts of new transactions.
// Sizes below MinPartSize are rejected and leave the current size untouched.
func (c *Controller) SetPartSize(n int64) error {
	if n < MinPartSize {
		return &ConfigurationError{Err: fmt.Errorf("%w: %d bytes, minimum is %d bytes", ErrPartSizeTooSmall, n, MinPartSize)}
	}
	if c.isRunning() {
		return &ConfigurationError{Err: fmt.Errorf("set part size: %w", ErrAlreadyRunning)}
	}
	c.partSize.Store(n)
	return nil
}

// PartSize ...
func (c *Controller) PartSize() int64 {
	return c.partSize.Load()
}

// BytesTransferred returns the number of source bytes stored remotely so far, including resumed parts.
func (c *Controller) BytesTransferred() int64 {
	return c.bytesTransferred.Load()
}

// Stats returns the part timing statistics of the current or last run.
func (c *Controller) Stats() *Stats {
	return c.stats
}

// Interrupt stops the upload before the next part. The checkpoint is kept for a later resume.
func (c *Controller) Interrupt() {
	c.interrupted.Store(true)
}

// Abort stops the upload before the next part, cancels the remote transaction and removes the checkpoint.
// When no Start runs, the transaction recorded in the checkpoint is cancelled before Abort returns.
func (c *Controller) Abort() {
	c.mu.Lock()
	if c.running {
		c.aborted.Store(true)
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	ctx := context.Background()
	_ = c.discard(ctx)
	_, _ = c.release(ctx, "", &AbortedError{})
}

func (c *Controller) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Controller) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false
	}
	c.running = true
	return true
}

// release ends a run. An Abort that arrived after the last signal check of a failed or
// interrupted run still cancels the stored transaction.
func (c *Controller) release(ctx context.Context, location string, err error) (string, error) {
	for {
		c.mu.Lock()
		if !c.aborted.Swap(false) {
			c.interrupted.Store(false)
			c.running = false
			c.mu.Unlock()
			return location, err
		}
		c.mu.Unlock()

		if location != "" || IsAborted(err) {
			continue
		}
		err = &AbortedError{Err: c.discard(ctx)}
	}
}

func (c *Controller) discard(ctx context.Context) error {
	c.bytesTransferred.Store(0)
	_, err := Discard(context.WithoutCancel(ctx), c.target, c.backend, c.store, c.logger)
	if err != nil {
		c.logger.Warnf("Failed to discard upload of %s: %s", c.target.Key, err)
	}
	return err
}

// Start uploads the source, resuming from the stored checkpoint when there is one, and returns the
// location reported by the backend.
//
// When the object was stored but the checkpoint could not be removed afterwards, the location is
// returned together with a PersistenceError.
func (c *Controller) Start(ctx context.Context) (location string, err error) {
	if !c.acquire() {
		return "", ErrAlreadyRunning
	}
	defer func() {
		location, err = c.release(ctx, location, err)
	}()

	c.bytesTransferred.Store(0)
	c.stats.Reset()

	file, fileSize, err := openSource(c.target.SourcePath)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := file.Close(); err != nil {
			c.logger.Warnf("Failed to close %s: %s", c.target.SourcePath, err)
		}
	}()

	if c.interrupted.Load() {
		return "", c.interruptedBeforeStart()
	}

	s, err := c.openSession(ctx, fileSize)
	if err != nil {
		return "", err
	}

	parts := Parts(fileSize, s.partSize)
	for _, part := range parts[len(s.receipts):] {
		if err := c.checkSignals(ctx, s); err != nil {
			return "", err
		}
		if err := c.uploadPart(ctx, file, s, part, len(parts)); err != nil {
			return "", err
		}
	}

	return c.complete(ctx, s)
}

func openSource(pth string) (*os.File, int64, error) {
	info, err := os.Stat(pth)
	if err != nil {
		return nil, 0, &ConfigurationError{Err: fmt.Errorf("stat source: %w", err)}
	}
	if info.IsDir() {
		return nil, 0, &ConfigurationError{Err: fmt.Errorf("source is a directory: %s", pth)}
	}
	if info.Size() == 0 {
		return nil, 0, &ConfigurationError{Err: fmt.Errorf("%w: %s", ErrEmptySource, pth)}
	}

	file, err := os.Open(pth)
	if err != nil {
		return nil, 0, &ConfigurationError{Err: fmt.Errorf("open source: %w", err)}
	}
	return file, info.Size(), nil
}

func (c *Controller) interruptedBeforeStart() error {
	cp, _, err := c.store.Get(c.target.Key)
	if err != nil {
		return &PersistenceError{Op: "load", Key: c.target.Key, Err: err}
	}
	c.logger.Warnf("Upload interrupted before it started")
	return &InterruptedError{CompletedParts: len(cp.Receipts)}
}

func (c *Controller) openSession(ctx context.Context, fileSize int64) (*session, error) {
	key := c.target.Key
	partSize := c.partSize.Load()

	cp, found, err := c.store.Get(key)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Key: key, Err: err}
	}
	if found {
		return c.resumeSession(cp, fileSize, partSize)
	}

	c.logger.Infof("Initiating new upload of %s (%s) to %s/%s", c.target.SourcePath, units.HumanSizeWithPrecision(float64(fileSize), 3), c.target.Bucket, key)
	c.notify(IndeterminatePercent, fmt.Sprintf("Initiating upload of %s...", key))

	transactionID, err := c.backend.InitiateTransaction(ctx, c.target, c.policy)
	if err != nil {
		return nil, &BackendError{Op: "initiate transaction", Err: err}
	}
	c.logger.Debugf("Transaction ID: %s", transactionID)

	s := &session{
		transactionID: transactionID,
		receipts:      []Receipt{},
		partSize:      partSize,
		fileSize:      fileSize,
	}
	if err := c.persist(s); err != nil {
		// Without a checkpoint nothing could resume or abort this transaction later.
		if abortErr := c.backend.AbortTransaction(context.WithoutCancel(ctx), transactionID, c.target); abortErr != nil {
			c.logger.Warnf("Failed to abort transaction %s: %s", transactionID, abortErr)
		}
		return nil, err
	}

	c.notify(0, c.uploadingMessage())
	return s, nil
}

func (c *Controller) resumeSession(cp checkpoint.Checkpoint, fileSize, partSize int64) (*session, error) {
	if cp.FileSize > 0 && cp.FileSize != fileSize {
		return nil, &ConfigurationError{Err: fmt.Errorf("%w: checkpoint has %d bytes, source has %d bytes", ErrSourceChanged, cp.FileSize, fileSize)}
	}
	if cp.PartSize > 0 && cp.PartSize != partSize {
		c.logger.Warnf("Checkpoint was written with %s parts, resuming with the same part size instead of %s",
			units.HumanSizeWithPrecision(float64(cp.PartSize), 3), units.HumanSizeWithPrecision(float64(partSize), 3))
		partSize = cp.PartSize
	}
	if len(cp.Receipts) > PartCount(fileSize, partSize) {
		return nil, &ConfigurationError{Err: fmt.Errorf("%w: checkpoint has %d parts, source has %d", ErrSourceChanged, len(cp.Receipts), PartCount(fileSize, partSize))}
	}

	receipts := make([]Receipt, len(cp.Receipts))
	copy(receipts, cp.Receipts)

	startPart := len(receipts) + 1
	position := int64(startPart-1) * partSize
	if position > fileSize {
		position = fileSize
	}
	c.bytesTransferred.Store(position)

	c.logger.Infof("Resuming upload %s at part %d (%s of %s already uploaded)", cp.TransactionID, startPart,
		units.HumanSizeWithPrecision(float64(position), 3), units.HumanSizeWithPrecision(float64(fileSize), 3))
	c.notify(Percent(position, fileSize), c.uploadingMessage())

	return &session{
		transactionID: cp.TransactionID,
		receipts:      receipts,
		partSize:      partSize,
		fileSize:      fileSize,
	}, nil
}

func (c *Controller) uploadPart(ctx context.Context, file io.ReaderAt, s *session, part PartSpec, total int) error {
	c.logger.Debugf("Uploading part %d/%d (%s) [finished=%d] [avg=%v]",
		part.Number, total, units.HumanSizeWithPrecision(float64(part.Length), 3),
		c.stats.FinishedCount(), c.stats.Average().Round(time.Second))

	start := time.Now()
	body := io.NewSectionReader(file, part.Offset, part.Length)
	receipt, err := c.backend.UploadPart(ctx, s.transactionID, c.target, part, body, c.partProgress(s, part))

	// A receipt of a part that was in flight when a signal arrived is never persisted.
	if sigErr := c.checkSignals(ctx, s); sigErr != nil {
		if err != nil {
			c.logger.Debugf("Part %d failed after the upload was stopped: %s", part.Number, err)
		}
		return sigErr
	}
	if err != nil {
		return &BackendError{Op: fmt.Sprintf("upload part %d", part.Number), Err: err}
	}

	if receipt.PartNumber == 0 {
		receipt.PartNumber = part.Number
	}
	if receipt.PartNumber != part.Number {
		return &BackendError{Op: fmt.Sprintf("upload part %d", part.Number), Err: fmt.Errorf("receipt is for part %d", receipt.PartNumber)}
	}

	s.receipts = append(s.receipts, receipt)
	if err := c.persist(s); err != nil {
		s.receipts = s.receipts[:len(s.receipts)-1]
		return err
	}

	took := time.Since(start)
	c.stats.Record(part, took)
	c.bytesTransferred.Store(part.End())
	c.notify(Percent(part.End(), s.fileSize), c.uploadingMessage())

	c.logger.Infof("Part %d/%d uploaded in %v (%s/s) [avg=%v]", part.Number, total, took.Round(time.Millisecond),
		units.HumanSizeWithPrecision(float64(Throughput(part.Length, took)), 3), c.stats.Average().Round(time.Millisecond))
	if c.onPart != nil {
		c.onPart(part, took)
	}
	return nil
}

func (c *Controller) partProgress(s *session, part PartSpec) ProgressFunc {
	return func(delta int64) {
		if c.interrupted.Load() || c.aborted.Load() {
			return
		}
		transferred := c.bytesTransferred.Add(delta)
		if transferred > part.End() {
			transferred = part.End()
		}
		c.notify(Percent(transferred, s.fileSize), c.uploadingMessage())
	}
}

func (c *Controller) complete(ctx context.Context, s *session) (string, error) {
	if err := c.checkSignals(ctx, s); err != nil {
		return "", err
	}

	key := c.target.Key
	c.logger.Infof("Completing upload %s with %d parts", s.transactionID, len(s.receipts))
	c.notify(IndeterminatePercent, fmt.Sprintf("Completing upload of %s...", key))

	receipts := make([]Receipt, len(s.receipts))
	copy(receipts, s.receipts)
	sort.Slice(receipts, func(i, j int) bool {
		return receipts[i].PartNumber < receipts[j].PartNumber
	})

	location, err := c.backend.CompleteTransaction(ctx, s.transactionID, c.target, receipts)
	if err != nil {
		return "", &BackendError{Op: "complete transaction", Err: err}
	}
	c.bytesTransferred.Store(0)

	if err := c.store.Delete(key); err != nil {
		return location, &PersistenceError{Op: "delete", Key: key, Err: err}
	}

	c.logger.Donef("Uploaded %s to %s", c.target.SourcePath, location)
	return location, nil
}

func (c *Controller) checkSignals(ctx context.Context, s *session) error {
	if c.aborted.Load() {
		return c.abortSession(ctx, s)
	}
	if c.interrupted.Load() {
		c.logger.Warnf("Upload interrupted, %d uploaded parts are kept for resume", len(s.receipts))
		return &InterruptedError{CompletedParts: len(s.receipts)}
	}
	if err := ctx.Err(); err != nil {
		c.logger.Warnf("Upload cancelled, %d uploaded parts are kept for resume", len(s.receipts))
		return &InterruptedError{CompletedParts: len(s.receipts), Err: err}
	}
	return nil
}

func (c *Controller) abortSession(ctx context.Context, s *session) error {
	c.logger.Warnf("Aborting upload %s", s.transactionID)

	var errs []error
	if err := c.store.Delete(c.target.Key); err != nil {
		errs = append(errs, &PersistenceError{Op: "delete", Key: c.target.Key, Err: err})
	}
	if err := c.backend.AbortTransaction(context.WithoutCancel(ctx), s.transactionID, c.target); err != nil {
		errs = append(errs, &BackendError{Op: "abort transaction", Err: err})
	}
	c.bytesTransferred.Store(0)

	return &AbortedError{Err: errors.Join(errs...)}
}

func (c *Controller) persist(s *session) error {
	if err := c.store.Put(c.target.Key, s.checkpoint(c.now())); err != nil {
		return &PersistenceError{Op: "save", Key: c.target.Key, Err: err}
	}
	return nil
}

func (c *Controller) notify(percent int, message string) {
	c.observer.OnProgress(percent, message)
}

func (c *Controller) uploadingMessage() string {
	return fmt.Sprintf("Uploading %s...", c.target.Key)
}
