package upload

import (
	"context"
	"errors"
	"time"

	"github.com/bitrise-io/go-resumable-upload/checkpoint"
	"github.com/bitrise-io/go-utils/v2/log"
)

// Status describes an unfinished upload recorded in a checkpoint store.
type Status struct {
	TransactionID  string
	CompletedParts int
	BytesCompleted int64
	PartSize       int64
	FileSize       int64
	UpdatedAt      time.Time
}

// Inspect returns the status of the upload stored under key. The bool is false when there is none.
func Inspect(store checkpoint.Store, key string) (Status, bool, error) {
	cp, found, err := store.Get(key)
	if err != nil {
		return Status{}, false, &PersistenceError{Op: "load", Key: key, Err: err}
	}
	if !found {
		return Status{}, false, nil
	}

	status := Status{
		TransactionID:  cp.TransactionID,
		CompletedParts: len(cp.Receipts),
		PartSize:       cp.PartSize,
		FileSize:       cp.FileSize,
		UpdatedAt:      cp.UpdatedAt,
	}
	if cp.PartSize > 0 {
		status.BytesCompleted = int64(len(cp.Receipts)) * cp.PartSize
		if cp.FileSize > 0 && status.BytesCompleted > cp.FileSize {
			status.BytesCompleted = cp.FileSize
		}
	}
	return status, true, nil
}

// Discard cancels the transaction recorded for target and removes its checkpoint,
// so that no later Start can resume it. It reports whether there was anything to discard.
func Discard(ctx context.Context, target Target, backend Backend, store checkpoint.Store, logger log.Logger) (bool, error) {
	cp, found, err := store.Get(target.Key)
	if err != nil {
		return false, &PersistenceError{Op: "load", Key: target.Key, Err: err}
	}
	if !found {
		logger.Debugf("No checkpoint for %s", target.Key)
		return false, nil
	}

	logger.Infof("Discarding upload %s (%d parts uploaded)", cp.TransactionID, len(cp.Receipts))

	var errs []error
	if err := store.Delete(target.Key); err != nil {
		errs = append(errs, &PersistenceError{Op: "delete", Key: target.Key, Err: err})
	}
	if err := backend.AbortTransaction(ctx, cp.TransactionID, target); err != nil {
		errs = append(errs, &BackendError{Op: "abort transaction", Err: err})
	}
	return true, errors.Join(errs...)
}
