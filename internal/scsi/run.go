package scsi

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/tapecore/tapecore/internal/sense"
)

// DefaultTURBackoff is the pause between TEST UNIT READY polls.
const DefaultTURBackoff = 1 * time.Second

// DefaultOpenTimeout bounds TEST UNIT READY polling during device open.
const DefaultOpenTimeout = 200 * time.Second

// DefaultRuntimeRetries bounds TEST UNIT READY polling outside of open.
const DefaultRuntimeRetries = 60

// ErrTURTimeout is returned when TEST UNIT READY cannot clear within the
// bounded retry budget. scsi_run must never block indefinitely.
var ErrTURTimeout = errors.New("scsi: TEST UNIT READY did not clear within retry budget")

// DeviceIdent names the device class used for sense lookups (e.g. "tape",
// "changer", or a specific INQUIRY product id registered via
// sense.RegisterQuirk).
type DeviceIdent string

// WaitReady polls TEST UNIT READY until it returns Ok, a fatal sense
// action is seen, the transport errors, or retries are exhausted. It
// never blocks indefinitely: every iteration is bounded by ctx and by
// maxRetries.
func WaitReady(ctx context.Context, t Transport, ident DeviceIdent, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := t.Run(DirNone, TestUnitReady(), nil, 5*time.Second)
		if err != nil {
			return errors.Wrap(err, "scsi: TEST UNIT READY transport error")
		}
		switch res.Outcome {
		case Ok:
			return nil
		case Sense:
			sd := sense.Parse(res.SenseBuf)
			act := sense.Lookup(string(ident), sd.SenseKey, sd.ASC, sd.ASCQ)
			if act == sense.ActionAbort {
				return errors.Errorf("scsi: TEST UNIT READY aborted, sense key=%#x asc=%#x ascq=%#x", sd.SenseKey, sd.ASC, sd.ASCQ)
			}
			// RETRY, IGNORE, NO, and the changer-only actions all fall
			// through to the backoff-and-retry path below.
		case Busy, Check:
			// transient, retry after backoff
		case Error:
			return errors.New("scsi: transport-level error on TEST UNIT READY")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(DefaultTURBackoff):
		}
	}
	return ErrTURTimeout
}

// Run issues a single CDB, classifying the outcome. It never retries;
// callers requiring the TEST UNIT READY poll-before-issue contract call
// WaitReady first, and callers that already know the device is ready
// skip the poll.
func Run(ctx context.Context, t Transport, dir Direction, cdb []byte, data []byte, timeout time.Duration) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{Outcome: Error}, err
	}
	return t.Run(dir, cdb, data, timeout)
}
