// Package audit appends license actions to the license_logs table.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/licensegate/pkg/models"
)

const defaultWriteTimeout = 3 * time.Second

// Recorder appends an action to the audit trail. It has no error return:
// a failed write must never fail the operation being audited.
type Recorder interface {
	Record(ctx context.Context, licenseKey, action, details string)
}

// LogWriter is the persistence capability the StoreRecorder needs.
// store.Store satisfies it.
type LogWriter interface {
	AppendLog(ctx context.Context, entry *models.ActionLog) error
}

// StoreRecorder writes audit entries through a LogWriter. Writes are detached
// from the caller's cancellation and bounded by their own timeout.
type StoreRecorder struct {
	w       LogWriter
	timeout time.Duration
	now     func() time.Time
}

// NewStoreRecorder creates a StoreRecorder. A non-positive timeout selects the default.
func NewStoreRecorder(w LogWriter, timeout time.Duration) *StoreRecorder {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &StoreRecorder{w: w, timeout: timeout, now: time.Now}
}

func (r *StoreRecorder) Record(ctx context.Context, licenseKey, action, details string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	entry := &models.ActionLog{
		ID:         uuid.New(),
		LicenseKey: licenseKey,
		Action:     action,
		Details:    details,
		Timestamp:  r.now().UTC(),
	}
	if err := r.w.AppendLog(ctx, entry); err != nil {
		slog.Warn("audit log write failed",
			"license_key", licenseKey,
			"action", action,
			"error", err,
		)
	}
}

// Nop discards every record.
type Nop struct{}

func (Nop) Record(context.Context, string, string, string) {}

var (
	_ Recorder = (*StoreRecorder)(nil)
	_ Recorder = Nop{}
)
