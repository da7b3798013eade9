// Package errorlog records internal failures to the log and, best effort,
// to the app_errors table. Recording never fails: a recorder that cannot
// reach the database still logs.
package errorlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/carlsuburbmates/dogtriage/internal/storage"
)

type errorStore interface {
	SaveAppError(storage.AppError) error
}

// Recorder writes structured failure records.
type Recorder struct {
	store  errorStore
	logger *slog.Logger
}

// NewRecorder builds a recorder. store may be nil, in which case failures
// are only logged.
func NewRecorder(store errorStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Report logs the failure and stores an app_errors row. It returns the
// record id so callers can reference it from their own records.
func (r *Recorder) Report(ctx context.Context, route, message string, err error) string {
	id := uuid.NewString()
	r.logger.Error(message, "route", route, "error_id", id, "error", err)

	if r.store == nil {
		return id
	}

	detail := "{}"
	if err != nil {
		if b, merr := json.Marshal(map[string]string{"error": err.Error()}); merr == nil {
			detail = string(b)
		}
	}
	rec := storage.AppError{
		ID:        id,
		Route:     route,
		Message:   message,
		Detail:    detail,
		Level:     "error",
		CreatedAt: time.Now().UTC(),
	}
	if serr := r.store.SaveAppError(rec); serr != nil {
		r.logger.Error("saving app error record", "error_id", id, "error", serr)
	}
	return id
}
