// Package jobs runs backorder notifications on asynq.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"caraudiopos/backend/internal/domain"
	"caraudiopos/backend/internal/inventory"
	"caraudiopos/backend/internal/store"
)

const (
	QueueDefault = "default"
	// TaskBackorderNotify tells the customer that a backorder is ready.
	TaskBackorderNotify = "backorder:notify"
)

type BackorderNotifyPayload struct {
	BackorderID string `json:"backorder_id"`
}

func NewBackorderNotifyTask(backorderID string) (*asynq.Task, error) {
	data, err := json.Marshal(BackorderNotifyPayload{BackorderID: backorderID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBackorderNotify, data), nil
}

// Marker moves a backorder to notified.
type Marker interface {
	MarkNotified(ctx context.Context, backorderID string) (domain.Backorder, error)
}

// JobRecorder counts processed jobs.
type JobRecorder interface {
	NotifyJob(ok bool)
}

type NotifyHandler struct {
	marker   Marker
	recorder JobRecorder
	logger   zerolog.Logger
}

func NewNotifyHandler(marker Marker, recorder JobRecorder, logger zerolog.Logger) *NotifyHandler {
	return &NotifyHandler{marker: marker, recorder: recorder, logger: logger}
}

// ProcessTask implements asynq.Handler. Unknown or already closed backorders
// are dropped without retry.
func (h *NotifyHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload BackorderNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.BackorderID == "" {
		h.record(false)
		return fmt.Errorf("decode %s payload: %w", TaskBackorderNotify, asynq.SkipRetry)
	}

	backorder, err := h.marker.MarkNotified(ctx, payload.BackorderID)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, inventory.ErrInvalidTransition):
		h.record(false)
		h.logger.Warn().Err(err).Str("backorder_id", payload.BackorderID).Msg("backorder notification dropped")
		return fmt.Errorf("backorder %s: %v: %w", payload.BackorderID, err, asynq.SkipRetry)
	case err != nil:
		h.record(false)
		return err
	}

	h.record(true)
	h.logger.Info().
		Str("backorder_id", backorder.ID).
		Str("order_id", backorder.OrderID).
		Str("product_id", backorder.ProductID).
		Msg("backorder customer notified")
	return nil
}

func (h *NotifyHandler) record(ok bool) {
	if h.recorder != nil {
		h.recorder.NotifyJob(ok)
	}
}
