package worker

import (
	"context"
	"fmt"
	"log/slog"

	"ricorrenze/internal/amqp"
	"ricorrenze/internal/sheets"
	"ricorrenze/internal/storage"
)

// LedgerWorker mirrors materialized instances to an external ledger. It
// re-reads the row from storage instead of trusting message contents, so a
// replayed or stale message cannot write stale data.
type LedgerWorker struct {
	storage *storage.SQLiteRepository
	mirror  sheets.LedgerMirror
}

func NewLedgerWorker(storage *storage.SQLiteRepository, mirror sheets.LedgerMirror) *LedgerWorker {
	return &LedgerWorker{
		storage: storage,
		mirror:  mirror,
	}
}

// HandleInstanceCreated processes a single instance-created message.
func (w *LedgerWorker) HandleInstanceCreated(ctx context.Context, msg *amqp.InstanceCreatedMessage) error {
	slog.InfoContext(ctx, "Processing instance-created message",
		"instance_id", msg.InstanceID,
		"series_id", msg.SeriesID,
		"kind", msg.Kind)

	instance, err := w.storage.GetInstance(ctx, msg.Kind, msg.InstanceID)
	if err != nil {
		return fmt.Errorf("get instance from storage: %w", err)
	}

	rowRef, err := w.mirror.AppendInstance(ctx, instance)
	if err != nil {
		return fmt.Errorf("append instance to ledger mirror: %w", err)
	}

	slog.InfoContext(ctx, "Mirrored instance to ledger",
		"instance_id", msg.InstanceID,
		"kind", msg.Kind,
		"row_ref", rowRef)

	return nil
}

// Run consumes instance-created messages until the context ends.
func (w *LedgerWorker) Run(ctx context.Context, client *amqp.Client) error {
	return client.ConsumeInstanceCreated(ctx, func(msg *amqp.InstanceCreatedMessage) error {
		return w.HandleInstanceCreated(ctx, msg)
	})
}
