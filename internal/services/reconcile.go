package services

import (
	"context"
	"fmt"

	"expensegrid/internal/amqp"
	"expensegrid/internal/core"
	"expensegrid/internal/log"
	"expensegrid/internal/storage"
)

// Reconcile saves a month grid in one atomic step: ids in deletedIDs are
// removed (missing ids are ignored), Pending rows are created and Identified
// rows are updated. Every row is validated before anything is written, and
// a failure leaves the store untouched.
//
// The result holds the persisted rows in input order, with the local key of
// each Pending row echoed back.
func (s *ExpenseService) Reconcile(ctx context.Context, rows []core.ExpenseInput, deletedIDs []int64) ([]core.SavedExpense, error) {
	logger := s.logger.WithComponent(log.ComponentReconcile)

	batch, err := s.plan(ctx, rows, deletedIDs)
	if err != nil {
		logger.WarnContext(ctx, "Bulk save rejected",
			log.NewFields().WithOperation(log.OpReconcile).WithError(err).ToSlice()...)
		return nil, err
	}
	if batch.Empty() {
		return []core.SavedExpense{}, nil
	}

	result, err := s.store.Reconcile(ctx, batch)
	if err != nil {
		if core.IsNotFound(err) {
			logger.WarnContext(ctx, "Bulk save rolled back",
				log.NewFields().WithOperation(log.OpReconcile).WithError(err).ToSlice()...)
			return nil, err
		}
		return nil, s.persistence(ctx, "bulk save", err)
	}

	logger.InfoContext(ctx, "Bulk save applied",
		log.FieldOperation, log.OpReconcile,
		log.FieldSaved, len(result.Saved),
		log.FieldDeleted, len(result.Deleted))

	s.publish(ctx, amqp.ReasonReconcile, affectedPeriods(result)...)
	return result.Saved, nil
}

// plan validates every row and decides create or update from its key.
func (s *ExpenseService) plan(ctx context.Context, rows []core.ExpenseInput, deletedIDs []int64) (storage.Batch, error) {
	batch := storage.Batch{
		Rows:    make([]storage.PlannedRow, 0, len(rows)),
		Deleted: deletedIDs,
	}
	if len(rows) == 0 {
		return batch, nil
	}

	categories, err := s.ListCategories(ctx)
	if err != nil {
		return storage.Batch{}, err
	}
	known := make(map[int64]struct{}, len(categories))
	for _, c := range categories {
		known[c.ID] = struct{}{}
	}

	for _, row := range rows {
		f, err := row.Fields()
		if err != nil {
			return storage.Batch{}, err
		}
		if _, ok := known[f.CategoryID]; !ok {
			return storage.Batch{}, &core.ValidationError{
				Row:   row.Label(),
				Field: "categoryId",
				Msg:   fmt.Sprintf("category %d does not exist", f.CategoryID),
			}
		}
		batch.Rows = append(batch.Rows, storage.PlannedRow{Key: row.Key, Fields: f, Label: row.Label()})
	}
	return batch, nil
}
