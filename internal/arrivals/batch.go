package arrivals

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"tripcards.app/internal/logging"
	"tripcards.app/internal/models"
)

// ResolveBatch resolves every query independently. A failed item carries its
// error and never affects its siblings. Items without an id are keyed by
// their position.
func (s *Service) ResolveBatch(ctx context.Context, queries []models.Query) models.BatchResponse {
	items := make([]models.BatchItem, len(queries))

	var g errgroup.Group
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, q := range queries {
		g.Go(func() error {
			items[i] = s.resolveItem(ctx, q)
			return nil
		})
	}
	_ = g.Wait()

	resp := models.BatchResponse{Results: make(map[string]models.BatchItem, len(queries))}
	for i, q := range queries {
		id := q.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		resp.Results[id] = items[i]
	}
	return resp
}

func (s *Service) resolveItem(ctx context.Context, q models.Query) (item models.BatchItem) {
	defer func() {
		if r := recover(); r != nil {
			logging.ForRequest(ctx, s.logger).Error("batch item panicked",
				slog.String("id", q.ID),
				slog.Any("panic", r))
			item = models.FailedBatchItem(errors.New("internal error"))
		}
	}()

	res, err := s.Resolve(ctx, q)
	if err != nil {
		logging.ForRequest(ctx, s.logger).Info("batch item failed",
			slog.String("id", q.ID),
			slog.String("mode", string(q.Mode)),
			slog.String("error", err.Error()))
		return models.FailedBatchItem(err)
	}
	return models.NewBatchItem(res.Arrivals)
}
