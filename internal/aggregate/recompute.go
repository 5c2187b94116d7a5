package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/franckalain/nutriratio/internal/lock"
	"github.com/franckalain/nutriratio/internal/models"
)

// Store is the part of the persistence layer daily totals need
type Store interface {
	ListScansBetween(ctx context.Context, start, end time.Time) ([]*models.ScanRecord, error)
	SaveDailyIntake(ctx context.Context, intake *models.DailyIntake) error
}

// Recomputer rebuilds a day's summary row from its scans. Work on the same
// date is serialised through the locker; different dates run independently.
type Recomputer struct {
	store     Store
	locker    lock.Locker
	threshold float64
	log       logrus.FieldLogger
}

// NewRecomputer creates a Recomputer
func NewRecomputer(store Store, locker lock.Locker, threshold float64, log logrus.FieldLogger) *Recomputer {
	return &Recomputer{store: store, locker: locker, threshold: threshold, log: log}
}

// Recompute rebuilds and stores the summary for the day containing day
func (r *Recomputer) Recompute(ctx context.Context, day time.Time) (*models.DailyIntake, error) {
	start, end := DayBounds(day)
	key := "daily:" + start.Format(models.DateLayout)

	unlock, err := r.locker.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", key, err)
	}
	defer unlock()

	records, err := r.store.ListScansBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans for %s: %w", key, err)
	}

	intake := Compute(day, records, r.threshold)
	if err := r.store.SaveDailyIntake(ctx, &intake); err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", key, err)
	}

	r.log.WithFields(logrus.Fields{
		"date":      intake.Date,
		"scans":     intake.ScanCount,
		"calories":  intake.TotalCalories,
		"ratio":     intake.Ratio.String(),
		"estimated": intake.HasEstimatedData,
	}).Debug("daily intake recomputed")
	return &intake, nil
}

// RecomputeDays rebuilds each distinct day in parallel
func (r *Recomputer) RecomputeDays(ctx context.Context, days []time.Time) error {
	seen := make(map[string]bool)
	g, ctx := errgroup.WithContext(ctx)
	for _, day := range days {
		start, _ := DayBounds(day)
		date := start.Format(models.DateLayout)
		if seen[date] {
			continue
		}
		seen[date] = true

		g.Go(func() error {
			_, err := r.Recompute(ctx, start)
			return err
		})
	}
	return g.Wait()
}
