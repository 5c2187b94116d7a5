package scan

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/franckalain/nutriratio/internal/aggregate"
	"github.com/franckalain/nutriratio/internal/alternatives"
	"github.com/franckalain/nutriratio/internal/confidence"
	"github.com/franckalain/nutriratio/internal/database"
	"github.com/franckalain/nutriratio/internal/imagestore"
	"github.com/franckalain/nutriratio/internal/lock"
	"github.com/franckalain/nutriratio/internal/logger"
	"github.com/franckalain/nutriratio/internal/ml"
	"github.com/franckalain/nutriratio/internal/models"
	"github.com/franckalain/nutriratio/internal/ratio"
	"github.com/franckalain/nutriratio/internal/retry"
	"github.com/franckalain/nutriratio/internal/validation"
)

var (
	// ErrEmptyImage is returned when a scan has no image bytes
	ErrEmptyImage = errors.New("empty image")
	// ErrInvalidEdit is returned when an edit request is rejected
	ErrInvalidEdit = errors.New("invalid edit")
)

// Setting keys
const (
	SettingTargetRatio  = "target_ratio"
	FeatureAlternatives = "alternatives"
	featurePrefix       = "feature."
)

// History limits
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// Options tune a Service
type Options struct {
	Rules           validation.Rules
	Retry           retry.Policy
	AnalysisTimeout time.Duration
	// Now is the clock; time.Now when nil
	Now func() time.Time
}

// Result is everything produced by one scan
type Result struct {
	Scan         *models.ScanRecord         `json:"scan"`
	Report       models.ValidationReport    `json:"report"`
	Daily        *models.DailyIntake        `json:"daily,omitempty"`
	Target       ratio.Triple               `json:"target"`
	Deviation    ratio.Deviation            `json:"deviation"`
	Alternatives []alternatives.Alternative `json:"alternatives"`
}

// Edit changes the display fields of a scan. Nil fields are left alone.
type Edit struct {
	Name        *string `json:"name" validate:"omitempty,max=120"`
	ServingSize *string `json:"serving_size" validate:"omitempty,serving_size"`
}

// Service runs the scan workflow: analyze, validate, filter, persist, and
// refresh the day's totals
type Service struct {
	db         database.DB
	model      ml.Model
	images     imagestore.Store
	finder     alternatives.Finder
	recomputer *aggregate.Recomputer
	pipeline   *validation.Pipeline
	policy     retry.Policy
	timeout    time.Duration
	threshold  float64
	validate   *validator.Validate
	log        logrus.FieldLogger
	now        func() time.Time
}

// NewService wires a Service. finder may be nil to disable alternatives.
func NewService(db database.DB, model ml.Model, images imagestore.Store, finder alternatives.Finder,
	locker lock.Locker, opts Options, log logrus.FieldLogger) *Service {
	if finder == nil {
		finder = alternatives.Disabled{}
	}
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	v := validator.New()
	if err := v.RegisterValidation("serving_size", func(fl validator.FieldLevel) bool {
		return validation.IsValidServingSize(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("scan: register serving_size validator: %v", err))
	}

	s := &Service{
		db:         db,
		model:      model,
		images:     images,
		finder:     finder,
		recomputer: aggregate.NewRecomputer(db, locker, opts.Rules.ConfidenceThreshold, log),
		pipeline:   validation.NewPipeline(opts.Rules),
		policy:     opts.Retry,
		timeout:    opts.AnalysisTimeout,
		threshold:  opts.Rules.ConfidenceThreshold,
		validate:   v,
		log:        log,
		now:        opts.Now,
	}
	s.policy.OnRetry = func(attempt int, err error) {
		s.log.WithFields(logrus.Fields{"attempt": attempt, "error": err.Error()}).Warn("retrying analysis")
	}
	return s
}

// Process analyzes one label image and stores the outcome. Nothing is
// persisted until analysis and validation have finished.
func (s *Service) Process(ctx context.Context, image []byte) (*Result, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}

	analysis, err := retry.Do(ctx, s.policy, func(ctx context.Context) (*models.Analysis, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.model.Analyze(attemptCtx, image)
	})
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}

	now := s.now()
	id := uuid.New().String()

	report := s.pipeline.Run(analysis)
	report.ID = uuid.New().String()
	report.ScanID = id
	report.CreatedAt = now

	reading := analysis.Reading()
	triple := ratio.Calculate(value(reading.Carbohydrates), value(reading.Protein), value(reading.Fat))
	classified := confidence.Trusted(analysis, s.threshold)

	target, err := s.Target(ctx)
	if err != nil {
		logger.LogError(s.log, "scan", "Process", "read target ratio", nil, err)
		target = ratio.WHOTarget
	}
	advice := analysis.Advice
	if advice == "" {
		advice = Advise(triple, target)
	}

	ref, err := s.images.Save(ctx, id, image)
	if err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	record := &models.ScanRecord{
		ID:         id,
		Name:       classified.String(models.ClassifiedProductName),
		CapturedAt: now,
		Ratio:      triple,
		ImageRef:   ref,
		Reading:    reading,
		Classified: classified,
		Raw:        analysis.Raw(),
		Status:     report.Status,
		Advice:     advice,
		DataSource: analysis.Metadata.DataSource,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.SaveScan(ctx, record); err != nil {
		s.removeImage(ctx, ref)
		return nil, fmt.Errorf("failed to save scan: %w", err)
	}
	if report.Status != models.StatusPassed {
		if err := s.db.SaveValidationReport(ctx, &report); err != nil {
			if derr := s.db.DeleteScan(ctx, id); derr != nil {
				logger.LogError(s.log, "scan", "Process", "remove partial scan", id, derr)
			}
			s.removeImage(ctx, ref)
			return nil, fmt.Errorf("failed to save validation report: %w", err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"scan":   id,
		"status": report.Status,
		"ratio":  triple.String(),
		"source": record.DataSource,
	}).Info("scan processed")

	result := &Result{
		Scan:         record,
		Report:       report,
		Target:       target,
		Deviation:    ratio.Compare(triple, target),
		Alternatives: []alternatives.Alternative{},
	}

	// the scan is already stored; a stale daily row is rebuilt on the next read
	daily, err := s.recomputer.Recompute(ctx, now)
	if err != nil {
		logger.LogError(s.log, "scan", "Process", "recompute daily intake", id, err)
	} else {
		result.Daily = daily
	}

	if s.featureEnabled(ctx, FeatureAlternatives) {
		result.Alternatives = s.finder.Find(ctx, alternatives.Query{
			Name:     record.Name,
			Category: classified.String(models.ClassifiedCategory),
			Ratio:    triple,
		})
	}
	return result, nil
}

// Get returns one scan
func (s *Service) Get(ctx context.Context, id string) (*models.ScanRecord, error) {
	return s.db.GetScan(ctx, id)
}

// Edit applies display-only changes to a scan
func (s *Service) Edit(ctx context.Context, id string, edit Edit) (*models.ScanRecord, error) {
	if edit.Name == nil && edit.ServingSize == nil {
		return nil, fmt.Errorf("%w: nothing to change", ErrInvalidEdit)
	}
	if err := s.validate.Struct(edit); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("%w: %s failed %s", ErrInvalidEdit, verrs[0].Field(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidEdit, err)
	}

	record, err := s.db.GetScan(ctx, id)
	if err != nil {
		return nil, err
	}
	if edit.Name != nil {
		record.Name = *edit.Name
	}
	if edit.ServingSize != nil {
		record.Reading.ServingSize = *edit.ServingSize
	}
	record.UpdatedAt = s.now()

	if err := s.db.UpdateScan(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to update scan: %w", err)
	}
	if _, err := s.recomputer.Recompute(ctx, record.CapturedAt); err != nil {
		return nil, err
	}
	return record, nil
}

// Delete removes a scan and its image and refreshes that day's totals
func (s *Service) Delete(ctx context.Context, id string) error {
	record, err := s.db.GetScan(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.DeleteScan(ctx, id); err != nil {
		return err
	}
	if err := s.images.Delete(ctx, record.ImageRef); err != nil {
		logger.LogError(s.log, "scan", "Delete", "remove image", record.ImageRef, err)
	}
	_, err = s.recomputer.Recompute(ctx, record.CapturedAt)
	return err
}

// Cleanup deletes every scan captured before the cutoff and recomputes the
// affected days in parallel. It returns the number of scans removed.
func (s *Service) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	old, err := s.db.ListScansBetween(ctx, time.Unix(0, 0), before)
	if err != nil {
		return 0, err
	}
	n, err := s.db.DeleteScansBefore(ctx, before)
	if err != nil {
		return 0, err
	}

	days := make([]time.Time, 0, len(old))
	for _, r := range old {
		days = append(days, r.CapturedAt)
		if err := s.images.Delete(ctx, r.ImageRef); err != nil {
			logger.LogError(s.log, "scan", "Cleanup", "remove image", r.ImageRef, err)
		}
	}
	if err := s.recomputer.RecomputeDays(ctx, days); err != nil {
		return n, fmt.Errorf("failed to recompute days: %w", err)
	}
	return n, nil
}

// Daily rebuilds and returns the totals for the day containing day
func (s *Service) Daily(ctx context.Context, day time.Time) (*models.DailyIntake, error) {
	return s.recomputer.Recompute(ctx, day)
}

// History returns the most recent scans, newest first
func (s *Service) History(ctx context.Context, limit int) ([]*models.ScanRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.db.GetRecentScans(ctx, limit)
}

// Report returns the stored validation report. Only scans that did not pass
// have one.
func (s *Service) Report(ctx context.Context, scanID string) (*models.ValidationReport, error) {
	return s.db.GetValidationReport(ctx, scanID)
}

// Target returns the user's macro target, WHO 50:30:20 when unset
func (s *Service) Target(ctx context.Context) (ratio.Triple, error) {
	v, ok, err := s.db.GetSetting(ctx, SettingTargetRatio)
	if err != nil {
		return ratio.Triple{}, err
	}
	if !ok {
		return ratio.WHOTarget, nil
	}
	return ratio.Parse(v)
}

// SetTarget stores the user's macro target
func (s *Service) SetTarget(ctx context.Context, t ratio.Triple) error {
	if _, err := ratio.NewTriple(t.Carb(), t.Protein(), t.Fat()); err != nil {
		return err
	}
	return s.db.SetSetting(ctx, SettingTargetRatio, t.String())
}

// SetFeature turns an optional feature on or off
func (s *Service) SetFeature(ctx context.Context, name string, on bool) error {
	return s.db.SetSetting(ctx, featurePrefix+name, strconv.FormatBool(on))
}

// removeImage drops an image whose scan could not be stored
func (s *Service) removeImage(ctx context.Context, ref string) {
	if err := s.images.Delete(ctx, ref); err != nil {
		logger.LogError(s.log, "scan", "Process", "remove orphaned image", ref, err)
	}
}

// featureEnabled defaults to on; an unreadable setting counts as off
func (s *Service) featureEnabled(ctx context.Context, name string) bool {
	v, ok, err := s.db.GetSetting(ctx, featurePrefix+name)
	if err != nil {
		logger.LogError(s.log, "scan", "featureEnabled", "read feature flag", name, err)
		return false
	}
	if !ok {
		return true
	}
	on, err := strconv.ParseBool(v)
	return err == nil && on
}

func value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
