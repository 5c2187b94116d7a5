package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/franckalain/nutriratio/internal/alternatives"
	"github.com/franckalain/nutriratio/internal/database"
	"github.com/franckalain/nutriratio/internal/imagestore"
	"github.com/franckalain/nutriratio/internal/lock"
	"github.com/franckalain/nutriratio/internal/models"
	"github.com/franckalain/nutriratio/internal/ratio"
	"github.com/franckalain/nutriratio/internal/retry"
	"github.com/franckalain/nutriratio/internal/validation"
)

const labelJSON = `{
	"nutrition": {
		"serving_size": "100g",
		"calories": 209, "calories_confidence": 0.95,
		"carbohydrates_g": 30.5, "carbohydrates_g_confidence": 0.95,
		"protein_g": 10, "protein_g_confidence": 0.95,
		"fat_g": 5.2, "fat_g_confidence": 0.95
	},
	"ratio": {"carb_percent": 59, "protein_percent": 19, "fat_percent": 22},
	"raw_data": {"ocr_text": "Energy 209kcal"},
	"classified_data": {
		"product_name": "Oat bar", "product_name_confidence": 0.95,
		"manufacturer": "Acme", "manufacturer_confidence": 0.5,
		"category": "snack", "category_confidence": 0.9
	},
	"metadata": {"image_quality": "good", "detected_language": "en", "data_source": "label"}
}`

// no ratio section and a low calorie confidence
const partialJSON = `{
	"nutrition": {
		"calories": 290, "calories_confidence": 0.6,
		"carbohydrates_g": 30, "protein_g": 20, "fat_g": 10
	},
	"raw_data": "Energy 290kcal",
	"metadata": {"data_source": "estimated"},
	"advice": "Estimated from a photo."
}`

type fakeModel struct {
	mu    sync.Mutex
	errs  []error
	body  string
	calls int
}

func (m *fakeModel) Load(context.Context) error { return nil }
func (m *fakeModel) Close() error               { return nil }

func (m *fakeModel) Analyze(ctx context.Context, image []byte) (*models.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	return models.ParseAnalysis([]byte(m.body))
}

type fakeFinder struct {
	queries []alternatives.Query
}

func (f *fakeFinder) Find(ctx context.Context, q alternatives.Query) []alternatives.Alternative {
	f.queries = append(f.queries, q)
	return []alternatives.Alternative{{Name: "Protein bar", Ratio: ratio.WHOTarget}}
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type fixture struct {
	svc      *Service
	db       *database.SQLiteDB
	model    *fakeModel
	finder   *fakeFinder
	clock    *clock
	imageDir string
}

func newFixture(t *testing.T, body string) *fixture {
	t.Helper()
	return newFixtureWithStore(t, body, nil)
}

// newFixtureWithStore lets a test wrap the real store; wrap may be nil
func newFixtureWithStore(t *testing.T, body string, wrap func(*database.SQLiteDB) database.DB) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	dir := t.TempDir()

	db, err := database.NewSQLiteDB(filepath.Join(dir, "test.db"), log)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	imageDir := filepath.Join(dir, "images")
	images, err := imagestore.NewLocalStore(imageDir)
	if err != nil {
		t.Fatal(err)
	}

	policy := retry.DefaultPolicy()
	policy.InitialDelay = time.Millisecond
	policy.MaxDelay = 2 * time.Millisecond

	f := &fixture{
		db:       db,
		model:    &fakeModel{body: body},
		finder:   &fakeFinder{},
		clock:    &clock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.Local)},
		imageDir: imageDir,
	}
	var store database.DB = db
	if wrap != nil {
		store = wrap(db)
	}
	f.svc = NewService(store, f.model, images, f.finder, lock.NewLocalLocker(), Options{
		Rules:           validation.DefaultRules(),
		Retry:           policy,
		AnalysisTimeout: time.Second,
		Now:             f.clock.Now,
	}, log)
	return f
}

var image = []byte{0xff, 0xd8, 0xff, 0xe0}

func TestProcessPassedScan(t *testing.T) {
	f := newFixture(t, labelJSON)
	ctx := context.Background()

	res, err := f.svc.Process(ctx, image)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if res.Report.Status != models.StatusPassed {
		t.Fatalf("status=%s report=%+v", res.Report.Status, res.Report)
	}
	if res.Report.LowConfidenceCount != 1 {
		t.Fatalf("low confidence=%d, want the manufacturer only", res.Report.LowConfidenceCount)
	}
	if res.Scan.Ratio != ratio.MustTriple(59, 19, 22) {
		t.Fatalf("ratio=%v", res.Scan.Ratio)
	}
	if res.Scan.Name != "Oat bar" || res.Scan.DataSource != models.SourceLabel {
		t.Fatalf("name=%q source=%q", res.Scan.Name, res.Scan.DataSource)
	}
	if _, ok := res.Scan.Classified[models.ClassifiedManufacturer]; ok {
		t.Fatal("low-confidence manufacturer should be redacted")
	}
	if res.Scan.Classified.String(models.ClassifiedCategory) != "snack" {
		t.Fatalf("classified=%v", res.Scan.Classified)
	}
	if res.Scan.Raw.OCRText != "Energy 209kcal" || len(res.Scan.Raw.Data) == 0 {
		t.Fatalf("raw=%+v", res.Scan.Raw)
	}
	if res.Target != ratio.WHOTarget || res.Deviation.Carb != 9 {
		t.Fatalf("target=%v deviation=%+v", res.Target, res.Deviation)
	}
	if res.Scan.Advice != "Protein share is 11 points below your 50:30:20 target." {
		t.Fatalf("advice=%q", res.Scan.Advice)
	}

	if got, err := os.ReadFile(res.Scan.ImageRef); err != nil || len(got) != len(image) {
		t.Fatalf("image not stored: %v", err)
	}
	stored, err := f.db.GetScan(ctx, res.Scan.ID)
	if err != nil || stored.Status != models.StatusPassed {
		t.Fatalf("stored=%+v err=%v", stored, err)
	}
	if _, err := f.svc.Report(ctx, res.Scan.ID); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("passed scans keep no report, err=%v", err)
	}

	if res.Daily == nil || res.Daily.ScanCount != 1 || res.Daily.TotalCalories != 209 || res.Daily.HasEstimatedData {
		t.Fatalf("daily=%+v", res.Daily)
	}
	if res.Daily.Ratio != ratio.FromCalories(122, 40, 47) {
		t.Fatalf("daily ratio=%v", res.Daily.Ratio)
	}

	if len(res.Alternatives) != 1 || len(f.finder.queries) != 1 {
		t.Fatalf("alternatives=%v queries=%v", res.Alternatives, f.finder.queries)
	}
	if q := f.finder.queries[0]; q.Name != "Oat bar" || q.Category != "snack" || q.Ratio != res.Scan.Ratio {
		t.Fatalf("query=%+v", q)
	}
}

func TestProcessFailedScanIsStoredWithReport(t *testing.T) {
	f := newFixture(t, partialJSON)
	ctx := context.Background()

	res, err := f.svc.Process(ctx, image)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Report.Status != models.StatusFailed || res.Report.RequiredFieldsPassed {
		t.Fatalf("report=%+v", res.Report)
	}
	if len(res.Report.MissingFields) != 3 {
		t.Fatalf("missing=%v", res.Report.MissingFields)
	}
	// the ratio comes from grams, not from the missing ratio section
	if res.Scan.Ratio != ratio.Calculate(30, 20, 10) {
		t.Fatalf("ratio=%v", res.Scan.Ratio)
	}
	if res.Scan.Advice != "Estimated from a photo." || res.Scan.Name != "" {
		t.Fatalf("advice=%q name=%q", res.Scan.Advice, res.Scan.Name)
	}

	report, err := f.svc.Report(ctx, res.Scan.ID)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if report.Status != models.StatusFailed || report.ScanID != res.Scan.ID {
		t.Fatalf("stored report=%+v", report)
	}
	if !res.Daily.HasEstimatedData {
		t.Fatal("a low calorie confidence should mark the day as estimated")
	}
}

// reportlessDB refuses to store validation reports
type reportlessDB struct {
	*database.SQLiteDB
}

func (reportlessDB) SaveValidationReport(context.Context, *models.ValidationReport) error {
	return errors.New("disk full")
}

func TestProcessReportFailureLeavesNothingStored(t *testing.T) {
	f := newFixtureWithStore(t, partialJSON, func(db *database.SQLiteDB) database.DB {
		return reportlessDB{db}
	})
	ctx := context.Background()

	if _, err := f.svc.Process(ctx, image); err == nil {
		t.Fatal("expected error when the report cannot be saved")
	}
	if list, _ := f.db.GetRecentScans(ctx, 10); len(list) != 0 {
		t.Fatalf("scan should be removed, got %d", len(list))
	}
	if entries, _ := os.ReadDir(f.imageDir); len(entries) != 0 {
		t.Fatalf("image should be removed, got %d files", len(entries))
	}
	daily, err := f.svc.Daily(ctx, f.clock.now)
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	if daily.ScanCount != 0 {
		t.Fatalf("scan count=%d, want 0", daily.ScanCount)
	}
}

func TestProcessRejectsEmptyImage(t *testing.T) {
	f := newFixture(t, labelJSON)
	if _, err := f.svc.Process(context.Background(), nil); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("err=%v, want ErrEmptyImage", err)
	}
	if f.model.calls != 0 {
		t.Fatal("model should not be called")
	}
}

func TestProcessRetriesTransientFailures(t *testing.T) {
	f := newFixture(t, labelJSON)
	f.model.errs = []error{errors.New("503 service unavailable"), context.DeadlineExceeded}

	if _, err := f.svc.Process(context.Background(), image); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if f.model.calls != 3 {
		t.Fatalf("calls=%d, want 3", f.model.calls)
	}
}

func TestProcessStopsOnPermanentFailure(t *testing.T) {
	f := newFixture(t, labelJSON)
	f.model.errs = []error{errors.New("permission denied")}

	if _, err := f.svc.Process(context.Background(), image); err == nil {
		t.Fatal("expected error")
	}
	if f.model.calls != 1 {
		t.Fatalf("calls=%d, want 1", f.model.calls)
	}
	if list, _ := f.db.GetRecentScans(context.Background(), 10); len(list) != 0 {
		t.Fatalf("nothing should be stored, got %d scans", len(list))
	}
	if entries, _ := os.ReadDir(f.imageDir); len(entries) != 0 {
		t.Fatalf("no image should be written, got %d", len(entries))
	}
}

func TestProcessAlternativesFeatureFlag(t *testing.T) {
	f := newFixture(t, labelJSON)
	ctx := context.Background()
	if err := f.svc.SetFeature(ctx, FeatureAlternatives, false); err != nil {
		t.Fatal(err)
	}

	res, err := f.svc.Process(ctx, image)
	if err != nil {
		t.Fatal(err)
	}
	if res.Alternatives == nil || len(res.Alternatives) != 0 || len(f.finder.queries) != 0 {
		t.Fatalf("alternatives=%v queries=%d", res.Alternatives, len(f.finder.queries))
	}
}

func TestTargetSettings(t *testing.T) {
	f := newFixture(t, labelJSON)
	ctx := context.Background()

	target, err := f.svc.Target(ctx)
	if err != nil || target != ratio.WHOTarget {
		t.Fatalf("default target=%v err=%v", target, err)
	}
	if err := f.svc.SetTarget(ctx, ratio.Triple{}); !errors.Is(err, ratio.ErrInvalidRatio) {
		t.Fatalf("err=%v, want ErrInvalidRatio", err)
	}
	if err := f.svc.SetTarget(ctx, ratio.MustTriple(60, 20, 20)); err != nil {
		t.Fatal(err)
	}

	res, err := f.svc.Process(ctx, image)
	if err != nil {
		t.Fatal(err)
	}
	if res.Target != ratio.MustTriple(60, 20, 20) {
		t.Fatalf("target=%v", res.Target)
	}
	if res.Scan.Advice != "Balanced: within 5 points of your 60:20:20 target." {
		t.Fatalf("advice=%q", res.Scan.Advice)
	}
}

func TestEdit(t *testing.T) {
	f := newFixture(t, labelJSON)
	ctx := context.Background()
	res, err := f.svc.Process(ctx, image)
	if err != nil {
		t.Fatal(err)
	}

	name, serving := "Morning bar", "1個"
	f.clock.now = f.clock.now.Add(time.Hour)
	edited, err := f.svc.Edit(ctx, res.Scan.ID, Edit{Name: &name, ServingSize: &serving})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if edited.Name != name || edited.Reading.ServingSize != serving || !edited.UpdatedAt.Equal(f.clock.now) {
		t.Fatalf("edited=%+v", edited)
	}
	if edited.Ratio != res.Scan.Ratio || *edited.Reading.Calories != 209 {
		t.Fatal("edit must not touch nutrition values")
	}

	daily, err := f.svc.Daily(ctx, f.clock.now)
	if err != nil {
		t.Fatal(err)
	}
	if !daily.UpdatedAt.Equal(f.clock.now) {
		t.Fatalf("daily updated at=%v, want the edit time", daily.UpdatedAt)
	}

	bad := "a handful"
	for _, e := range []Edit{{}, {ServingSize: &bad}} {
		if _, err := f.svc.Edit(ctx, res.Scan.ID, e); !errors.Is(err, ErrInvalidEdit) {
			t.Fatalf("Edit(%+v) err=%v, want ErrInvalidEdit", e, err)
		}
	}
	if _, err := f.svc.Edit(ctx, "missing", Edit{Name: &name}); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestDeleteRecomputesDay(t *testing.T) {
	f := newFixture(t, labelJSON)
	ctx := context.Background()
	res, err := f.svc.Process(ctx, image)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.svc.Delete(ctx, res.Scan.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(res.Scan.ImageRef); !os.IsNotExist(err) {
		t.Fatalf("image still present: %v", err)
	}
	daily, err := f.db.GetDailyIntake(ctx, "2026-10-15")
	if err != nil {
		t.Fatal(err)
	}
	if daily.ScanCount != 0 || daily.Ratio != ratio.Fallback {
		t.Fatalf("daily=%+v", daily)
	}
	if err := f.svc.Delete(ctx, res.Scan.ID); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestCleanup(t *testing.T) {
	f := newFixture(t, labelJSON)
	ctx := context.Background()

	days := []time.Time{
		time.Date(2026, 10, 10, 8, 0, 0, 0, time.Local),
		time.Date(2026, 10, 11, 8, 0, 0, 0, time.Local),
		time.Date(2026, 10, 15, 8, 0, 0, 0, time.Local),
	}
	for _, d := range days {
		f.clock.now = d
		if _, err := f.svc.Process(ctx, image); err != nil {
			t.Fatal(err)
		}
	}

	n, err := f.svc.Cleanup(ctx, time.Date(2026, 10, 12, 0, 0, 0, 0, time.Local))
	if err != nil || n != 2 {
		t.Fatalf("Cleanup=%d,%v", n, err)
	}
	for _, date := range []string{"2026-10-10", "2026-10-11"} {
		daily, err := f.db.GetDailyIntake(ctx, date)
		if err != nil || daily.ScanCount != 0 {
			t.Fatalf("%s daily=%+v err=%v", date, daily, err)
		}
	}
	history, err := f.svc.History(ctx, 0)
	if err != nil || len(history) != 1 || !history[0].CapturedAt.Equal(days[2]) {
		t.Fatalf("history=%v err=%v", history, err)
	}
	if entries, _ := os.ReadDir(f.imageDir); len(entries) != 1 {
		t.Fatalf("images left=%d, want 1", len(entries))
	}
}

func TestAdvise(t *testing.T) {
	cases := []struct {
		actual ratio.Triple
		want   string
	}{
		{ratio.MustTriple(50, 30, 20), "Balanced: within 5 points of your 50:30:20 target."},
		{ratio.MustTriple(55, 25, 20), "Balanced: within 5 points of your 50:30:20 target."},
		{ratio.MustTriple(30, 30, 40), "Carbohydrate share is 20 points below your 50:30:20 target."},
		{ratio.MustTriple(45, 10, 45), "Fat share is 25 points above your 50:30:20 target."},
	}
	for _, tc := range cases {
		if got := Advise(tc.actual, ratio.WHOTarget); got != tc.want {
			t.Fatalf("Advise(%v)=%q, want %q", tc.actual, got, tc.want)
		}
	}
}
