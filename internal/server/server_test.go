package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/franckalain/nutriratio/internal/database"
	"github.com/franckalain/nutriratio/internal/models"
	"github.com/franckalain/nutriratio/internal/ratio"
	"github.com/franckalain/nutriratio/internal/scan"
)

type fakeScanner struct {
	images   [][]byte
	edits    []scan.Edit
	deleted  []string
	before   time.Time
	days     []time.Time
	target   ratio.Triple
	features map[string]bool
	failing  error
}

func (f *fakeScanner) Process(ctx context.Context, image []byte) (*scan.Result, error) {
	if f.failing != nil {
		return nil, f.failing
	}
	if len(image) == 0 {
		return nil, scan.ErrEmptyImage
	}
	f.images = append(f.images, image)
	return &scan.Result{
		Scan:   &models.ScanRecord{ID: "s1", Ratio: ratio.MustTriple(59, 19, 22), Status: models.StatusPassed},
		Report: models.ValidationReport{Status: models.StatusPassed},
		Target: ratio.WHOTarget,
	}, nil
}

func (f *fakeScanner) Get(ctx context.Context, id string) (*models.ScanRecord, error) {
	if id != "s1" {
		return nil, fmt.Errorf("scan %s: %w", id, database.ErrNotFound)
	}
	return &models.ScanRecord{ID: id, Name: "Oat bar"}, nil
}

func (f *fakeScanner) Edit(ctx context.Context, id string, edit scan.Edit) (*models.ScanRecord, error) {
	f.edits = append(f.edits, edit)
	if edit.ServingSize != nil && *edit.ServingSize == "lots" {
		return nil, fmt.Errorf("%w: serving size", scan.ErrInvalidEdit)
	}
	rec := &models.ScanRecord{ID: id}
	if edit.Name != nil {
		rec.Name = *edit.Name
	}
	return rec, nil
}

func (f *fakeScanner) Delete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeScanner) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	f.before = before
	return 4, nil
}

func (f *fakeScanner) Daily(ctx context.Context, day time.Time) (*models.DailyIntake, error) {
	f.days = append(f.days, day)
	return &models.DailyIntake{Date: day.Format(models.DateLayout), Ratio: ratio.Fallback}, nil
}

func (f *fakeScanner) History(ctx context.Context, limit int) ([]*models.ScanRecord, error) {
	return []*models.ScanRecord{{ID: "s1", Ratio: ratio.Fallback}}, nil
}

func (f *fakeScanner) Report(ctx context.Context, scanID string) (*models.ValidationReport, error) {
	return nil, fmt.Errorf("report for scan %s: %w", scanID, database.ErrNotFound)
}

func (f *fakeScanner) Target(ctx context.Context) (ratio.Triple, error) {
	if f.target.IsZero() {
		return ratio.WHOTarget, nil
	}
	return f.target, nil
}

func (f *fakeScanner) SetTarget(ctx context.Context, t ratio.Triple) error {
	f.target = t
	return nil
}

func (f *fakeScanner) SetFeature(ctx context.Context, name string, on bool) error {
	if f.features == nil {
		f.features = map[string]bool{}
	}
	f.features[name] = on
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeScanner) {
	t.Helper()
	log, _ := test.NewNullLogger()
	fake := &fakeScanner{}
	s := New(fake, log, "", false)
	s.now = func() time.Time { return time.Date(2026, 10, 15, 12, 0, 0, 0, time.Local) }
	return s, fake
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestCreateScan(t *testing.T) {
	s, fake := newTestServer(t)
	img := base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8})

	rec := do(t, s, http.MethodPost, "/api/scans", `{"image":"`+img+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var res scan.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Scan.ID != "s1" || res.Scan.Ratio != ratio.MustTriple(59, 19, 22) {
		t.Fatalf("result=%+v", res.Scan)
	}
	if len(fake.images) != 1 || len(fake.images[0]) != 2 {
		t.Fatalf("images=%v", fake.images)
	}

	if rec := do(t, s, http.MethodPost, "/api/scans", `{"image":"%%%"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad base64 status=%d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/scans", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing image status=%d", rec.Code)
	}

	fake.failing = errors.New("vertex exploded")
	rec = do(t, s, http.MethodPost, "/api/scans", `{"image":"`+img+`"}`)
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "vertex") {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestScanRoutes(t *testing.T) {
	s, fake := newTestServer(t)

	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/api/scans", "", http.StatusOK},
		{http.MethodGet, "/api/scans?limit=-1", "", http.StatusBadRequest},
		{http.MethodGet, "/api/scans/s1", "", http.StatusOK},
		{http.MethodGet, "/api/scans/nope", "", http.StatusNotFound},
		{http.MethodPatch, "/api/scans/s1", `{"name":"Bar"}`, http.StatusOK},
		{http.MethodPatch, "/api/scans/s1", `{"serving_size":"lots"}`, http.StatusBadRequest},
		{http.MethodPatch, "/api/scans/s1", `not json`, http.StatusBadRequest},
		{http.MethodDelete, "/api/scans/s1", "", http.StatusNoContent},
		{http.MethodGet, "/api/scans/s1/report", "", http.StatusNotFound},
		{http.MethodGet, "/api/daily/2026-10-14", "", http.StatusOK},
		{http.MethodGet, "/api/daily/today", "", http.StatusOK},
		{http.MethodGet, "/api/daily/14-10-2026", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := do(t, s, tc.method, tc.path, tc.body)
		if rec.Code != tc.want {
			t.Fatalf("%s %s: status=%d, want %d (%s)", tc.method, tc.path, rec.Code, tc.want, rec.Body.String())
		}
	}

	if len(fake.deleted) != 1 || fake.deleted[0] != "s1" {
		t.Fatalf("deleted=%v", fake.deleted)
	}
	if len(fake.days) != 2 || fake.days[0].Day() != 14 || fake.days[1].Day() != 15 {
		t.Fatalf("days=%v", fake.days)
	}
}

func TestTargetRoutes(t *testing.T) {
	s, fake := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/settings/target", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"carb":50`) {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodPut, "/api/settings/target", `{"carb":40,"protein":30,"fat":30}`)
	if rec.Code != http.StatusOK || fake.target != ratio.MustTriple(40, 30, 30) {
		t.Fatalf("status=%d target=%v", rec.Code, fake.target)
	}

	rec = do(t, s, http.MethodPut, "/api/settings/target", `{"carb":50,"protein":30,"fat":30}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-summing target status=%d", rec.Code)
	}
}

func TestFeatureRoute(t *testing.T) {
	s, fake := newTestServer(t)

	rec := do(t, s, http.MethodPut, "/api/settings/features/alternatives", `{"enabled":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if on, ok := fake.features["alternatives"]; !ok || on {
		t.Fatalf("features=%v", fake.features)
	}
	if rec := do(t, s, http.MethodPut, "/api/settings/features/alternatives", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing enabled status=%d", rec.Code)
	}
}

func TestCleanupRoute(t *testing.T) {
	s, fake := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/cleanup", `{"before":"2026-10-01"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"deleted":4`) {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if want := time.Date(2026, 10, 1, 0, 0, 0, 0, time.Local); !fake.before.Equal(want) {
		t.Fatalf("before=%v, want %v", fake.before, want)
	}
	if rec := do(t, s, http.MethodPost, "/api/cleanup", `{"before":"yesterday"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type reply struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg string) reply {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var r reply
	if err := conn.ReadJSON(&r); err != nil {
		t.Fatalf("read: %v", err)
	}
	return r
}

func TestWebSocketProtocol(t *testing.T) {
	s, fake := newTestServer(t)
	conn := dial(t, s)
	img := base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8})

	cases := []struct {
		msg      string
		wantType string
		wantMsg  string
	}{
		{`{"type":"scan","data":{"image":"` + img + `"}}`, "scan_result", ""},
		{`{"type":"scan","data":{}}`, "error", "Invalid image data"},
		{`{"type":"scan","data":{"image":"%%%"}}`, "error", "Invalid image format"},
		{`{"type":"get_history"}`, "history", ""},
		{`{"type":"get_daily","data":{"date":"2026-10-14"}}`, "daily", ""},
		{`{"type":"get_daily","data":{"date":"tomorrow"}}`, "error", "Invalid date"},
		{`{"type":"update_scan","data":{"id":"s1","name":"Bar"}}`, "scan_updated", ""},
		{`{"type":"update_scan","data":{"id":"s1","serving_size":"lots"}}`, "error", "invalid edit: serving size"},
		{`{"type":"update_scan","data":{}}`, "error", "Missing scan ID"},
		{`{"type":"delete_scan","data":{"id":"s1"}}`, "scan_deleted", ""},
		{`{"type":"dance"}`, "error", "Unknown message type"},
		{`{"data":{}}`, "error", "Invalid message format"},
		{`not json`, "error", "Invalid message format"},
	}
	for _, tc := range cases {
		r := roundTrip(t, conn, tc.msg)
		if r.Type != tc.wantType || (tc.wantMsg != "" && r.Message != tc.wantMsg) {
			t.Fatalf("%s: got type=%q message=%q", tc.msg, r.Type, r.Message)
		}
	}

	if len(fake.images) != 1 || len(fake.deleted) != 1 {
		t.Fatalf("images=%d deleted=%v", len(fake.images), fake.deleted)
	}
}

func TestWebSocketHistoryIncludesToday(t *testing.T) {
	s, _ := newTestServer(t)
	conn := dial(t, s)

	r := roundTrip(t, conn, `{"type":"get_history"}`)
	var data struct {
		Items []models.ScanRecord `json:"items"`
		Today models.DailyIntake  `json:"today"`
	}
	if err := json.Unmarshal(r.Data, &data); err != nil {
		t.Fatal(err)
	}
	if len(data.Items) != 1 || data.Today.Date != "2026-10-15" {
		t.Fatalf("data=%+v", data)
	}
}
