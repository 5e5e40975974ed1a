package scheduling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/booking/internal/platform/auth"
)

// newTestServer mounts the handler behind header-based identity, the way
// the server does in development mode.
func newTestServer(t *testing.T) (*fixture, *echo.Echo) {
	t.Helper()
	f := newFixture(t)
	e := echo.New()
	api := e.Group("/api/v1", auth.DevAuthMiddleware(auth.PublicSkipper))
	NewHandler(f.svc).RegisterRoutes(api)
	return f, e
}

func do(e *echo.Echo, method, path, body string, id *auth.Identity) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if id != nil {
		req.Header.Set(auth.HeaderUserID, id.UserID)
		req.Header.Set(auth.HeaderUserRole, string(id.Role))
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHandler_BookAndCancel(t *testing.T) {
	f, e := newTestServer(t)
	d := f.doctor(ScheduleStream)
	s := f.slot(d, f.window(d, "morning"), "09:00", 1)
	p := f.store.addPatient("pat-1")
	pid := asPatient(p)

	rec := do(e, http.MethodPost, "/api/v1/appointments", `{"slot_id":"`+s.ID.String()+`"}`, &pid)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["reporting_time"] != "09:00" || body["status"] != "scheduled" || body["date"] != "2026-03-03" {
		t.Errorf("unexpected appointment %v", body)
	}
	apptID := body["id"].(string)

	other := asPatient(f.store.addPatient("pat-2"))
	rec = do(e, http.MethodPost, "/api/v1/appointments", `{"slot_id":"`+s.ID.String()+`"}`, &other)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["code"]; got != "CONFLICT" {
		t.Errorf("expected CONFLICT code, got %v", got)
	}

	rec = do(e, http.MethodPatch, "/api/v1/appointments/"+apptID+"/cancel", "", &pid)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["message"]; got != msgCancelled {
		t.Errorf("unexpected message %v", got)
	}
}

func TestHandler_Book_BadRequests(t *testing.T) {
	_, e := newTestServer(t)
	pid := auth.Identity{UserID: "p", Role: auth.RolePatient}

	rec := do(e, http.MethodPost, "/api/v1/appointments", `{}`, &pid)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a missing slot_id, got %d", rec.Code)
	}
	rec = do(e, http.MethodPost, "/api/v1/appointments", `{"slot_id":"nope"}`, &pid)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a malformed slot_id, got %d", rec.Code)
	}
	rec = do(e, http.MethodPatch, "/api/v1/appointments/not-a-uuid/cancel", "", &pid)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a malformed id, got %d", rec.Code)
	}
}

func TestHandler_RoleGuards(t *testing.T) {
	f, e := newTestServer(t)
	d := f.doctor(ScheduleStream)
	did := asDoctor(d)
	pid := auth.Identity{UserID: "p", Role: auth.RolePatient}

	rec := do(e, http.MethodPost, "/api/v1/appointments", `{"slot_id":"`+uuid.NewString()+`"}`, &did)
	if rec.Code != http.StatusForbidden {
		t.Errorf("doctors must not book, got %d", rec.Code)
	}
	rec = do(e, http.MethodPost, "/api/v1/doctors/availability", `{}`, &pid)
	if rec.Code != http.StatusForbidden {
		t.Errorf("patients must not create availability, got %d", rec.Code)
	}
	rec = do(e, http.MethodGet, "/api/v1/appointments/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without identity, got %d", rec.Code)
	}
}

func TestHandler_PublicDirectory(t *testing.T) {
	f, e := newTestServer(t)
	d := f.doctor(ScheduleStream)

	rec := do(e, http.MethodGet, "/api/v1/doctors?specialization=cardio", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var list []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("unexpected list %s (%v)", rec.Body.String(), err)
	}

	rec = do(e, http.MethodGet, "/api/v1/doctors/"+d.ID.String(), "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	rec = do(e, http.MethodGet, "/api/v1/doctors/"+uuid.NewString(), "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_CreateAvailability(t *testing.T) {
	f, e := newTestServer(t)
	d := f.doctor(ScheduleStream)
	did := asDoctor(d)

	body := `{"type":"custom_date","date":"2026-03-03","consulting_start_time":"09:00","consulting_end_time":"09:25","session":"morning"}`
	rec := do(e, http.MethodPost, "/api/v1/doctors/availability", body, &did)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decodeBody(t, rec)
	if slots, _ := out["slots"].([]any); len(slots) != 2 {
		t.Errorf("expected 2 slots, got %v", out["slots"])
	}
	if w, _ := out["availability"].(map[string]any); w["consulting_start_time"] != "09:00" {
		t.Errorf("unexpected window %v", out["availability"])
	}

	rec = do(e, http.MethodPost, "/api/v1/doctors/availability", `{"type":"custom_date","session":"x"}`, &did)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	errBody := decodeBody(t, rec)
	if errBody["code"] != "VALIDATION_ERROR" {
		t.Errorf("unexpected error body %v", errBody)
	}
	if details, _ := errBody["details"].(map[string]any); details["errors"] == nil {
		t.Errorf("expected field details, got %v", errBody)
	}
}

func TestHandler_SlotGuards(t *testing.T) {
	f, e := newTestServer(t)
	d := f.doctor(ScheduleStream)
	w := f.window(d, "morning")
	target := f.slot(d, w, "09:00", 1)
	booked := f.slot(d, w, "09:10", 1)
	did := asDoctor(d)
	pid := asPatient(f.store.addPatient("p"))

	rec := do(e, http.MethodPost, "/api/v1/appointments", `{"slot_id":"`+booked.ID.String()+`"}`, &pid)
	if rec.Code != http.StatusCreated {
		t.Fatalf("book: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodDelete, "/api/v1/slots/"+target.ID.String(), "", &did)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 deleting a slot with a booked sibling, got %d", rec.Code)
	}
	rec = do(e, http.MethodPatch, "/api/v1/slots/"+target.ID.String(), `{"end_time":"09:05"}`, &did)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 editing a slot with a booked sibling, got %d", rec.Code)
	}
}

func TestHandler_ListOpenSlots(t *testing.T) {
	f, e := newTestServer(t)
	d := f.doctor(ScheduleStream)
	w := f.window(d, "morning")
	f.slot(d, w, "09:00", 1)
	f.slot(d, w, "09:10", 1)
	pid := auth.Identity{UserID: "p", Role: auth.RolePatient}

	rec := do(e, http.MethodGet, "/api/v1/doctors/"+d.ID.String()+"/availability?limit=1", "", &pid)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decodeBody(t, rec)
	if out["total"] != float64(2) || out["has_more"] != true {
		t.Errorf("unexpected page %v", out)
	}
	if data, _ := out["data"].([]any); len(data) != 1 {
		t.Errorf("expected one item, got %v", out["data"])
	}
}

func TestHandler_ScheduleConfig(t *testing.T) {
	f, e := newTestServer(t)
	d := f.doctor(ScheduleStream)
	did := asDoctor(d)

	rec := do(e, http.MethodPatch, "/api/v1/doctors/schedule-config", `{"schedule_type":"wave","wave_limit":5}`, &did)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decodeBody(t, rec)
	if out["schedule_type"] != "wave" || out["wave_limit"] != float64(5) {
		t.Errorf("unexpected profile %v", out)
	}
}
