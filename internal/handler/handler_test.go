package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clubattendance/internal/attendance"
	"clubattendance/internal/auth"
	"clubattendance/internal/roster"
	"clubattendance/internal/schedule"
)

const (
	testIssuer = "club-portal"
	testKey    = "test-signing-key"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type server struct {
	t      *testing.T
	router *gin.Engine
	clock  *clock
	sched  *schedule.Manager
	store  *attendance.MemoryStore
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c := &clock{t: time.Date(2026, time.January, 13, 15, 22, 0, 0, time.UTC)}
	sched, err := schedule.NewManager(schedule.NewMemoryStore(), schedule.WithClock(c.now))
	require.NoError(t, err)
	store := attendance.NewMemoryStore()
	ledger, err := attendance.NewService(store, sched, roster.NewStatic([]roster.Student{
		{StudentID: "12345", Name: "Kim Minji", Email: "kim@school.test"},
		{StudentID: "22222", Name: "Lee Jun", Email: "lee@school.test"},
	}))
	require.NoError(t, err)

	r := gin.New()
	New(ledger, sched, nil).Register(r, auth.Bearer(testKey, testIssuer))
	return &server{t: t, router: r, clock: c, sched: sched, store: store}
}

func (s *server) token(subject, role string) string {
	tok, _, err := auth.Issue(subject, role, "", "", testIssuer, testKey, time.Hour)
	require.NoError(s.t, err)
	return tok
}

func (s *server) do(method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestStatus(t *testing.T) {
	s := newServer(t)
	w, body := s.do(http.MethodGet, "/v1/attendance/status", s.token("12345", auth.RoleStudent), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["isAttendanceOpen"])
	assert.EqualValues(t, 2, body["weekNumber"])
	session := body["session"].(map[string]any)
	assert.Equal(t, "15:20", session["sessionTime"])
	assert.EqualValues(t, 3, session["minutesRemaining"])

	s.clock.set(time.Date(2026, time.January, 13, 16, 0, 0, 0, time.UTC))
	_, body = s.do(http.MethodGet, "/v1/attendance/status", s.token("12345", auth.RoleStudent), nil)
	assert.Equal(t, false, body["isAttendanceOpen"])
	assert.NotContains(t, body, "session")
}

func TestStatusRequiresToken(t *testing.T) {
	s := newServer(t)
	w, _ := s.do(http.MethodGet, "/v1/attendance/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheckInScenario(t *testing.T) {
	s := newServer(t)
	student := s.token("12345", auth.RoleStudent)
	admin := s.token("admin-1", auth.RoleAdmin)

	w, body := s.do(http.MethodPost, "/v1/attendance/check-in", student, gin.H{"studentId": "12345", "studentName": "Kim Minji"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec := body["record"].(map[string]any)
	assert.Equal(t, "12345_1_2", rec["id"])
	assert.Equal(t, "present", rec["status"])

	s.clock.set(time.Date(2026, time.January, 13, 15, 24, 0, 0, time.UTC))
	w, body = s.do(http.MethodPost, "/v1/attendance/check-in", student, gin.H{"studentId": "12345"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "present", body["status"])

	s.clock.set(time.Date(2026, time.January, 13, 15, 30, 0, 0, time.UTC))
	w, body = s.do(http.MethodPost, "/v1/admin/attendance/mark-absent", admin, gin.H{"sessionTime": "15:20", "weekNumber": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := body["result"].(map[string]any)
	assert.EqualValues(t, 1, result["createdCount"])

	w, body = s.do(http.MethodGet, "/v1/admin/attendance/records?sessionTime=15:20&weekNumber=2", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	counts := body["counts"].(map[string]any)
	assert.EqualValues(t, 1, counts["present"])
	assert.EqualValues(t, 1, counts["absent"])
}

func TestCheckInRejections(t *testing.T) {
	s := newServer(t)
	student := s.token("12345", auth.RoleStudent)

	w, _ := s.do(http.MethodPost, "/v1/attendance/check-in", student, gin.H{"studentId": "22222"})
	assert.Equal(t, http.StatusForbidden, w.Code, "students check in only as themselves")

	_, err := s.sched.GenerateCode(context.Background())
	require.NoError(t, err)
	w, body := s.do(http.MethodPost, "/v1/attendance/check-in", student, gin.H{"studentId": "12345", "verificationCode": "nope"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, true, body["requireCode"])

	s.clock.set(time.Date(2026, time.January, 13, 16, 0, 0, 0, time.UTC))
	w, body = s.do(http.MethodPost, "/v1/attendance/check-in", student, gin.H{"studentId": "12345"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, body["schedule"], "Tuesdays")
	assert.Equal(t, 0, s.store.Len())
}

func TestCheckInWithCode(t *testing.T) {
	s := newServer(t)
	cfg, err := s.sched.GenerateCode(context.Background())
	require.NoError(t, err)

	w, _ := s.do(http.MethodPost, "/v1/attendance/check-in", s.token("12345", auth.RoleStudent),
		gin.H{"studentId": "12345", "verificationCode": cfg.VerificationCode})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	s := newServer(t)
	w, _ := s.do(http.MethodGet, "/v1/admin/attendance/config", s.token("12345", auth.RoleStudent), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminActions(t *testing.T) {
	s := newServer(t)
	admin := s.token("admin-1", auth.RoleAdmin)

	w, body := s.do(http.MethodPost, "/v1/admin/attendance", admin, gin.H{"action": "toggle-debug", "enabled": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["config"].(map[string]any)["debugMode"])

	w, body = s.do(http.MethodPost, "/v1/admin/attendance", admin, gin.H{"action": "generate-code"})
	require.Equal(t, http.StatusOK, w.Code)
	code := body["config"].(map[string]any)["verificationCode"]
	assert.Len(t, code, 4)

	_, body = s.do(http.MethodGet, "/v1/admin/attendance/config", admin, nil)
	assert.Equal(t, code, body["config"].(map[string]any)["verificationCode"])

	_, body = s.do(http.MethodGet, "/v1/attendance/status", s.token("12345", auth.RoleStudent), nil)
	assert.Equal(t, true, body["hasCode"])
	assert.NotContains(t, body["config"], "verificationCode", "students never see the code")

	w, body = s.do(http.MethodPost, "/v1/admin/attendance", admin, gin.H{"action": "clear-code"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["config"].(map[string]any)["codeEnabled"])

	w, _ = s.do(http.MethodPost, "/v1/admin/attendance", admin, gin.H{
		"action": "update-config",
		"config": gin.H{"session1Duration": 10, "dayOfWeek": 3},
	})
	require.Equal(t, http.StatusOK, w.Code)
	cfg, err := s.sched.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Session1Duration)
	assert.Equal(t, 3, cfg.DayOfWeek)

	w, _ = s.do(http.MethodPost, "/v1/admin/attendance", admin, gin.H{"action": "update-config", "config": gin.H{"dayOfWeek": 9}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, "/v1/admin/attendance", admin, gin.H{"action": "reboot"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInitializeSession(t *testing.T) {
	s := newServer(t)
	admin := s.token("admin-1", auth.RoleAdmin)

	w, body := s.do(http.MethodPost, "/v1/admin/attendance/initialize-session", admin, gin.H{"sessionTime": "15:20", "sessionDuration": 5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := body["result"].(map[string]any)
	assert.EqualValues(t, 2, result["weekNumber"], "defaults to the current week")
	assert.EqualValues(t, 2, result["newRecordsCount"])

	_, body = s.do(http.MethodPost, "/v1/admin/attendance/initialize-session", admin, gin.H{"sessionTime": "15:20", "weekNumber": 2})
	assert.EqualValues(t, 0, body["result"].(map[string]any)["newRecordsCount"])

	w, body = s.do(http.MethodGet, "/v1/admin/attendance/initialize-session?sessionTime=15:20&weekNumber=2", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["counts"].(map[string]any)["pending"])

	w, _ = s.do(http.MethodPost, "/v1/admin/attendance/initialize-session", admin, gin.H{"sessionTime": "09:00"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodGet, "/v1/admin/attendance/initialize-session?weekNumber=x", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordsWeekSummary(t *testing.T) {
	s := newServer(t)
	admin := s.token("admin-1", auth.RoleAdmin)
	_, _ = s.do(http.MethodPost, "/v1/attendance/check-in", admin, gin.H{"studentId": "22222"})

	w, body := s.do(http.MethodGet, "/v1/admin/attendance/records?weekNumber=2", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["totalStudents"])
	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 2)
	assert.EqualValues(t, 1, sessions[0].(map[string]any)["counts"].(map[string]any)["present"])

	_, body = s.do(http.MethodGet, "/v1/admin/attendance/records?sessionTime=15:20&weekNumber=2&includeAll=true", admin, nil)
	assert.Len(t, body["records"], 2)
}

func TestRecordCreateAndPatch(t *testing.T) {
	s := newServer(t)
	admin := s.token("admin-1", auth.RoleAdmin)

	w, body := s.do(http.MethodPost, "/v1/admin/attendance/record", admin, gin.H{
		"studentId": "22222", "sessionNumber": 2, "weekNumber": 1, "status": "late",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rec := body["record"].(map[string]any)
	assert.Equal(t, "Lee Jun", rec["studentName"])

	w, _ = s.do(http.MethodPost, "/v1/admin/attendance/record", admin, gin.H{
		"studentId": "22222", "sessionNumber": 2, "weekNumber": 1, "status": "present",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = s.do(http.MethodPatch, "/v1/admin/attendance/record", admin, gin.H{"recordId": "22222_2_1", "status": "present"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["created"])
	assert.Equal(t, "present", body["record"].(map[string]any)["status"])

	w, body = s.do(http.MethodPatch, "/v1/admin/attendance/record", admin, gin.H{"recordId": "12345_1_3", "status": "absent", "notes": "sick"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["created"])
	assert.Equal(t, "sick", body["record"].(map[string]any)["notes"])

	w, _ = s.do(http.MethodPatch, "/v1/admin/attendance/record", admin, gin.H{"recordId": "garbage", "status": "absent"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPatch, "/v1/admin/attendance/record", admin, gin.H{"recordId": "12345_1_3", "status": "excused"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMarkAbsentNormalizesMarkAs(t *testing.T) {
	s := newServer(t)
	admin := s.token("admin-1", auth.RoleAdmin)
	s.clock.set(time.Date(2026, time.January, 13, 15, 30, 0, 0, time.UTC))

	w, body := s.do(http.MethodPost, "/v1/admin/attendance/mark-absent", admin, gin.H{"sessionTime": "15:20", "weekNumber": 2, "markAs": " Late "})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := body["result"].(map[string]any)
	assert.Equal(t, "late", result["markedAs"])
	assert.EqualValues(t, 2, result["createdCount"])

	w, _ = s.do(http.MethodPost, "/v1/admin/attendance/mark-absent", admin, gin.H{"sessionTime": "15:40", "weekNumber": 2, "markAs": "Absent"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodPost, "/v1/admin/attendance/mark-absent", admin, gin.H{"sessionTime": "15:40", "weekNumber": 2, "markAs": "excused"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, "/v1/admin/attendance/mark-absent", admin, gin.H{"sessionTime": "15:40", "weekNumber": 2, "markAs": "Present"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "sweeps only mark absent or late")
}

func TestUpdateConfigRejectsOverlappingSessions(t *testing.T) {
	s := newServer(t)
	admin := s.token("admin-1", auth.RoleAdmin)

	w, body := s.do(http.MethodPost, "/v1/admin/attendance", admin, gin.H{"action": "update-config", "config": gin.H{"session1Duration": 15}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "after session 2 starts")

	cfg, err := s.sched.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Session1Duration, "rejected patch is not saved")
}
