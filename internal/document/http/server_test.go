package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"progress/internal/authtoken"
	"progress/internal/authz"
	"progress/internal/document/config"
	"progress/internal/document/model"
	"progress/internal/document/repository"
)

type fakeVerifier struct {
	claims map[string]*authtoken.Claims
}

func (v *fakeVerifier) Verify(_ context.Context, token string) (*authtoken.Claims, error) {
	claims, ok := v.claims[token]
	if !ok {
		return nil, authz.ErrUnauthenticated
	}
	return claims, nil
}

func newFakeVerifier() *fakeVerifier {
	admin := &authtoken.Claims{UserID: 1, Role: "ADMIN"}
	admin.Subject = "admin@example.com"
	teacher := &authtoken.Claims{UserID: 2, Role: "TEACHER"}
	teacher.Subject = "teacher@example.com"
	student := &authtoken.Claims{UserID: 3, Role: "STUDENT"}
	student.Subject = "student@example.com"
	return &fakeVerifier{claims: map[string]*authtoken.Claims{
		"admin":   admin,
		"teacher": teacher,
		"student": student,
	}}
}

type fakeFacts struct {
	timetables map[int64]bool
}

func (f *fakeFacts) TimetableExists(_ context.Context, id int64) bool {
	return f.timetables[id]
}

type memoryStore struct {
	mu     sync.Mutex
	nextID int64
	docs   map[int64]model.Document
}

func newMemoryStore() *memoryStore {
	return &memoryStore{nextID: 1, docs: make(map[int64]model.Document)}
}

func (m *memoryStore) CreateDocument(_ context.Context, doc model.Document) (model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc.ID = m.nextID
	m.nextID++
	doc.CreatedAt = time.Now().UTC()
	doc.UpdatedAt = doc.CreatedAt
	m.docs[doc.ID] = doc
	return doc, nil
}

func (m *memoryStore) GetDocument(_ context.Context, id int64) (model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return model.Document{}, repository.ErrNotFound
	}
	return doc, nil
}

func (m *memoryStore) ListDocuments(_ context.Context) ([]model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := make([]model.Document, 0, len(m.docs))
	for _, doc := range m.docs {
		docs = append(docs, doc)
	}
	return docs, nil
}

func (m *memoryStore) ListDocumentsByUser(_ context.Context, userID int64) ([]model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var docs []model.Document
	for _, doc := range m.docs {
		if doc.UserID == userID {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (m *memoryStore) ListDocumentsBySchool(_ context.Context, schoolID int64) ([]model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var docs []model.Document
	for _, doc := range m.docs {
		if doc.SchoolID == schoolID {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (m *memoryStore) FindByUserAndDate(_ context.Context, userID int64, date time.Time) (model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range m.docs {
		if doc.UserID == userID && doc.Date.Equal(date) {
			return doc, nil
		}
	}
	return model.Document{}, repository.ErrNotFound
}

func (m *memoryStore) UpdateDocument(_ context.Context, id int64, update repository.DocumentUpdate) (model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return model.Document{}, repository.ErrNotFound
	}
	if update.Date != nil {
		doc.Date = *update.Date
	}
	if update.Status != nil {
		doc.Status = *update.Status
	}
	if update.Notes != nil {
		doc.Notes = *update.Notes
	}
	doc.UpdatedAt = time.Now().UTC()
	m.docs[id] = doc
	return doc, nil
}

func (m *memoryStore) DeleteDocument(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memoryStore) {
	t.Helper()
	store := newMemoryStore()
	facts := &fakeFacts{timetables: map[int64]bool{10: true}}
	server := NewServer(config.Config{}, store, facts, newFakeVerifier())
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func do(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatal(err)
	}
}

func createDocument(t *testing.T, ts *httptest.Server, userID int64, date, status string) documentInfo {
	t.Helper()
	resp := do(t, http.MethodPost, ts.URL+"/documents", "teacher", map[string]any{
		"userId":      userID,
		"schoolId":    int64(5),
		"timetableId": int64(10),
		"date":        date,
		"status":      status,
		"notes":       "arrived on time",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create document: got %d", resp.StatusCode)
	}
	var info documentInfo
	decode(t, resp, &info)
	return info
}

func TestCreateDocumentChecksTimetable(t *testing.T) {
	ts, _ := newTestServer(t)

	info := createDocument(t, ts, 3, "2024-03-11", "PRESENT")
	if info.ID == 0 || info.Status != "PRESENT" || info.Date != "2024-03-11" {
		t.Fatalf("unexpected document %+v", info)
	}

	// Timetable 99 does not exist upstream, so the create is refused.
	resp := do(t, http.MethodPost, ts.URL+"/documents", "teacher", map[string]any{
		"userId": int64(3), "schoolId": int64(5), "timetableId": int64(99),
		"date": "2024-03-11", "status": "PRESENT",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown timetable: got %d, want 404", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["error"] != "timetable_not_found" {
		t.Fatalf("got error %q, want timetable_not_found", body["error"])
	}
}

func TestCreateDocumentValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/documents", "teacher", map[string]any{
		"userId": int64(3), "schoolId": int64(5), "timetableId": int64(10),
		"date": "2024-03-11", "status": "SLEEPING",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid status: got %d, want 400", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, ts.URL+"/documents", "teacher", map[string]any{
		"userId": int64(3), "schoolId": int64(5), "timetableId": int64(10),
		"date": "11/03/2024", "status": "PRESENT",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid date: got %d, want 400", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, ts.URL+"/documents", "student", map[string]any{
		"userId": int64(3), "schoolId": int64(5), "timetableId": int64(10),
		"date": "2024-03-11", "status": "PRESENT",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("student create: got %d, want 403", resp.StatusCode)
	}
}

func TestCheckAttendance(t *testing.T) {
	ts, _ := newTestServer(t)
	createDocument(t, ts, 3, "2024-03-11", "LATE")

	resp := do(t, http.MethodGet, ts.URL+"/documents/check-attendance?studentId=3&date=2024-03-11", "student", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check attendance: got %d", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["status"] != "LATE" || body["notes"] != "arrived on time" {
		t.Fatalf("unexpected attendance %+v", body)
	}

	// No record for that day answers NONE rather than 404.
	resp = do(t, http.MethodGet, ts.URL+"/documents/check-attendance?studentId=3&date=2024-03-12", "student", nil)
	decode(t, resp, &body)
	if body["status"] != "NONE" {
		t.Fatalf("unexpected attendance %+v", body)
	}

	resp = do(t, http.MethodGet, ts.URL+"/documents/check-attendance?studentId=3&date=2024-03-11", "admin", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("admin on check-attendance: got %d, want 403", resp.StatusCode)
	}
}

func TestDocumentListingsAndRoleGates(t *testing.T) {
	ts, _ := newTestServer(t)
	createDocument(t, ts, 3, "2024-03-11", "PRESENT")
	createDocument(t, ts, 4, "2024-03-11", "ABSENT")

	resp := do(t, http.MethodGet, ts.URL+"/documents", "admin", nil)
	var docs []documentInfo
	decode(t, resp, &docs)
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}

	resp = do(t, http.MethodGet, ts.URL+"/documents", "teacher", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("teacher on GET /documents: got %d, want 403", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, ts.URL+"/documents/user/3", "teacher", nil)
	decode(t, resp, &docs)
	if len(docs) != 1 || docs[0].UserID != 3 {
		t.Fatalf("unexpected user listing %+v", docs)
	}

	// Per-user listings belong to students and teachers only.
	resp = do(t, http.MethodGet, ts.URL+"/documents/user/3", "admin", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("admin on user listing: got %d, want 403", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, ts.URL+"/documents/school/5", "admin", nil)
	decode(t, resp, &docs)
	if len(docs) != 2 {
		t.Fatalf("unexpected school listing %+v", docs)
	}
}

func TestUpdateAndDeleteDocument(t *testing.T) {
	ts, _ := newTestServer(t)
	info := createDocument(t, ts, 3, "2024-03-11", "PRESENT")

	resp := do(t, http.MethodPut, ts.URL+"/documents/1", "teacher", map[string]string{"status": "ABSENT"})
	var updated documentInfo
	decode(t, resp, &updated)
	if updated.Status != "ABSENT" || updated.Date != info.Date {
		t.Fatalf("unexpected update result %+v", updated)
	}

	resp = do(t, http.MethodDelete, ts.URL+"/documents/1", "teacher", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("teacher delete: got %d, want 403", resp.StatusCode)
	}

	resp = do(t, http.MethodDelete, ts.URL+"/documents/1", "admin", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin delete: got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, ts.URL+"/documents/1", "student", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted document: got %d, want 404", resp.StatusCode)
	}
}
