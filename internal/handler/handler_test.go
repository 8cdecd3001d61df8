package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/docnt/docnt/internal/auth"
	"github.com/docnt/docnt/internal/grading"
	appI18n "github.com/docnt/docnt/internal/i18n"
	"github.com/docnt/docnt/internal/model"
	"github.com/docnt/docnt/internal/store"
	"github.com/docnt/docnt/internal/uploads"
)

type fakeVision struct {
	raw   string
	err   error
	calls atomic.Int32
}

func (f *fakeVision) Grade(ctx context.Context, image string, questionCount int) (string, error) {
	f.calls.Add(1)
	return f.raw, f.err
}

type testEnv struct {
	router http.Handler
	store  *store.Store
	fs     afero.Fs
	vision *fakeVision
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	require.NoError(t, appI18n.Init("en"))

	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	fs := afero.NewMemMapFs()
	vision := &fakeVision{}
	grader := grading.NewGrader(grading.NewLocalResolver(fs), vision, time.Second)
	tokens, err := auth.NewIssuer("test-secret", 0)
	require.NoError(t, err)

	h := New(s, grader, uploads.New(fs, 0), tokens, Config{})
	r := chi.NewRouter()
	h.Routes(r)
	return &testEnv{router: r, store: s, fs: fs, vision: vision}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, session *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if session != nil {
		req.AddCookie(session)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatalf("no session cookie in response")
	return nil
}

func (e *testEnv) register(t *testing.T, email string) *http.Cookie {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"name": "Prof", "email": email, "password": "secret123",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return sessionCookie(t, rec)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seedExam creates a course with one exam and one student through the API.
func (e *testEnv) seedExam(t *testing.T, session *http.Cookie) (course model.Course, exam model.Exam, student model.Student) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/courses", map[string]string{"name": "Math 1", "code": "MAT1"}, session)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	course = decodeBody[model.Course](t, rec)

	rec = e.do(t, http.MethodPost, "/api/courses/"+course.ID+"/exams", map[string]any{"title": "Quiz 1"}, session)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	exam = decodeBody[model.Exam](t, rec)

	rec = e.do(t, http.MethodPost, "/api/courses/"+course.ID+"/students", map[string]string{"name": "Ana"}, session)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	student = decodeBody[model.Student](t, rec)
	return course, exam, student
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/auth/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	session := env.register(t, "Prof@Example.com")

	rec = env.do(t, http.MethodGet, "/api/auth/me", nil, session)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody[map[string]model.User](t, rec)
	require.Equal(t, "prof@example.com", me["user"].Email)
	require.NotContains(t, rec.Body.String(), "password")

	rec = env.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"name": "Other", "email": "prof@example.com", "password": "secret123",
	}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "prof@example.com", "password": "wrong-password",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "prof@example.com", "password": "secret123",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	login := sessionCookie(t, rec)

	rec = env.do(t, http.MethodPost, "/api/auth/logout", nil, login)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/auth/me", nil, login)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// The registration session is a different token and stays valid.
	rec = env.do(t, http.MethodGet, "/api/auth/me", nil, session)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"short password", map[string]string{"name": "A", "email": "a@example.com", "password": "123"}},
		{"bad email", map[string]string{"name": "A", "email": "not-an-email", "password": "secret123"}},
		{"missing name", map[string]string{"email": "a@example.com", "password": "secret123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/auth/register", tt.body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCourseOwnership(t *testing.T) {
	env := newTestEnv(t)
	owner := env.register(t, "owner@example.com")
	other := env.register(t, "other@example.com")
	course, exam, student := env.seedExam(t, owner)

	rec := env.do(t, http.MethodGet, "/api/courses", nil, owner)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]model.Course](t, rec)
	require.Len(t, list, 1)
	require.Equal(t, 1, list[0].StudentCount)
	require.Equal(t, 1, list[0].ExamCount)

	rec = env.do(t, http.MethodGet, "/api/courses", nil, other)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	forbidden := []struct{ method, path string }{
		{http.MethodGet, "/api/courses/" + course.ID},
		{http.MethodDelete, "/api/courses/" + course.ID},
		{http.MethodGet, "/api/exams/" + exam.ID},
		{http.MethodGet, "/api/exams/" + exam.ID + "/grades"},
		{http.MethodPost, "/api/students/" + student.ID + "/toggle"},
	}
	for _, f := range forbidden {
		rec := env.do(t, f.method, f.path, nil, other)
		require.Equal(t, http.StatusForbidden, rec.Code, "%s %s", f.method, f.path)
	}

	rec = env.do(t, http.MethodGet, "/api/courses/does-not-exist", nil, owner)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStudentToggle(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "prof@example.com")
	course, _, student := env.seedExam(t, session)

	rec := env.do(t, http.MethodPost, "/api/students/"+student.ID+"/toggle", nil, session)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decodeBody[model.Student](t, rec).Active)

	rec = env.do(t, http.MethodGet, "/api/courses/"+course.ID+"/students", nil, session)
	require.JSONEq(t, `[]`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/courses/"+course.ID+"/students?all=1", nil, session)
	require.Len(t, decodeBody[[]model.Student](t, rec), 1)
}

func TestGradeEndpoint(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "prof@example.com")
	require.NoError(t, afero.WriteFile(env.fs, "sheet.png", []byte("png"), 0o644))

	env.vision.raw = "Respuestas:\n{\"1\":\"A\",\"2\":\"C\",\"3\":\"B\"}"
	rec := env.do(t, http.MethodPost, "/api/ai/grade", map[string]any{
		"imageUrl": "/uploads/sheet.png",
		"rubric":   map[string]string{"1": "A", "2": "B", "3": "B"},
		"points":   map[string]int{"1": 2, "2": 2, "3": 1},
	}, session)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Success     bool               `json:"success"`
		Answers     map[string]*string `json:"answers"`
		TotalScore  int                `json:"totalScore"`
		MaxScore    int                `json:"maxScore"`
		Grade       float64            `json:"grade"`
		RawResponse string             `json:"rawResponse"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Equal(t, 3, body.TotalScore)
	require.Equal(t, 5, body.MaxScore)
	require.InDelta(t, 4.2, body.Grade, 1e-9)
	require.Equal(t, env.vision.raw, body.RawResponse)
}

func TestGradeEndpointErrors(t *testing.T) {
	rubric := map[string]string{"1": "A"}
	tests := []struct {
		name      string
		body      any
		raw       string
		visionErr error
		status    int
		kind      grading.Kind
		wantRaw   bool
	}{
		{"missing image", map[string]any{"rubric": rubric}, "", nil, http.StatusBadRequest, grading.KindInvalidRequest, false},
		{"empty rubric", map[string]any{"imageUrl": "https://x/a.jpg", "rubric": map[string]string{}}, "", nil, http.StatusBadRequest, grading.KindInvalidRequest, false},
		{"malformed json", "not an object", "", nil, http.StatusBadRequest, grading.KindInvalidRequest, false},
		{"missing upload", map[string]any{"imageUrl": "/uploads/none.png", "rubric": rubric}, "", nil, http.StatusUnprocessableEntity, grading.KindImageRead, false},
		{"upstream", map[string]any{"imageUrl": "https://x/a.jpg", "rubric": rubric}, "", &grading.UpstreamError{StatusCode: 500, Body: "boom"}, http.StatusBadGateway, grading.KindUpstream, false},
		{"unparseable", map[string]any{"imageUrl": "https://x/a.jpg", "rubric": rubric}, "I cannot read this", nil, http.StatusBadGateway, grading.KindResponseParse, true},
		{"timeout", map[string]any{"imageUrl": "https://x/a.jpg", "rubric": rubric}, "", grading.ErrTimeout, http.StatusGatewayTimeout, grading.KindTimeout, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			session := env.register(t, "prof@example.com")
			env.vision.raw, env.vision.err = tt.raw, tt.visionErr

			rec := env.do(t, http.MethodPost, "/api/ai/grade", tt.body, session)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			body := decodeBody[gradeFailure](t, rec)
			require.False(t, body.Success)
			require.Equal(t, tt.kind, body.Kind)
			require.NotEmpty(t, body.Error)
			require.NotContains(t, body.Error, "boom")
			if tt.wantRaw {
				require.Equal(t, tt.raw, body.RawResponse)
			} else {
				require.Empty(t, body.RawResponse)
			}
		})
	}
}

func TestAutograde(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "prof@example.com")
	_, exam, student := env.seedExam(t, session)
	require.NoError(t, afero.WriteFile(env.fs, "ana.jpg", []byte("jpg"), 0o644))

	path := "/api/exams/" + exam.ID + "/students/" + student.ID + "/autograde"
	req := map[string]string{"imageUrl": "/uploads/ana.jpg"}

	rec := env.do(t, http.MethodPost, path, req, session)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, env.vision.calls.Load())

	rec = env.do(t, http.MethodPut, "/api/exams/"+exam.ID+"/rubric", map[string]any{
		"rubric": map[string]string{"1": "A", "2": "B"},
	}, session)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// A failed run with no previous grade writes nothing.
	env.vision.err = &grading.UpstreamError{StatusCode: 503, Body: "down"}
	rec = env.do(t, http.MethodPost, path, req, session)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	g, err := env.store.GetGrade(exam.ID, student.ID)
	require.NoError(t, err)
	require.Nil(t, g)

	env.vision.err = nil
	env.vision.raw = `{"1":"A","2":null}`
	rec = env.do(t, http.MethodPost, path, req, session)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	g, err = env.store.GetGrade(exam.ID, student.ID)
	require.NoError(t, err)
	require.NotNil(t, g)
	require.Equal(t, model.GradeGraded, g.Status)
	require.EqualValues(t, 1, g.Score)
	require.InDelta(t, 3.5, *g.Grade, 1e-9)
	require.Equal(t, "/uploads/ana.jpg", g.AnswersURL)
	require.JSONEq(t, `{"1":"A","2":null}`, string(g.AnswersData))

	e, err := env.store.GetExam(exam.ID)
	require.NoError(t, err)
	require.Equal(t, model.ExamGraded, e.Status)

	rec = env.do(t, http.MethodGet, "/api/exams/"+exam.ID+"/grades", nil, session)
	require.Equal(t, http.StatusOK, rec.Code)
	views := decodeBody[[]model.GradeView](t, rec)
	require.Len(t, views, 1)
	require.Equal(t, "Ana", views[0].StudentName)
}

func TestAutogradeFailureKeepsExistingGrade(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "prof@example.com")
	_, exam, student := env.seedExam(t, session)
	require.NoError(t, afero.WriteFile(env.fs, "ana.jpg", []byte("jpg"), 0o644))

	rec := env.do(t, http.MethodPut, "/api/exams/"+exam.ID+"/rubric", map[string]any{
		"rubric": map[string]string{"1": "A", "2": "B"},
	}, session)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/api/exams/"+exam.ID+"/students/"+student.ID+"/grade",
		map[string]any{"score": 9, "grade": 6.1, "feedback": "revisado a mano", "answersUrl": "/uploads/old.jpg"}, session)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	before, err := env.store.GetGrade(exam.ID, student.ID)
	require.NoError(t, err)
	require.NotNil(t, before)

	path := "/api/exams/" + exam.ID + "/students/" + student.ID + "/autograde"
	failures := []struct {
		name   string
		raw    string
		err    error
		status int
	}{
		{"upstream", "", &grading.UpstreamError{StatusCode: 503, Body: "down"}, http.StatusBadGateway},
		{"unparseable", "I cannot read this sheet", nil, http.StatusBadGateway},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			env.vision.raw, env.vision.err = tt.raw, tt.err
			rec := env.do(t, http.MethodPost, path, map[string]string{"imageUrl": "/uploads/ana.jpg"}, session)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			after, err := env.store.GetGrade(exam.ID, student.ID)
			require.NoError(t, err)
			require.Equal(t, before, after)
		})
	}

	rec = env.do(t, http.MethodPost, path, map[string]string{"imageUrl": "/uploads/missing.jpg"}, session)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	after, err := env.store.GetGrade(exam.ID, student.ID)
	require.NoError(t, err)
	require.Equal(t, before, after)

	e, err := env.store.GetExam(exam.ID)
	require.NoError(t, err)
	require.Equal(t, model.ExamDraft, e.Status)
	require.EqualValues(t, 2, env.vision.calls.Load())
}

func TestAutogradeStudentFromOtherCourse(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "prof@example.com")
	_, exam, _ := env.seedExam(t, session)
	_, _, outsider := env.seedExam(t, session)

	rec := env.do(t, http.MethodPost, "/api/exams/"+exam.ID+"/students/"+outsider.ID+"/autograde",
		map[string]string{"imageUrl": "https://x/a.jpg"}, session)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, env.vision.calls.Load())
}

func TestManualGradeAndExport(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "prof@example.com")
	_, exam, student := env.seedExam(t, session)

	path := "/api/exams/" + exam.ID + "/students/" + student.ID + "/grade"
	rec := env.do(t, http.MethodPut, path, map[string]any{"score": 8, "grade": 6.1, "feedback": "bien"}, session)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, model.GradeGraded, decodeBody[model.Grade](t, rec).Status)

	rec = env.do(t, http.MethodPut, path, map[string]any{"score": 1, "grade": 9.5}, session)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/exams/"+exam.ID+"/export", nil, session)
	require.Equal(t, http.StatusOK, rec.Code)
	exp := decodeBody[model.ExamExport](t, rec)
	require.Equal(t, 1, exp.NumGraded)
	require.InDelta(t, 6.1, *exp.Average, 1e-9)

	rec = env.do(t, http.MethodDelete, path, nil, session)
	require.Equal(t, http.StatusOK, rec.Code)
	g, err := env.store.GetGrade(exam.ID, student.ID)
	require.NoError(t, err)
	require.Nil(t, g)
}

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

func (e *testEnv) upload(t *testing.T, session *http.Cookie, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "scan.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(session)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "prof@example.com")

	rec := env.upload(t, session, pngHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[map[string]any](t, rec)
	url := body["url"].(string)
	require.Regexp(t, `^/uploads/[0-9a-f-]+\.png$`, url)

	rec = env.do(t, http.MethodGet, url, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, pngHeader, rec.Body.Bytes())

	rec = env.do(t, http.MethodGet, "/uploads/", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.upload(t, session, []byte("just some text"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.upload(t, session, []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "PNG, JPEG or WebP")
}

func TestUploadedImageFeedsGrading(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "prof@example.com")

	rec := env.upload(t, session, pngHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	url := decodeBody[map[string]any](t, rec)["url"].(string)

	env.vision.raw = `{"1":"D"}`
	rec = env.do(t, http.MethodPost, "/api/ai/grade", map[string]any{
		"imageUrl": url,
		"rubric":   map[string]string{"1": "D"},
	}, session)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.EqualValues(t, 7, decodeBody[map[string]any](t, rec)["grade"])
}
