package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/madcarpet/lessonadmin/internal/authorization"
	"github.com/madcarpet/lessonadmin/internal/authorization/jwt"
	"github.com/madcarpet/lessonadmin/internal/batch"
	"github.com/madcarpet/lessonadmin/internal/blocks"
	"github.com/madcarpet/lessonadmin/internal/constants"
	"github.com/madcarpet/lessonadmin/internal/grading"
	"github.com/madcarpet/lessonadmin/internal/lessons"
	"github.com/madcarpet/lessonadmin/internal/models"
	"github.com/madcarpet/lessonadmin/internal/payments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminID  = "0b9c9a53-6a4e-4a2f-8f7e-1d2c3b4a5f60"
	lessonID = "5d1e7c1a-3f0b-4c8e-9b2a-6e4f8d7c1b20"
	blockID  = "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"
	payID    = "c4f1e2d3-b4a5-4968-8776-655443322110"
)

type fakeAdmins struct{ hash string }

func (f fakeAdmins) GetAdminByLogin(_ context.Context, login string) (*models.Admin, error) {
	if login != "root" {
		return nil, nil
	}
	return &models.Admin{ID: adminID, Login: login, Password: f.hash}, nil
}

type fakeLessons struct {
	actor    string
	position *int
	confirm  bool
	err      error
}

func (f *fakeLessons) ListBlocks(context.Context, string) ([]models.LessonBlock, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []models.LessonBlock{{ID: blockID, LessonID: lessonID, BlockType: "text", Content: json.RawMessage(`{"text":"hi"}`)}}, nil
}

func (f *fakeLessons) CreateBlock(_ context.Context, actorID, lID string, t blocks.Type, content json.RawMessage, position *int) (*models.LessonBlock, error) {
	f.actor, f.position = actorID, position
	if f.err != nil {
		return nil, f.err
	}
	return &models.LessonBlock{ID: blockID, LessonID: lID, BlockType: string(t), Content: content}, nil
}

func (f *fakeLessons) UpdateBlock(_ context.Context, actorID, id string, content json.RawMessage) (*models.LessonBlock, error) {
	f.actor = actorID
	if f.err != nil {
		return nil, f.err
	}
	return &models.LessonBlock{ID: id, Content: content}, nil
}

func (f *fakeLessons) DeleteBlock(_ context.Context, actorID, _ string) error {
	f.actor = actorID
	return f.err
}

func (f *fakeLessons) ReorderBlocks(_ context.Context, actorID, _ string, ids []string) ([]models.LessonBlock, error) {
	f.actor = actorID
	if f.err != nil {
		return nil, f.err
	}
	out := []models.LessonBlock{}
	for i, id := range ids {
		out = append(out, models.LessonBlock{ID: id, Order: i})
	}
	return out, nil
}

func (f *fakeLessons) GradeBlock(context.Context, string, json.RawMessage) (grading.Result, error) {
	if f.err != nil {
		return grading.Result{}, f.err
	}
	return grading.Result{Correct: 2, Total: 3}, nil
}

func (f *fakeLessons) DeleteAssets(_ context.Context, actorID, _ string, _ []string, confirm bool) (*models.DeleteReport, error) {
	f.actor, f.confirm = actorID, confirm
	if f.err != nil {
		return nil, f.err
	}
	return &models.DeleteReport{DryRun: !confirm, Allowed: 1}, nil
}

type fakePayments struct {
	filter models.PaymentFilter
	called string
	ids    []string
	err    error
}

func (f *fakePayments) ListUnified(_ context.Context, filter models.PaymentFilter) ([]models.UnifiedPayment, error) {
	f.filter = filter
	return []models.UnifiedPayment{{ID: payID, Source: constants.SourcePayments}}, f.err
}

func (f *fakePayments) record(name string, ids []string) (batch.Result, error) {
	f.called, f.ids = name, ids
	if f.err != nil {
		return batch.Result{}, f.err
	}
	return batch.Result{Total: len(ids), Success: len(ids), Errors: []string{}}, nil
}

func (f *fakePayments) FetchReceipts(_ context.Context, _ string, ids []string) (batch.Result, error) {
	return f.record("receipts", ids)
}

func (f *fakePayments) LinkOrders(_ context.Context, _ string, ids []string) (batch.Result, error) {
	return f.record("link-orders", ids)
}

func (f *fakePayments) CreateDeals(_ context.Context, _ string, ids []string) (batch.Result, error) {
	return f.record("deals", ids)
}

type testEnv struct {
	handler  http.Handler
	token    string
	lessons  *fakeLessons
	payments *fakePayments
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	hash, err := authorization.HashPassword("pa55")
	require.NoError(t, err)
	tk := jwt.NewJwtTokenizer("test-key", time.Hour)
	token, err := tk.ProduceToken(adminID)
	require.NoError(t, err)

	env := &testEnv{token: token, lessons: &fakeLessons{}, payments: &fakePayments{}}
	router := NewHTTPRouter(fakeAdmins{hash: hash}, env.lessons, env.payments, tk)
	require.NoError(t, router.RouterInit())
	env.handler = router.Handler()
	return env
}

func (e *testEnv) do(method, path, body string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if body != "" {
		req.Header.Set("Content-Type", constants.CntTypeHeaderJSON)
	}
	if auth {
		req.Header.Set(constants.HeaderToken, "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func Test_LoginPostHandler(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"ok", `{"login":"root","password":"pa55"}`, http.StatusOK},
		{"wrong password", `{"login":"root","password":"nope"}`, http.StatusUnauthorized},
		{"unknown login", `{"login":"ghost","password":"pa55"}`, http.StatusUnauthorized},
		{"missing fields", `{"login":"root"}`, http.StatusBadRequest},
		{"bad json", `{"login":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/admin/login", tt.body, false)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.NotEmpty(t, rec.Header().Get(constants.HeaderToken))
			}
		})
	}
}

func Test_Routes_RequireToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/lessons/" + lessonID + "/blocks"},
		{http.MethodPut, "/api/blocks/" + blockID},
		{http.MethodGet, "/api/payments"},
		{http.MethodPost, "/api/payments/batch/deals"},
	}
	for _, p := range paths {
		rec := env.do(p.method, p.path, "", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, p.path)
	}
}

func Test_BlocksHandlers(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/lessons/"+lessonID+"/blocks", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.LessonBlock
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = env.do(http.MethodPost, "/api/lessons/"+lessonID+"/blocks", `{"type":"text","content":{"text":"hi"},"position":0}`, true)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, adminID, env.lessons.actor)
	require.NotNil(t, env.lessons.position)
	assert.Equal(t, 0, *env.lessons.position)

	rec = env.do(http.MethodPut, "/api/blocks/"+blockID, `{"content":{"text":"bye"}}`, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPut, "/api/lessons/"+lessonID+"/blocks/order", `{"block_ids":["`+blockID+`"]}`, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPost, "/api/blocks/"+blockID+"/grade", `{"selected":["a"]}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var res grading.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Correct)

	rec = env.do(http.MethodDelete, "/api/blocks/"+blockID, "", true)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodPost, "/api/lessons/"+lessonID+"/assets/delete", `{"paths":["lessons/x/a.png"],"confirm":true}`, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.lessons.confirm)
}

func Test_BlocksHandlers_BadInput(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/lessons/not-a-uuid/blocks", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/lessons/"+lessonID+"/blocks", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", constants.CntTypeHeaderText)
	req.Header.Set(constants.HeaderToken, env.token)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.lessons.actor = ""
	rec = env.do(http.MethodPost, "/api/lessons/"+lessonID+"/blocks", `{"type":"carousel","content":{}}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, env.lessons.actor, "unknown type must not reach the service")
}

func Test_writeError_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", lessons.ErrLessonNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", lessons.ErrBlockNotFound), http.StatusNotFound},
		{lessons.ErrOwnershipMismatch, http.StatusForbidden},
		{fmt.Errorf("%w: quiz", blocks.ErrUnknownBlockType), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: text: empty", blocks.ErrInvalidContent), http.StatusUnprocessableEntity},
		{blocks.ErrNotGradeable, http.StatusUnprocessableEntity},
		{lessons.ErrOrderMismatch, http.StatusUnprocessableEntity},
		{lessons.ErrNoPaths, http.StatusBadRequest},
		{payments.ErrEmptySelection, http.StatusBadRequest},
		{fmt.Errorf("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, "test", tt.err)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func Test_PaymentsGetHandler(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/payments?status=succeeded&profile_id=p1&limit=20&offset=40", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.PaymentFilter{Status: "succeeded", ProfileID: "p1", Limit: 20, Offset: 40}, env.payments.filter)

	rec = env.do(http.MethodGet, "/api/payments?limit=-5", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_PaymentsBatchPostHandler(t *testing.T) {
	t.Parallel()

	for _, action := range []string{"receipts", "link-orders", "deals"} {
		t.Run(action, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(http.MethodPost, "/api/payments/batch/"+action, `{"payment_ids":["`+payID+`"]}`, true)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, action, env.payments.called)
			assert.Equal(t, []string{payID}, env.payments.ids)

			var res batch.Result
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
			assert.Equal(t, 1, res.Success)
		})
	}

	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/payments/batch/refunds", `{"payment_ids":[]}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, "/api/payments/batch/deals", `{"payment_ids":["nope"]}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.payments.err = payments.ErrEmptySelection
	rec = env.do(http.MethodPost, "/api/payments/batch/deals", `{"payment_ids":[]}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
