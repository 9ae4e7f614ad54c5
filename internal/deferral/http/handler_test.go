package deferralhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/deferrals/internal/accounting"
	"github.com/odyssey-erp/deferrals/internal/deferral"
	"github.com/odyssey-erp/deferrals/internal/shared"
	"github.com/odyssey-erp/deferrals/jobs"
)

type fakeService struct {
	preview     *deferral.Service
	settings    deferral.Settings
	generate    []deferral.GenerateRequest
	generateErr error
	cancel      []deferral.CancelRequest
	cancelErr   error
	reports     []deferral.ReportRequest
	reportErr   error
}

func newFakeService() *fakeService {
	return &fakeService{preview: deferral.NewService(nil, nil, nil, deferral.ServiceConfig{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		DefaultCurrency: "USD",
	})}
}

func (f *fakeService) Settings(_ context.Context, companyID int64) (deferral.Settings, error) {
	s := f.settings
	s.CompanyID = companyID
	return s, nil
}

func (f *fakeService) Preview(ctx context.Context, dir deferral.Direction, settings deferral.Settings, lines []deferral.Line) (deferral.Result, error) {
	return f.preview.Preview(ctx, dir, settings, lines)
}

func (f *fakeService) Generate(_ context.Context, req deferral.GenerateRequest) (deferral.GenerateSummary, error) {
	f.generate = append(f.generate, req)
	if f.generateErr != nil {
		return deferral.GenerateSummary{}, f.generateErr
	}
	return deferral.GenerateSummary{
		CompanyID:  req.CompanyID,
		Directions: []deferral.DirectionSummary{{Direction: deferral.DirectionExpense, Lines: 1, Entries: 13}},
	}, nil
}

func (f *fakeService) Cancel(_ context.Context, req deferral.CancelRequest) (deferral.CancelSummary, error) {
	f.cancel = append(f.cancel, req)
	if f.cancelErr != nil {
		return deferral.CancelSummary{}, f.cancelErr
	}
	return deferral.CancelSummary{OriginLineID: req.OriginLineID, Voided: []int64{4}, Reversals: []int64{}}, nil
}

func (f *fakeService) Report(_ context.Context, req deferral.ReportRequest) (deferral.Report, error) {
	f.reports = append(f.reports, req)
	if f.reportErr != nil {
		return deferral.Report{}, f.reportErr
	}
	return deferral.Report{Direction: req.Direction, Method: deferral.MethodMonth}, nil
}

type fakeEnqueuer struct {
	payloads []jobs.DeferralGeneratePayload
	err      error
}

func (f *fakeEnqueuer) EnqueueDeferralGenerate(_ context.Context, payload jobs.DeferralGeneratePayload) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueDefault}, nil
}

type memIdempotency struct {
	keys map[string]bool
}

func (m *memIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	if m.keys[module+"/"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+"/"+key] = true
	return nil
}

func (m *memIdempotency) Delete(_ context.Context, key, module string) error {
	delete(m.keys, module+"/"+key)
	return nil
}

type handlerFixture struct {
	router  chi.Router
	service *fakeService
	queue   *fakeEnqueuer
	keys    *memIdempotency
}

func newHandlerFixture(t *testing.T, reportLimit int) handlerFixture {
	t.Helper()
	f := handlerFixture{
		router:  chi.NewRouter(),
		service: newFakeService(),
		queue:   &fakeEnqueuer{},
		keys:    &memIdempotency{keys: map[string]bool{}},
	}
	h := NewHandler(Config{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Service:     f.service,
		Jobs:        f.queue,
		Idempotency: f.keys,
		ReportLimit: reportLimit,
	})
	h.MountRoutes(f.router)
	return f
}

func (f handlerFixture) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

const previewBody = `{
	"direction": "expense",
	"method": "month",
	"deferred_account_id": 900,
	"journal_code": "MISC",
	"lines": [{
		"id": 1,
		"account_id": 600,
		"balance": "1200.00",
		"start_date": "2024-01-15",
		"end_date": "2024-12-14",
		"accounting_date": "2024-01-15"
	}]
}`

func TestHandlePreview(t *testing.T) {
	f := newHandlerFixture(t, 0)

	rr := f.do(http.MethodPost, "/deferrals/preview", previewBody, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp PreviewResp
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, deferral.DirectionExpense, resp.Direction)
	require.Len(t, resp.Lines, 1)
	require.Len(t, resp.Lines[0].Periods, 12)
	require.Equal(t, "2024-01-15", resp.Lines[0].Periods[0].Start)
	require.Len(t, resp.Lines[0].Moves, 13)
	require.Equal(t, "58.18", resp.Lines[0].Moves[1].Lines[0].Balance.StringFixed(2))
}

func TestHandlePreviewUsesStoredSettings(t *testing.T) {
	f := newHandlerFixture(t, 0)
	f.service.settings = deferral.Settings{DeferredExpenseAccountID: 900, JournalCode: "MISC", ExpenseMethod: deferral.MethodDay}

	body := strings.Replace(previewBody, `"deferred_account_id": 900,`, `"company_id": 5,`, 1)
	body = strings.Replace(body, `"method": "month",`, "", 1)
	rr := f.do(http.MethodPost, "/deferrals/preview", body, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp PreviewResp
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "60.90", resp.Lines[0].Moves[1].Lines[0].Balance.StringFixed(2))
}

func TestHandlePreviewErrors(t *testing.T) {
	f := newHandlerFixture(t, 0)

	rr := f.do(http.MethodPost, "/deferrals/preview", strings.Replace(previewBody, `"expense"`, `"asset"`, 1), nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Body.String(), "Direction")

	rr = f.do(http.MethodPost, "/deferrals/preview", strings.Replace(previewBody, `"deferred_account_id": 900,`, "", 1), nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = f.do(http.MethodPost, "/deferrals/preview", `{"direction":"expense","lines":[],"extra":1}`, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleGenerateSync(t *testing.T) {
	f := newHandlerFixture(t, 0)

	rr := f.do(http.MethodPost, "/deferrals/generate?sync=1", `{"company_id":5,"direction":"expense","line_ids":[1]}`, map[string]string{ActorHeader: "42"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, []deferral.GenerateRequest{{CompanyID: 5, Direction: deferral.DirectionExpense, LineIDs: []int64{1}, ActorID: 42}}, f.service.generate)

	var summary deferral.GenerateSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	require.Equal(t, 13, summary.Entries())
	require.Empty(t, f.queue.payloads)
}

func TestHandleGenerateQueues(t *testing.T) {
	f := newHandlerFixture(t, 0)

	rr := f.do(http.MethodPost, "/deferrals/generate", `{"company_id":5}`, nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, []jobs.DeferralGeneratePayload{{CompanyID: 5}}, f.queue.payloads)

	var resp GenerateQueuedResp
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "task-1", resp.TaskID)
	require.Empty(t, f.service.generate)
}

func TestHandleGenerateIdempotency(t *testing.T) {
	f := newHandlerFixture(t, 0)
	headers := map[string]string{IdempotencyHeader: "run-1"}

	rr := f.do(http.MethodPost, "/deferrals/generate", `{"company_id":5}`, headers)
	require.Equal(t, http.StatusAccepted, rr.Code)
	rr = f.do(http.MethodPost, "/deferrals/generate", `{"company_id":5}`, headers)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Len(t, f.queue.payloads, 1)
}

func TestHandleGenerateFailureReleasesKey(t *testing.T) {
	f := newHandlerFixture(t, 0)
	headers := map[string]string{IdempotencyHeader: "run-2"}

	f.service.generateErr = accounting.ErrPeriodLocked
	rr := f.do(http.MethodPost, "/deferrals/generate?sync=1", `{"company_id":5}`, headers)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Empty(t, f.keys.keys)

	f.queue.err = errors.New("redis down")
	rr = f.do(http.MethodPost, "/deferrals/generate", `{"company_id":5}`, headers)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Empty(t, f.keys.keys)
}

func TestHandleGenerateValidation(t *testing.T) {
	f := newHandlerFixture(t, 0)
	rr := f.do(http.MethodPost, "/deferrals/generate", `{"company_id":0}`, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.do(http.MethodPost, "/deferrals/generate", `{"company_id":1,"line_ids":[-3]}`, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Empty(t, f.queue.payloads)
}

func TestHandleCancel(t *testing.T) {
	f := newHandlerFixture(t, 0)

	rr := f.do(http.MethodPost, "/deferrals/lines/8/cancel", `{"reason":"contract ended"}`, map[string]string{ActorHeader: "3"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, []deferral.CancelRequest{{OriginLineID: 8, ActorID: 3, Reason: "contract ended"}}, f.service.cancel)

	rr = f.do(http.MethodPost, "/deferrals/lines/9/cancel", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(http.MethodPost, "/deferrals/lines/abc/cancel", "", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleCancelErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{deferral.ErrNotDeferred, http.StatusConflict},
		{deferral.ErrLineNotFound, http.StatusNotFound},
		{accounting.ErrPeriodLocked, http.StatusUnprocessableEntity},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		f := newHandlerFixture(t, 0)
		f.service.cancelErr = tc.err
		rr := f.do(http.MethodPost, "/deferrals/lines/1/cancel", "", nil)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())
	}
}

func TestHandleReport(t *testing.T) {
	f := newHandlerFixture(t, 0)

	rr := f.do(http.MethodGet, "/deferrals/report?company_id=5&direction=revenue&from=2024-01-01&to=2024-03-31", "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Len(t, f.service.reports, 1)
	require.Equal(t, deferral.ReportRequest{
		CompanyID: 5,
		Direction: deferral.DirectionRevenue,
		From:      time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		To:        time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC),
	}, f.service.reports[0])

	rr = f.do(http.MethodGet, "/deferrals/report?company_id=x", "", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.do(http.MethodGet, "/deferrals/report?company_id=5&direction=revenue&from=2024-13-01&to=2024-03-31", "", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	f.service.reportErr = deferral.ErrInvalidRange
	rr = f.do(http.MethodGet, "/deferrals/report?company_id=6&direction=expense&from=2024-05-01&to=2024-03-31", "", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleReportRateLimit(t *testing.T) {
	f := newHandlerFixture(t, 1)
	headers := map[string]string{ActorHeader: "77"}
	target := "/deferrals/report?company_id=7&direction=expense&from=2024-01-01&to=2024-01-31"

	rr := f.do(http.MethodGet, target, "", headers)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = f.do(http.MethodGet, target, "", headers)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)

	rr = f.do(http.MethodGet, target, "", map[string]string{ActorHeader: "78"})
	require.Equal(t, http.StatusOK, rr.Code)
}
