package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/uma-arai/sbcntr-office-reservation/internal/lock"
	"github.com/uma-arai/sbcntr-office-reservation/internal/middleware"
	"github.com/uma-arai/sbcntr-office-reservation/internal/model"
	"github.com/uma-arai/sbcntr-office-reservation/internal/service/booking"
)

const testSecret = "handler-test-secret"

func TestMain(m *testing.M) {
	os.Setenv("AWS_XRAY_SDK_DISABLED", "TRUE")
	os.Exit(m.Run())
}

// MockReservationService はテスト用のモックサービスです
type MockReservationService struct {
	createInput  booking.CreateInput
	createResult *model.Reservation
	createErr    error

	cancelID     int64
	cancelUserID int64
	cancelResult *model.Reservation
	cancelErr    error

	listFilter model.ReservationFilter
	listResult *model.ReservationPage
	listErr    error
}

func (m *MockReservationService) CreateReservation(ctx context.Context, in booking.CreateInput) (*model.Reservation, error) {
	m.createInput = in
	return m.createResult, m.createErr
}

func (m *MockReservationService) CancelReservation(ctx context.Context, reservationID, userID int64) (*model.Reservation, error) {
	m.cancelID = reservationID
	m.cancelUserID = userID
	return m.cancelResult, m.cancelErr
}

func (m *MockReservationService) ListReservations(ctx context.Context, filter model.ReservationFilter) (*model.ReservationPage, error) {
	m.listFilter = filter
	return m.listResult, m.listErr
}

func testReservation(t *testing.T) *model.Reservation {
	t.Helper()
	period, err := model.NewDateRange("2021-03-25", "2021-04-15")
	if err != nil {
		t.Fatal(err)
	}
	return &model.Reservation{
		ID:        10,
		OfficeID:  1,
		UserID:    5,
		StartDate: period.Start,
		EndDate:   period.End,
		Status:    model.ReservationStatusActive,
		Price:     22000,
	}
}

func newTestServer(t *testing.T, svc ReservationService) http.Handler {
	t.Helper()
	return NewRouter(RouterConfig{JWTSecret: testSecret}, NewReservationHandler(svc))
}

func bearer(t *testing.T, userID int64, scopes ...string) string {
	t.Helper()
	token, err := middleware.SignAccessToken(testSecret, userID, scopes, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + token
}

func doRequest(h http.Handler, method, target, auth, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeErrors(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	return body
}

func TestReservationHandler_Create(t *testing.T) {
	tests := []struct {
		name       string
		scopes     []string
		body       string
		createErr  error
		wantStatus int
		wantField  string
	}{
		{
			name:       "正常系",
			scopes:     []string{middleware.ScopeReservationsStore},
			body:       `{"office_id":1,"start_date":"2021-03-25","end_date":"2021-04-15"}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "開始日なし",
			scopes:     []string{middleware.ScopeReservationsStore},
			body:       `{"office_id":1,"end_date":"2021-04-15"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantField:  model.FieldStartDate,
		},
		{
			name:       "日付形式不正",
			scopes:     []string{middleware.ScopeReservationsStore},
			body:       `{"office_id":1,"start_date":"2021/03/25","end_date":"2021-04-15"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantField:  model.FieldStartDate,
		},
		{
			name:       "オフィスIDなし",
			scopes:     []string{middleware.ScopeReservationsStore},
			body:       `{"start_date":"2021-03-25","end_date":"2021-04-15"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantField:  model.FieldOfficeID,
		},
		{
			name:       "不正なJSON",
			scopes:     []string{middleware.ScopeReservationsStore},
			body:       `{"office_id":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "予約期間の重複",
			scopes:     []string{middleware.ScopeReservationsStore},
			body:       `{"office_id":1,"start_date":"2021-03-25","end_date":"2021-04-15"}`,
			createErr:  model.Invalid(model.FieldOfficeID, model.ErrDateRangeConflict),
			wantStatus: http.StatusUnprocessableEntity,
			wantField:  model.FieldOfficeID,
		},
		{
			name:       "ロック待ちタイムアウト",
			scopes:     []string{middleware.ScopeReservationsStore},
			body:       `{"office_id":1,"start_date":"2021-03-25","end_date":"2021-04-15"}`,
			createErr:  fmt.Errorf("failed to acquire lock: %w", lock.ErrTimeout),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "DBエラー",
			scopes:     []string{middleware.ScopeReservationsStore},
			body:       `{"office_id":1,"start_date":"2021-03-25","end_date":"2021-04-15"}`,
			createErr:  errors.New("connection refused"),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "スコープなし",
			scopes:     []string{middleware.ScopeReservationsShow},
			body:       `{"office_id":1,"start_date":"2021-03-25","end_date":"2021-04-15"}`,
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockReservationService{createResult: testReservation(t), createErr: tt.createErr}
			h := newTestServer(t, svc)

			rec := doRequest(h, http.MethodPost, "/api/reservations", bearer(t, 5, tt.scopes...), tt.body)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.wantStatus, rec.Body.String())
			}

			switch tt.wantStatus {
			case http.StatusCreated:
				if svc.createInput.UserID != 5 || svc.createInput.OfficeID != 1 {
					t.Errorf("input = %+v", svc.createInput)
				}
				if model.FormatDate(svc.createInput.StartDate) != "2021-03-25" {
					t.Errorf("start date = %v", svc.createInput.StartDate)
				}
				var body struct {
					Data reservationResource `json:"data"`
				}
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
					t.Fatal(err)
				}
				want := reservationResource{
					ID: 10, OfficeID: 1, UserID: 5,
					StartDate: "2021-03-25", EndDate: "2021-04-15",
					Status: model.ReservationStatusActive, Price: 22000,
				}
				if body.Data != want {
					t.Errorf("data = %+v, want %+v", body.Data, want)
				}
			case http.StatusUnprocessableEntity:
				body := decodeErrors(t, rec)
				if len(body.Errors[tt.wantField]) == 0 {
					t.Errorf("errors = %v, want field %s", body.Errors, tt.wantField)
				}
			case http.StatusServiceUnavailable:
				if rec.Header().Get("Retry-After") == "" {
					t.Error("Retry-After header is missing")
				}
			}
		})
	}
}

func TestReservationHandler_Unauthenticated(t *testing.T) {
	h := newTestServer(t, &MockReservationService{})

	rec := doRequest(h, http.MethodGet, "/api/reservations", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestReservationHandler_List(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantStatus int
		check      func(t *testing.T, filter model.ReservationFilter)
	}{
		{
			name:       "利用者の一覧はuser_idを上書き",
			target:     "/api/reservations?user_id=99&status=active&office_id=1&page=2",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, filter model.ReservationFilter) {
				if filter.UserID == nil || *filter.UserID != 5 {
					t.Errorf("UserID = %v, want 5", filter.UserID)
				}
				if filter.HostID != nil {
					t.Errorf("HostID = %v, want nil", *filter.HostID)
				}
				if filter.Status != model.ReservationStatusActive || filter.OfficeID == nil || *filter.OfficeID != 1 || filter.Page != 2 {
					t.Errorf("filter = %+v", filter)
				}
			},
		},
		{
			name:       "オーナーの一覧",
			target:     "/api/host/reservations?user_id=7&from_date=2021-03-03&to_date=2021-04-04",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, filter model.ReservationFilter) {
				if filter.HostID == nil || *filter.HostID != 5 {
					t.Errorf("HostID = %v, want 5", filter.HostID)
				}
				if filter.UserID == nil || *filter.UserID != 7 {
					t.Errorf("UserID = %v, want 7", filter.UserID)
				}
				if filter.FromDate == nil || model.FormatDate(*filter.FromDate) != "2021-03-03" {
					t.Errorf("FromDate = %v", filter.FromDate)
				}
				if filter.ToDate == nil || model.FormatDate(*filter.ToDate) != "2021-04-04" {
					t.Errorf("ToDate = %v", filter.ToDate)
				}
			},
		},
		{
			name:       "不正なステータス",
			target:     "/api/reservations?status=pending",
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "不正な日付",
			target:     "/api/reservations?from_date=2021-13-01&to_date=2021-04-04",
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "不正なオフィスID",
			target:     "/api/reservations?office_id=abc",
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "ページ番号が大きすぎる",
			target:     "/api/reservations?page=922337203685477580",
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockReservationService{
				listResult: &model.ReservationPage{
					Reservations: []model.Reservation{*testReservation(t)},
					Page:         2,
					PerPage:      20,
					Total:        21,
				},
			}
			h := newTestServer(t, svc)

			rec := doRequest(h, http.MethodGet, tt.target, bearer(t, 5, middleware.ScopeReservationsShow), "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			tt.check(t, svc.listFilter)

			var body struct {
				Data []reservationResource `json:"data"`
				Meta Meta                  `json:"meta"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if len(body.Data) != 1 || body.Data[0].StartDate != "2021-03-25" {
				t.Errorf("data = %+v", body.Data)
			}
			want := Meta{Page: 2, PerPage: 20, Total: 21, TotalPages: 2}
			if body.Meta != want {
				t.Errorf("meta = %+v, want %+v", body.Meta, want)
			}
		})
	}
}

func TestReservationHandler_ListPageTooLarge(t *testing.T) {
	svc := &MockReservationService{}
	h := newTestServer(t, svc)

	rec := doRequest(h, http.MethodGet, "/api/reservations?page=922337203685477580", bearer(t, 5, middleware.ScopeReservationsShow), "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if body := decodeErrors(t, rec); len(body.Errors[model.FieldPage]) == 0 {
		t.Errorf("errors = %v, want field %s", body.Errors, model.FieldPage)
	}
	if svc.listFilter.Page != 0 {
		t.Errorf("service should not be called, got page %d", svc.listFilter.Page)
	}
}

func TestReservationHandler_ListServiceValidation(t *testing.T) {
	svc := &MockReservationService{listErr: model.Invalid(model.FieldToDate, model.ErrInvalidInput)}
	h := newTestServer(t, svc)

	rec := doRequest(h, http.MethodGet, "/api/reservations?from_date=2021-03-03", bearer(t, 5, middleware.ScopeAll), "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if body := decodeErrors(t, rec); len(body.Errors[model.FieldToDate]) == 0 {
		t.Errorf("errors = %v", body.Errors)
	}
}

func TestReservationHandler_Cancel(t *testing.T) {
	canceled := testReservation(t)
	canceled.Status = model.ReservationStatusCanceled

	tests := []struct {
		name       string
		method     string
		target     string
		cancelErr  error
		wantStatus int
		wantField  string
	}{
		{name: "POSTでキャンセル", method: http.MethodPost, target: "/api/reservations/10/cancel", wantStatus: http.StatusOK},
		{name: "PATCHでキャンセル", method: http.MethodPatch, target: "/api/reservations/10/cancel", wantStatus: http.StatusOK},
		{name: "存在しない予約", method: http.MethodPost, target: "/api/reservations/10/cancel", cancelErr: model.ErrReservationNotFound, wantStatus: http.StatusNotFound},
		{name: "不正なID", method: http.MethodPost, target: "/api/reservations/abc/cancel", wantStatus: http.StatusNotFound},
		{
			name: "他人の予約", method: http.MethodPost, target: "/api/reservations/10/cancel",
			cancelErr: model.Invalid(model.FieldReservation, model.ErrNotOwner), wantStatus: http.StatusUnprocessableEntity, wantField: model.FieldReservation,
		},
		{
			name: "キャンセル済み", method: http.MethodPatch, target: "/api/reservations/10/cancel",
			cancelErr: model.Invalid(model.FieldReservation, model.ErrAlreadyCanceled), wantStatus: http.StatusUnprocessableEntity, wantField: model.FieldReservation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockReservationService{cancelResult: canceled, cancelErr: tt.cancelErr}
			h := newTestServer(t, svc)

			rec := doRequest(h, tt.method, tt.target, bearer(t, 5, middleware.ScopeReservationsCancel), "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.wantStatus, rec.Body.String())
			}

			switch tt.wantStatus {
			case http.StatusOK:
				if svc.cancelID != 10 || svc.cancelUserID != 5 {
					t.Errorf("cancel called with id=%d user=%d", svc.cancelID, svc.cancelUserID)
				}
				var body struct {
					Data reservationResource `json:"data"`
				}
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
					t.Fatal(err)
				}
				if body.Data.Status != model.ReservationStatusCanceled {
					t.Errorf("status = %s, want canceled", body.Data.Status)
				}
			case http.StatusUnprocessableEntity:
				if body := decodeErrors(t, rec); len(body.Errors[tt.wantField]) == 0 {
					t.Errorf("errors = %v, want field %s", body.Errors, tt.wantField)
				}
			}
		})
	}
}

func TestHealthcheck(t *testing.T) {
	h := newTestServer(t, &MockReservationService{})

	rec := doRequest(h, http.MethodGet, "/healthcheck", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
