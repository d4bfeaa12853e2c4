package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/uma-arai/sbcntr-office-reservation/internal/middleware"
	"github.com/uma-arai/sbcntr-office-reservation/internal/model"
	"github.com/uma-arai/sbcntr-office-reservation/internal/service/booking"
)

// maxBodyBytes はリクエストボディの上限です
const maxBodyBytes = 1 << 20

// ReservationService は予約APIが利用するサービスです
type ReservationService interface {
	CreateReservation(ctx context.Context, in booking.CreateInput) (*model.Reservation, error)
	CancelReservation(ctx context.Context, reservationID, userID int64) (*model.Reservation, error)
	ListReservations(ctx context.Context, filter model.ReservationFilter) (*model.ReservationPage, error)
}

// ReservationHandler は予約APIのハンドラです
type ReservationHandler struct {
	service  ReservationService
	validate *validator.Validate
}

// NewReservationHandler は新しいReservationHandlerを作成します
func NewReservationHandler(service ReservationService) *ReservationHandler {
	return &ReservationHandler{
		service:  service,
		validate: newValidator(),
	}
}

// reservationResource は予約のレスポンス表現です
type reservationResource struct {
	ID        int64                   `json:"id"`
	OfficeID  int64                   `json:"office_id"`
	UserID    int64                   `json:"user_id"`
	StartDate string                  `json:"start_date"`
	EndDate   string                  `json:"end_date"`
	Status    model.ReservationStatus `json:"status"`
	Price     int64                   `json:"price"`
}

func newReservationResource(r *model.Reservation) reservationResource {
	return reservationResource{
		ID:        r.ID,
		OfficeID:  r.OfficeID,
		UserID:    r.UserID,
		StartDate: model.FormatDate(r.StartDate),
		EndDate:   model.FormatDate(r.EndDate),
		Status:    r.Status,
		Price:     r.Price,
	}
}

// Create は予約を作成します
// POST /api/reservations
func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthenticated.")
		return
	}

	var req createReservationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if err := validateStruct(h.validate, req); err != nil {
		writeError(w, r, err)
		return
	}
	start, end, err := req.toTimes()
	if err != nil {
		writeError(w, r, model.Invalid(model.FieldStartDate, model.ErrInvalidDateRange))
		return
	}

	reservation, err := h.service.CreateReservation(r.Context(), booking.CreateInput{
		OfficeID:  req.OfficeID,
		UserID:    user.ID,
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, http.StatusCreated, newReservationResource(reservation))
}

// List は呼び出し元が予約した予約の一覧を返します
// GET /api/reservations
func (h *ReservationHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthenticated.")
		return
	}

	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}
	// 利用者向けの一覧では user_id は常に呼び出し元
	filter.UserID = &user.ID
	h.list(w, r, filter)
}

// HostList は呼び出し元が所有するオフィスの予約一覧を返します
// GET /api/host/reservations
func (h *ReservationHandler) HostList(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthenticated.")
		return
	}

	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}
	filter.HostID = &user.ID
	h.list(w, r, filter)
}

func (h *ReservationHandler) parseFilter(w http.ResponseWriter, r *http.Request) (model.ReservationFilter, bool) {
	values := r.URL.Query()
	q := listReservationsQuery{
		Status:   values.Get("status"),
		OfficeID: values.Get("office_id"),
		UserID:   values.Get("user_id"),
		FromDate: values.Get("from_date"),
		ToDate:   values.Get("to_date"),
		Page:     values.Get("page"),
	}
	if err := validateStruct(h.validate, q); err != nil {
		writeError(w, r, err)
		return model.ReservationFilter{}, false
	}

	filter, err := q.toFilter()
	if err != nil {
		writeError(w, r, model.Invalid("query", model.ErrInvalidInput))
		return model.ReservationFilter{}, false
	}
	return filter, true
}

func (h *ReservationHandler) list(w http.ResponseWriter, r *http.Request, filter model.ReservationFilter) {
	page, err := h.service.ListReservations(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resources := make([]reservationResource, 0, len(page.Reservations))
	for i := range page.Reservations {
		resources = append(resources, newReservationResource(&page.Reservations[i]))
	}
	writePaginated(w, resources, page.Page, page.PerPage, page.Total)
}

// Cancel は呼び出し元の予約をキャンセルします
// POST|PATCH /api/reservations/{id}/cancel
func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthenticated.")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, model.ErrReservationNotFound)
		return
	}

	reservation, err := h.service.CancelReservation(r.Context(), id, user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, newReservationResource(reservation))
}
