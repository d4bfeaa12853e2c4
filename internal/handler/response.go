package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/uma-arai/sbcntr-office-reservation/internal/lock"
	"github.com/uma-arai/sbcntr-office-reservation/internal/model"
)

// lockRetryAfterSeconds はロック待ちタイムアウト時に返すRetry-Afterです
const lockRetryAfterSeconds = "1"

// Meta は一覧のページング情報です
type Meta struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type dataResponse struct {
	Data interface{} `json:"data"`
	Meta *Meta       `json:"meta,omitempty"`
}

type errorResponse struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// writeJSON はJSONレスポンスを書き込みます
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, dataResponse{Data: data})
}

func writePaginated(w http.ResponseWriter, data interface{}, page, perPage, total int) {
	totalPages := 0
	if perPage > 0 {
		totalPages = (total + perPage - 1) / perPage
	}
	writeJSON(w, http.StatusOK, dataResponse{
		Data: data,
		Meta: &Meta{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages},
	})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}

// writeValidationError は項目ごとのエラーを422で返します
func writeValidationError(w http.ResponseWriter, verr *model.ValidationError) {
	message := "The given data was invalid."
	if len(verr.Errors) > 0 {
		message = verr.Errors[0].Message
	}
	writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
		Message: message,
		Errors:  verr.Fields(),
	})
}

// writeError はサービスのエラーをステータスコードに変換して返します
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		writeValidationError(w, verr)
	case errors.Is(err, model.ErrReservationNotFound):
		writeMessage(w, http.StatusNotFound, "Reservation not found.")
	case errors.Is(err, lock.ErrTimeout):
		// 競合による一時的な失敗。クライアントは再試行できる
		w.Header().Set("Retry-After", lockRetryAfterSeconds)
		writeMessage(w, http.StatusServiceUnavailable, "The office is busy. Please try again.")
	default:
		log.Printf("Request %s %s failed: %v", r.Method, r.URL.Path, err)
		writeMessage(w, http.StatusInternalServerError, "Server Error")
	}
}
