package model

import (
	"errors"
	"strings"
)

// 予約ドメインのエラー
var (
	ErrOfficeNotFound      = errors.New("invalid office id")
	ErrSelfBooking         = errors.New("you cannot make a reservation on your own office")
	ErrOfficeUnavailable   = errors.New("you cannot make a reservation on a hidden office")
	ErrDateRangeConflict   = errors.New("office is already reserved during this time")
	ErrInvalidDateRange    = errors.New("invalid date range")
	ErrInvalidInput        = errors.New("invalid input")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrNotOwner            = errors.New("you cannot cancel a reservation of another user")
	ErrAlreadyCanceled     = errors.New("reservation is already canceled")
	ErrTooLateToCancel     = errors.New("reservation has already started")
)

// 入力項目名
const (
	FieldOfficeID    = "office_id"
	FieldStartDate   = "start_date"
	FieldEndDate     = "end_date"
	FieldReservation = "reservation"
	FieldStatus      = "status"
	FieldUserID      = "user_id"
	FieldFromDate    = "from_date"
	FieldToDate      = "to_date"
	FieldPage        = "page"
)

// FieldError は入力項目に紐づくエラーです
type FieldError struct {
	Field   string
	Message string
	Err     error
}

// NewFieldError はドメインエラーを項目に紐づけます。Message にはエラー文言を使います
func NewFieldError(field string, err error) *FieldError {
	return &FieldError{Field: field, Message: err.Error(), Err: err}
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// ValidationError は項目ごとのエラーをまとめたものです
// 呼び出し元では errors.Is でいずれかのドメインエラーを判定できます
type ValidationError struct {
	Errors []*FieldError
}

// Add は項目エラーを追加します
func (v *ValidationError) Add(field string, err error) {
	v.Errors = append(v.Errors, NewFieldError(field, err))
}

// AddMessage はドメインエラーを持たない入力チェックのエラーを追加します
func (v *ValidationError) AddMessage(field, message string) {
	v.AddWithMessage(field, ErrInvalidInput, message)
}

// AddWithMessage はドメインエラーに任意の文言を付けて追加します
func (v *ValidationError) AddWithMessage(field string, err error, message string) {
	v.Errors = append(v.Errors, &FieldError{Field: field, Message: message, Err: err})
}

// HasErrors はエラーが1件以上あるかを返します
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Err はエラーが無ければ nil を返します
func (v *ValidationError) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return v
}

// Fields は項目名ごとのメッセージ一覧を返します
func (v *ValidationError) Fields() map[string][]string {
	out := make(map[string][]string, len(v.Errors))
	for _, e := range v.Errors {
		out[e.Field] = append(out[e.Field], e.Message)
	}
	return out
}

func (v *ValidationError) Error() string {
	msgs := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		msgs = append(msgs, e.Error())
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (v *ValidationError) Unwrap() []error {
	errs := make([]error, 0, len(v.Errors))
	for _, e := range v.Errors {
		errs = append(errs, e)
	}
	return errs
}

// Invalid は単一項目の ValidationError を作成します
func Invalid(field string, err error) error {
	v := &ValidationError{}
	v.Add(field, err)
	return v
}
