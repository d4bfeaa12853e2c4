package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/uma-arai/sbcntr-office-reservation/internal/model"
)

// createReservationRequest は予約作成のリクエストボディです
type createReservationRequest struct {
	OfficeID  int64  `json:"office_id" validate:"required,gt=0"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

// listReservationsQuery は予約一覧のクエリパラメータです
type listReservationsQuery struct {
	Status   string `json:"status" validate:"omitempty,oneof=active canceled"`
	OfficeID string `json:"office_id" validate:"omitempty,number"`
	UserID   string `json:"user_id" validate:"omitempty,number"`
	FromDate string `json:"from_date" validate:"omitempty,datetime=2006-01-02"`
	ToDate   string `json:"to_date" validate:"omitempty,datetime=2006-01-02"`
	Page     string `json:"page" validate:"omitempty,number,max=5"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	// エラーの項目名はJSONのキーに合わせる
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct はタグによる入力チェックを行い、失敗を ValidationError に変換します
func validateStruct(v *validator.Validate, s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	verr := &model.ValidationError{}
	for _, fe := range fieldErrs {
		verr.AddMessage(fe.Field(), validationMessage(fe))
	}
	return verr
}

func validationMessage(fe validator.FieldError) string {
	label := strings.ReplaceAll(fe.Field(), "_", " ")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", label)
	case "datetime":
		return fmt.Sprintf("The %s does not match the format Y-m-d.", label)
	case "oneof":
		return fmt.Sprintf("The selected %s is invalid.", label)
	case "number", "gt":
		return fmt.Sprintf("The %s must be a positive integer.", label)
	case "max":
		return fmt.Sprintf("The %s must not be greater than %d.", label, model.MaxPage)
	default:
		return fmt.Sprintf("The %s is invalid.", label)
	}
}

// toTimes は入力チェック済みの開始日と終了日を返します
func (req createReservationRequest) toTimes() (time.Time, time.Time, error) {
	start, err := model.ParseDate(req.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := model.ParseDate(req.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// toFilter は入力チェック済みのクエリを絞り込み条件に変換します
func (q listReservationsQuery) toFilter() (model.ReservationFilter, error) {
	filter := model.ReservationFilter{Status: model.ReservationStatus(q.Status)}

	var err error
	if filter.OfficeID, err = optionalID(q.OfficeID); err != nil {
		return filter, err
	}
	if filter.UserID, err = optionalID(q.UserID); err != nil {
		return filter, err
	}
	if filter.FromDate, err = optionalDate(q.FromDate); err != nil {
		return filter, err
	}
	if filter.ToDate, err = optionalDate(q.ToDate); err != nil {
		return filter, err
	}
	if q.Page != "" {
		if filter.Page, err = strconv.Atoi(q.Page); err != nil {
			return filter, err
		}
	}
	return filter, nil
}

func optionalID(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func optionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := model.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
