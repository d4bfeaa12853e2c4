// Package booking はオフィス予約の作成・キャンセル・一覧を担当します
// 同一オフィスの予約作成はオフィス単位のロックで直列化し、
// ロック内で重複チェックと登録を行います
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-office-reservation/internal/common/utils"
	"github.com/uma-arai/sbcntr-office-reservation/internal/lock"
	"github.com/uma-arai/sbcntr-office-reservation/internal/model"
	"github.com/uma-arai/sbcntr-office-reservation/internal/repository"
)

// DefaultPerPage は一覧の1ページあたりの件数です
const DefaultPerPage = 20

// wifiPasswordBytes はWi-Fiパスワードの元になるランダムバイト数です
const wifiPasswordBytes = 12

// Notifier は予約イベントを通知キューに渡します
// 配信は非同期で行われ、失敗しても予約には影響しません
type Notifier interface {
	Notify(ctx context.Context, event model.ReservationEvent) error
}

// Config は予約サービスの設定です
// LockWait と LockHold は0以下の場合に既定値を使います
type Config struct {
	LockWait time.Duration
	LockHold time.Duration
	// Location は「今日」を判定するタイムゾーンです
	Location *time.Location
	PerPage  int
}

// Service は予約の作成・キャンセル・一覧を担当します
type Service struct {
	offices      repository.OfficeRepository
	reservations repository.ReservationRepository
	locker       lock.Locker
	notifier     Notifier
	clock        Clock
	cfg          Config
}

// NewService は新しいServiceを作成します
func NewService(
	offices repository.OfficeRepository,
	reservations repository.ReservationRepository,
	locker lock.Locker,
	notifier Notifier,
	clock Clock,
	cfg Config,
) *Service {
	if cfg.LockWait <= 0 {
		cfg.LockWait = lock.DefaultWaitTimeout
	}
	if cfg.LockHold <= 0 {
		cfg.LockHold = lock.DefaultHoldTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = DefaultPerPage
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Service{
		offices:      offices,
		reservations: reservations,
		locker:       locker,
		notifier:     notifier,
		clock:        clock,
		cfg:          cfg,
	}
}

// CreateInput は予約作成の入力です
type CreateInput struct {
	OfficeID  int64
	UserID    int64
	StartDate time.Time
	EndDate   time.Time
}

// Period は入力の予約期間を返します
func (in CreateInput) Period() model.DateRange {
	return model.DateRange{
		Start: model.TruncateDate(in.StartDate),
		End:   model.TruncateDate(in.EndDate),
	}
}

// today は設定されたタイムゾーンでの今日の日付を返します
func (s *Service) today() time.Time {
	return model.TruncateDate(s.clock.Now().In(s.cfg.Location))
}

// CreateReservation はオフィスの予約を作成します
//
// 入力チェックの失敗は *model.ValidationError で返します
// ロック待ちがタイムアウトした場合は lock.ErrTimeout をラップして返します
func (s *Service) CreateReservation(ctx context.Context, in CreateInput) (*model.Reservation, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "BookingService.CreateReservation")
	defer seg.Close(nil)

	office, err := s.validateCreate(ctx, in)
	if err != nil {
		return nil, err
	}
	period := in.Period()

	// ロック外のチェックは早期に結果を返すためのもので、確定はロック内で行う
	overlapped, err := s.reservations.HasActiveOverlap(ctx, office.ID, period)
	if err != nil {
		seg.Close(err)
		return nil, err
	}
	if overlapped {
		return nil, model.Invalid(model.FieldOfficeID, model.ErrDateRangeConflict)
	}

	reservation, err := s.reserveWithLock(ctx, office, in.UserID, period)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, model.ReservationEvent{
		Type:        model.ReservationEventCreated,
		Reservation: *reservation,
		HostID:      office.UserID,
		OfficeTitle: office.Title,
		CreatedAt:   s.clock.Now().UTC(),
	})

	return reservation, nil
}

// validateCreate は予約作成の前提条件をまとめてチェックします
func (s *Service) validateCreate(ctx context.Context, in CreateInput) (*model.Office, error) {
	verr := &model.ValidationError{}

	office, err := s.offices.GetByID(ctx, in.OfficeID)
	switch {
	case errors.Is(err, model.ErrOfficeNotFound):
		verr.Add(model.FieldOfficeID, model.ErrOfficeNotFound)
	case err != nil:
		return nil, err
	default:
		if office.UserID == in.UserID {
			verr.Add(model.FieldOfficeID, model.ErrSelfBooking)
		}
		if !office.IsBookable() {
			verr.Add(model.FieldOfficeID, model.ErrOfficeUnavailable)
		}
	}

	today := s.today()
	start := model.TruncateDate(in.StartDate)
	end := model.TruncateDate(in.EndDate)
	switch {
	case in.StartDate.IsZero():
		verr.AddMessage(model.FieldStartDate, "The start date field is required.")
	case !start.After(today):
		verr.AddWithMessage(model.FieldStartDate, model.ErrInvalidDateRange, "The start date must be a date after today.")
	}
	switch {
	case in.EndDate.IsZero():
		verr.AddMessage(model.FieldEndDate, "The end date field is required.")
	case !in.StartDate.IsZero() && !end.After(start):
		verr.AddWithMessage(model.FieldEndDate, model.ErrInvalidDateRange, "The end date must be a date after start date.")
	}

	if err := verr.Err(); err != nil {
		return nil, err
	}
	return office, nil
}

// reserveWithLock はオフィスのロックを取得し、重複チェックから登録までを行います
func (s *Service) reserveWithLock(ctx context.Context, office *model.Office, userID int64, period model.DateRange) (*model.Reservation, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "BookingService.reserveWithLock")
	defer seg.Close(nil)

	key := lock.OfficeKey(office.ID)
	l, err := s.locker.Acquire(ctx, key, s.cfg.LockWait, s.cfg.LockHold)
	if err != nil {
		seg.Close(err)
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	defer func() {
		// リクエストがキャンセルされていてもロックは解放する
		if err := s.locker.Release(context.WithoutCancel(ctx), l); err != nil {
			log.Printf("Failed to release lock %s: %v", key, err)
		}
	}()

	overlapped, err := s.reservations.HasActiveOverlap(ctx, office.ID, period)
	if err != nil {
		seg.Close(err)
		return nil, err
	}
	if overlapped {
		return nil, model.Invalid(model.FieldOfficeID, model.ErrDateRangeConflict)
	}

	wifiPassword, err := utils.GenerateURLToken(wifiPasswordBytes)
	if err != nil {
		seg.Close(err)
		return nil, fmt.Errorf("failed to generate wifi password: %w", err)
	}

	reservation := &model.Reservation{
		OfficeID:     office.ID,
		UserID:       userID,
		StartDate:    period.Start,
		EndDate:      period.End,
		Status:       model.ReservationStatusActive,
		Price:        CalculatePrice(period, office.PricePerDay, office.MonthlyDiscount),
		WifiPassword: wifiPassword,
	}
	if err := s.reservations.Create(ctx, reservation); err != nil {
		if errors.Is(err, model.ErrDateRangeConflict) {
			return nil, model.Invalid(model.FieldOfficeID, model.ErrDateRangeConflict)
		}
		seg.Close(err)
		return nil, err
	}

	log.Printf("Reservation %d created for office %d (%s)", reservation.ID, office.ID, period)
	return reservation, nil
}

// CancelReservation は予約者本人による予約のキャンセルを行います
// 開始日が今日より後の有効な予約のみキャンセルできます
func (s *Service) CancelReservation(ctx context.Context, reservationID, userID int64) (*model.Reservation, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "BookingService.CancelReservation")
	defer seg.Close(nil)

	reservation, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		if !errors.Is(err, model.ErrReservationNotFound) {
			seg.Close(err)
		}
		return nil, err
	}

	switch {
	case reservation.UserID != userID:
		return nil, model.Invalid(model.FieldReservation, model.ErrNotOwner)
	case !reservation.IsActive():
		return nil, model.Invalid(model.FieldReservation, model.ErrAlreadyCanceled)
	case !model.TruncateDate(reservation.StartDate).After(s.today()):
		return nil, model.Invalid(model.FieldReservation, model.ErrTooLateToCancel)
	}

	canceled, err := s.reservations.Cancel(ctx, reservationID)
	if err != nil {
		if errors.Is(err, model.ErrAlreadyCanceled) {
			return nil, model.Invalid(model.FieldReservation, model.ErrAlreadyCanceled)
		}
		seg.Close(err)
		return nil, err
	}

	office, err := s.offices.GetByID(ctx, canceled.OfficeID)
	if err != nil {
		log.Printf("Failed to load office %d for cancel notification: %v", canceled.OfficeID, err)
		return canceled, nil
	}
	s.notify(ctx, model.ReservationEvent{
		Type:        model.ReservationEventCanceled,
		Reservation: *canceled,
		HostID:      office.UserID,
		OfficeTitle: office.Title,
		CreatedAt:   s.clock.Now().UTC(),
	})

	return canceled, nil
}

// ListReservations は条件に一致する予約をページ単位で返します
func (s *Service) ListReservations(ctx context.Context, filter model.ReservationFilter) (*model.ReservationPage, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "BookingService.ListReservations")
	defer seg.Close(nil)

	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 {
		filter.PerPage = s.cfg.PerPage
	}

	reservations, err := s.reservations.List(ctx, filter)
	if err != nil {
		seg.Close(err)
		return nil, err
	}
	total, err := s.reservations.Count(ctx, filter)
	if err != nil {
		seg.Close(err)
		return nil, err
	}

	return &model.ReservationPage{
		Reservations: reservations,
		Page:         filter.Page,
		PerPage:      filter.PerPage,
		Total:        total,
	}, nil
}

// validateFilter は一覧の絞り込み条件をチェックします
// from_date と to_date は両方指定し、from_date は to_date より前である必要があります
func validateFilter(filter model.ReservationFilter) error {
	verr := &model.ValidationError{}

	if filter.Status != "" && !filter.Status.Valid() {
		verr.AddMessage(model.FieldStatus, "The selected status is invalid.")
	}
	if filter.Page > model.MaxPage {
		verr.AddMessage(model.FieldPage, fmt.Sprintf("The page must not be greater than %d.", model.MaxPage))
	}

	switch {
	case filter.FromDate != nil && filter.ToDate == nil:
		verr.AddMessage(model.FieldToDate, "The to date field is required when from date is present.")
	case filter.FromDate == nil && filter.ToDate != nil:
		verr.AddMessage(model.FieldFromDate, "The from date field is required when to date is present.")
	case filter.FromDate != nil && filter.ToDate != nil:
		if !filter.FromDate.Before(*filter.ToDate) {
			verr.AddWithMessage(model.FieldFromDate, model.ErrInvalidDateRange, "The from date must be a date before to date.")
		}
	}

	return verr.Err()
}

// notify は通知キューにイベントを渡します。失敗はログに残すのみです
func (s *Service) notify(ctx context.Context, event model.ReservationEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		log.Printf("Failed to enqueue %s notification for reservation %d: %v", event.Type, event.Reservation.ID, err)
	}
}
