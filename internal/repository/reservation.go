package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-office-reservation/internal/model"
)

type ReservationRepository interface {
	Create(ctx context.Context, reservation *model.Reservation) error
	GetByID(ctx context.Context, reservationID int64) (*model.Reservation, error)
	List(ctx context.Context, filter model.ReservationFilter) ([]model.Reservation, error)
	Count(ctx context.Context, filter model.ReservationFilter) (int, error)
	HasActiveOverlap(ctx context.Context, officeID int64, period model.DateRange) (bool, error)
	Cancel(ctx context.Context, reservationID int64) (*model.Reservation, error)
	FindActiveOverlaps(ctx context.Context) ([]model.ReservationConflict, error)
}

type ReservationRepositoryImpl struct {
	db *DB
}

func NewReservationRepository(db *DB) *ReservationRepositoryImpl {
	return &ReservationRepositoryImpl{db: db}
}

const reservationColumns = `
	r.id,
	r.office_id,
	r.user_id,
	r.start_date,
	r.end_date,
	r.status,
	r.price,
	r.wifi_password,
	r.created_at,
	r.updated_at`

// overlapCondition は両端を含む期間の重なり条件です
// model.DateRange.Overlaps と同じ判定をSQLで表現します
func overlapCondition(alias, endParam, startParam string) string {
	return fmt.Sprintf("%[1]s.start_date <= %[2]s::date AND %[1]s.end_date >= %[3]s::date", alias, endParam, startParam)
}

// Create は予約を登録し、採番されたIDと作成日時を設定します
// 排他制約に違反した場合は model.ErrDateRangeConflict を返します
func (r *ReservationRepositoryImpl) Create(ctx context.Context, reservation *model.Reservation) error {
	ctx, seg := xray.BeginSubsegment(ctx, "ReservationRepository.Create")
	defer seg.Close(nil)

	query := `
		INSERT INTO reservations (
			office_id,
			user_id,
			start_date,
			end_date,
			status,
			price,
			wifi_password,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3::date, $4::date, $5, $6, $7, NOW(), NOW()
		)
		RETURNING id, created_at, updated_at`

	var row struct {
		ID        int64     `db:"id"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	err := r.db.GetContext(ctx, &row, query,
		reservation.OfficeID,
		reservation.UserID,
		model.FormatDate(reservation.StartDate),
		model.FormatDate(reservation.EndDate),
		reservation.Status,
		reservation.Price,
		reservation.WifiPassword,
	)
	if err != nil {
		seg.Close(err)
		if isExclusionViolation(err) {
			return model.ErrDateRangeConflict
		}
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	reservation.ID = row.ID
	reservation.CreatedAt = row.CreatedAt
	reservation.UpdatedAt = row.UpdatedAt
	return nil
}

// GetByID は予約を取得します。存在しない場合は model.ErrReservationNotFound を返します
func (r *ReservationRepositoryImpl) GetByID(ctx context.Context, reservationID int64) (*model.Reservation, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "ReservationRepository.GetByID")
	defer seg.Close(nil)

	query := `SELECT ` + reservationColumns + `
		FROM reservations r
		WHERE r.id = $1`

	var reservation model.Reservation
	err := r.db.GetContext(ctx, &reservation, query, reservationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrReservationNotFound
	}
	if err != nil {
		seg.Close(err)
		return nil, fmt.Errorf("failed to get reservation %d: %w", reservationID, err)
	}

	return &reservation, nil
}

// List は条件に一致する予約をID昇順で取得します
func (r *ReservationRepositoryImpl) List(ctx context.Context, filter model.ReservationFilter) ([]model.Reservation, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "ReservationRepository.List")
	defer seg.Close(nil)

	from, where, args := buildReservationFilter(filter)
	query := `SELECT ` + reservationColumns + from + where + ` ORDER BY r.id ASC`
	if filter.PerPage > 0 {
		args = append(args, filter.PerPage, filter.Offset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	reservations := []model.Reservation{}
	if err := r.db.SelectContext(ctx, &reservations, query, args...); err != nil {
		seg.Close(err)
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}

	return reservations, nil
}

// Count は条件に一致する予約の件数を返します
func (r *ReservationRepositoryImpl) Count(ctx context.Context, filter model.ReservationFilter) (int, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "ReservationRepository.Count")
	defer seg.Close(nil)

	from, where, args := buildReservationFilter(filter)
	query := `SELECT COUNT(*)` + from + where

	var total int
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		seg.Close(err)
		return 0, fmt.Errorf("failed to count reservations: %w", err)
	}

	return total, nil
}

// buildReservationFilter は絞り込み条件からFROM句とWHERE句を組み立てます
func buildReservationFilter(filter model.ReservationFilter) (string, string, []interface{}) {
	from := `
		FROM reservations r`
	var (
		conds []string
		args  []interface{}
	)
	param := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.HostID != nil {
		from += `
		JOIN offices o ON o.id = r.office_id`
		conds = append(conds, "o.user_id = "+param(*filter.HostID))
	}
	if filter.UserID != nil {
		conds = append(conds, "r.user_id = "+param(*filter.UserID))
	}
	if filter.OfficeID != nil {
		conds = append(conds, "r.office_id = "+param(*filter.OfficeID))
	}
	if filter.Status != "" {
		conds = append(conds, "r.status = "+param(filter.Status))
	}
	if filter.FromDate != nil && filter.ToDate != nil {
		toParam := param(model.FormatDate(*filter.ToDate))
		fromParam := param(model.FormatDate(*filter.FromDate))
		conds = append(conds, overlapCondition("r", toParam, fromParam))
	}

	if len(conds) == 0 {
		return from, "", args
	}
	return from, `
		WHERE ` + strings.Join(conds, "\n\t\tAND "), args
}

// HasActiveOverlap は、指定されたオフィスに期間が重なる有効な予約が存在するかチェックします
func (r *ReservationRepositoryImpl) HasActiveOverlap(ctx context.Context, officeID int64, period model.DateRange) (bool, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "ReservationRepository.HasActiveOverlap")
	defer seg.Close(nil)

	query := `
		SELECT EXISTS (
			SELECT 1
			FROM reservations r
			WHERE r.office_id = $1
			AND r.status = $2
			AND ` + overlapCondition("r", "$3", "$4") + `
		)
	`

	var exists bool
	err := r.db.GetContext(ctx, &exists, query,
		officeID,
		model.ReservationStatusActive,
		model.FormatDate(period.End),
		model.FormatDate(period.Start),
	)
	if err != nil {
		seg.Close(err)
		return false, fmt.Errorf("failed to check overlapping reservations: %w", err)
	}

	return exists, nil
}

// Cancel は有効な予約のみをキャンセル済みに更新します
// 既にキャンセル済みの場合は model.ErrAlreadyCanceled を返します
func (r *ReservationRepositoryImpl) Cancel(ctx context.Context, reservationID int64) (*model.Reservation, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "ReservationRepository.Cancel")
	defer seg.Close(nil)

	query := `
		UPDATE reservations r
		SET status = $1,
			updated_at = NOW()
		WHERE r.id = $2
		AND r.status = $3
		RETURNING ` + reservationColumns

	var reservation model.Reservation
	err := r.db.GetContext(ctx, &reservation, query,
		model.ReservationStatusCanceled,
		reservationID,
		model.ReservationStatusActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrAlreadyCanceled
	}
	if err != nil {
		seg.Close(err)
		return nil, fmt.Errorf("failed to cancel reservation %d: %w", reservationID, err)
	}

	return &reservation, nil
}

// FindActiveOverlaps は同一オフィスで期間が重なる有効な予約の組を取得します
func (r *ReservationRepositoryImpl) FindActiveOverlaps(ctx context.Context) ([]model.ReservationConflict, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "ReservationRepository.FindActiveOverlaps")
	defer seg.Close(nil)

	query := `
		SELECT
			a.office_id,
			a.id AS first_id,
			b.id AS second_id
		FROM reservations a
		JOIN reservations b
			ON b.office_id = a.office_id
			AND b.id > a.id
		WHERE a.status = $1
		AND b.status = $1
		AND a.start_date <= b.end_date
		AND a.end_date >= b.start_date
		ORDER BY a.office_id ASC, a.id ASC, b.id ASC
	`

	conflicts := []model.ReservationConflict{}
	if err := r.db.SelectContext(ctx, &conflicts, query, model.ReservationStatusActive); err != nil {
		seg.Close(err)
		return nil, fmt.Errorf("failed to find overlapping reservations: %w", err)
	}

	return conflicts, nil
}
