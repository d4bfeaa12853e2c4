package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-office-reservation/internal/model"
)

// NotificationRepository は予約通知の保存先です
type NotificationRepository interface {
	CreateNotifications(ctx context.Context, records []model.NotificationRecord) error
}

// NotificationRepositoryImpl は notifications テーブルへの保存を担当します
type NotificationRepositoryImpl struct {
	db  *DB
	now func() time.Time
}

// NewNotificationRepository は新しいNotificationRepositoryを作成します
func NewNotificationRepository(db *DB) *NotificationRepositoryImpl {
	return &NotificationRepositoryImpl{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

const insertNotificationQuery = `
	INSERT INTO notifications (
		user_id, title, message, is_read, type, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7
	)
	RETURNING id`

// CreateNotifications は1件の予約イベントから作られた通知をまとめて保存します
// 全件が保存されるか、1件も保存されないかのどちらかです
func (r *NotificationRepositoryImpl) CreateNotifications(ctx context.Context, records []model.NotificationRecord) error {
	if len(records) == 0 {
		return nil
	}

	ctx, seg := xray.BeginSubsegment(ctx, "NotificationRepository.CreateNotifications")
	defer seg.Close(nil)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for i := range records {
		if err := r.insert(ctx, tx, &records[i]); err != nil {
			err = fmt.Errorf("failed to create notification for user %d: %w", records[i].UserID, err)
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
			}
			seg.Close(err)
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// insert は作成日時が未設定のレコードに現在時刻を設定してから保存します
func (r *NotificationRepositoryImpl) insert(ctx context.Context, tx *sqlx.Tx, record *model.NotificationRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now()
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}

	return tx.QueryRowContext(ctx,
		insertNotificationQuery,
		record.UserID,
		record.Title,
		record.Message,
		record.IsRead,
		record.Type,
		record.CreatedAt,
		record.UpdatedAt,
	).Scan(&record.ID)
}
