package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-office-reservation/internal/common/config"
	"github.com/uma-arai/sbcntr-office-reservation/internal/common/database"
	"github.com/uma-arai/sbcntr-office-reservation/internal/common/utils"
	"github.com/uma-arai/sbcntr-office-reservation/internal/model"
	"github.com/uma-arai/sbcntr-office-reservation/internal/repository"
)

// NotificationBatchService は通知バッチ処理を担当します
// 予約APIが起動したステートマシンから通知を受け取り、notifications テーブルに保存します
type NotificationBatchService struct {
	args             []model.Notification
	db               *database.DB
	notificationRepo repository.NotificationRepository
	officeRepo       repository.OfficeRepository
	cfg              *config.Config
}

// NewNotificationBatchService は新しいNotificationBatchServiceを作成します
func NewNotificationBatchService(cfg *config.Config) (*NotificationBatchService, error) {
	db, err := database.NewDB(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	// database.DBをrepository.DBに変換
	repoDb := repository.NewDBFromSQLX(db.DB)

	return &NotificationBatchService{
		db:               db,
		notificationRepo: repository.NewNotificationRepository(repoDb),
		officeRepo:       repository.NewOfficeRepository(repoDb),
		cfg:              cfg,
	}, nil
}

// Close は終了処理を行います
func (s *NotificationBatchService) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SetArgs は通知バッチ処理の引数を設定します
func (s *NotificationBatchService) SetArgs(args []model.Notification) {
	s.args = args
}

// ParseNotifications はステートマシンの入力 {"notifications": [...]} を通知に変換します
// IDを欠落なく扱うため数値は json.Number として読み込みます
func ParseNotifications(input []byte) ([]model.Notification, error) {
	var payload struct {
		Notifications []model.Notification `json:"notifications"`
	}
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse notifications input: %w", err)
	}
	return payload.Notifications, nil
}

// Run は通知バッチ処理を実行します
func (s *NotificationBatchService) Run(ctx context.Context) error {
	// X-Rayセグメントの作成
	ctx, seg := xray.BeginSubsegment(ctx, "NotificationBatchService.Run")
	defer seg.Close(nil)

	notifications := s.args
	log.Printf("Starting notification batch process for %d notifications...", len(notifications))

	// セグメントにメタデータを追加
	if err := seg.AddMetadata("notification_count", len(notifications)); err != nil {
		log.Printf("Failed to add notification_count metadata: %v", err)
	}

	// 処理開始時刻を記録
	startTime := time.Now()

	// オフィス名を取得
	officeTitles, err := s.getOfficeTitleMap(ctx, notifications)
	if err != nil {
		seg.Close(err)
		return err
	}

	// 通知をレコードに変換
	records := make([]model.NotificationRecord, len(notifications))
	for i, notification := range notifications {
		record, err := notification.ToNotificationRecord(officeTitles)
		if err != nil {
			seg.Close(err)
			return err
		}
		records[i] = *record
	}

	// 通知レコードを作成
	if err := s.notificationRepo.CreateNotifications(ctx, records); err != nil {
		seg.Close(err)
		return utils.WithStack(fmt.Errorf("failed to create notifications: %w", err))
	}

	duration := time.Since(startTime)

	if err := seg.AddMetadata("duration", duration.String()); err != nil {
		log.Printf("Failed to add duration metadata: %v", err)
	}
	if err := seg.AddMetadata("office_count", len(officeTitles)); err != nil {
		log.Printf("Failed to add office_count metadata: %v", err)
	}

	log.Printf("Notification batch process completed successfully. Duration: %v", duration)
	return nil
}

// 通知データに含まれる情報からオフィス名を取得する
// N+1とならないように重複がないオフィスIDをまとめてから1回のクエリで取得する
func (s *NotificationBatchService) getOfficeTitleMap(ctx context.Context, notifications []model.Notification) (map[int64]string, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "NotificationBatchService.getOfficeTitleMap")
	defer seg.Close(nil)

	officeIDs := make([]int64, 0)
	for _, notification := range notifications {
		// 予約以外の通知は共通の通知として扱うためオフィス名は不要
		if !notification.Type.IsReservation() {
			continue
		}
		officeID, err := notification.OfficeID()
		if err != nil {
			err = fmt.Errorf("invalid office_id in notification: %w", err)
			seg.Close(err)
			return nil, err
		}

		// officeIDが重複している場合はスキップ
		if slices.Contains(officeIDs, officeID) {
			continue
		}
		officeIDs = append(officeIDs, officeID)
	}

	if err := seg.AddMetadata("unique_office_count", len(officeIDs)); err != nil {
		log.Printf("Failed to add unique_office_count metadata: %v", err)
	}

	titles, err := s.officeRepo.GetTitlesByIDs(ctx, officeIDs)
	if err != nil {
		seg.Close(err)
		return nil, err
	}
	return titles, nil
}
