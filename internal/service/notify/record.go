package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-office-reservation/internal/model"
	"github.com/uma-arai/sbcntr-office-reservation/internal/repository"
)

// RecordSink は通知を notifications テーブルに保存します
type RecordSink struct {
	repo repository.NotificationRepository
}

// NewRecordSink は新しいRecordSinkを作成します
func NewRecordSink(repo repository.NotificationRepository) *RecordSink {
	return &RecordSink{repo: repo}
}

func (s *RecordSink) Name() string { return "db" }

// Deliver は通知をレコードに変換し、1トランザクションで保存します
func (s *RecordSink) Deliver(ctx context.Context, d Delivery) error {
	ctx, seg := xray.BeginSubsegment(ctx, "RecordSink.Deliver")
	defer seg.Close(nil)

	titles := d.OfficeTitles()
	records := make([]model.NotificationRecord, 0, len(d.Notifications))
	for _, n := range d.Notifications {
		record, err := n.ToNotificationRecord(titles)
		if err != nil {
			seg.Close(err)
			return fmt.Errorf("failed to convert notification: %w", err)
		}
		records = append(records, *record)
	}

	if err := s.repo.CreateNotifications(ctx, records); err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to create notifications: %w", err)
	}
	return nil
}
