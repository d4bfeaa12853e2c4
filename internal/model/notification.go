package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// NotificationType は通知の種類を表します
type NotificationType string

const (
	// NotificationTypeReservation は予約した利用者への予約完了通知を表します
	NotificationTypeReservation NotificationType = "reservation"
	// NotificationTypeHostReservation はオフィス所有者への新規予約通知を表します
	NotificationTypeHostReservation NotificationType = "host_reservation"
	// NotificationTypeReservationCanceled はオフィス所有者への予約キャンセル通知を表します
	NotificationTypeReservationCanceled NotificationType = "reservation_canceled"
	// NotificationTypeCommon は共通の通知を表します
	NotificationTypeCommon NotificationType = "common"
)

// IsReservation は予約に紐づきオフィス情報を必要とする通知かを返します
func (t NotificationType) IsReservation() bool {
	switch t {
	case NotificationTypeReservation, NotificationTypeHostReservation, NotificationTypeReservationCanceled:
		return true
	}
	return false
}

// Notification はイベントIFを受け取るための定義です
// アプリケーションサービス層と通知バッチの間で JSON として受け渡されます
type Notification struct {
	Type      NotificationType `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
	Data      interface{}      `json:"data"`
}

// NotificationRecord は通知のドメインモデルです
// データベースに永続化される通知レコードと今回は一致しています
type NotificationRecord struct {
	ID        int              `db:"id"`
	UserID    int64            `db:"user_id"`
	Title     string           `db:"title"`
	Message   string           `db:"message"`
	IsRead    bool             `db:"is_read"`
	Type      NotificationType `db:"type"`
	CreatedAt time.Time        `db:"created_at"`
	UpdatedAt time.Time        `db:"updated_at"`
}

// RecipientID は通知の宛先ユーザーIDを返します
func (n Notification) RecipientID() (int64, error) {
	data, ok := n.Data.(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("invalid notification data format")
	}
	return int64Value(data["user_id"])
}

// OfficeID は通知対象のオフィスIDを返します
func (n Notification) OfficeID() (int64, error) {
	data, ok := n.Data.(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("invalid notification data format")
	}
	return int64Value(data["office_id"])
}

// ToNotificationRecord は通知を通知レコードに変換します
func (n Notification) ToNotificationRecord(officeTitles map[int64]string) (*NotificationRecord, error) {
	// Dataフィールドの型をチェック
	data, ok := n.Data.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid notification data format")
	}

	userID, err := int64Value(data["user_id"])
	if err != nil {
		return nil, fmt.Errorf("invalid user_id: %w", err)
	}

	record := &NotificationRecord{
		UserID:    userID,
		IsRead:    false,
		Type:      n.Type,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.CreatedAt,
	}

	if n.Type.IsReservation() {
		officeID, err := int64Value(data["office_id"])
		if err != nil {
			return nil, fmt.Errorf("invalid office_id: %w", err)
		}
		title, ok := officeTitles[officeID]
		if !ok {
			return nil, fmt.Errorf("office_id %d not found in officeTitles", officeID)
		}
		startDate, _ := data["start_date"].(string)
		endDate, _ := data["end_date"].(string)
		period := fmt.Sprintf("%s 〜 %s", startDate, endDate)

		switch n.Type {
		case NotificationTypeReservation:
			record.Title = "予約が完了しました"
			record.Message = fmt.Sprintf("予約が完了しました。\n期間: %s\nオフィス: %s", period, title)
		case NotificationTypeHostReservation:
			record.Title = "新しい予約が入りました"
			record.Message = fmt.Sprintf("オフィスに新しい予約が入りました。\n期間: %s\nオフィス: %s", period, title)
		default:
			record.Title = "予約がキャンセルされました"
			record.Message = fmt.Sprintf("予約がキャンセルされました。\n期間: %s\nオフィス: %s", period, title)
		}
		return record, nil
	}

	record.Title = "新しい通知が届きました。"
	record.Message = "新しい通知です。"
	record.Type = NotificationTypeCommon
	return record, nil
}

// NewReservationNotifications は予約イベントから関係者への通知を作成します
// 作成時は利用者とオフィス所有者の双方、キャンセル時はオフィス所有者のみが宛先です
func NewReservationNotifications(event ReservationEvent) []Notification {
	newNotification := func(t NotificationType, recipient int64) Notification {
		r := event.Reservation
		return Notification{
			Type:      t,
			CreatedAt: event.CreatedAt,
			Data: map[string]interface{}{
				"user_id":        recipient,
				"reservation_id": r.ID,
				"office_id":      r.OfficeID,
				"start_date":     FormatDate(r.StartDate),
				"end_date":       FormatDate(r.EndDate),
				"price":          r.Price,
			},
		}
	}

	switch event.Type {
	case ReservationEventCreated:
		return []Notification{
			newNotification(NotificationTypeReservation, event.Reservation.UserID),
			newNotification(NotificationTypeHostReservation, event.HostID),
		}
	case ReservationEventCanceled:
		return []Notification{
			newNotification(NotificationTypeReservationCanceled, event.HostID),
		}
	}
	return nil
}

// int64Value はJSONデコード後の数値も含めてIDを取り出します
func int64Value(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("unexpected type for id: %T", v)
	}
}
