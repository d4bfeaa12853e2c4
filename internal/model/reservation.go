package model

import (
	"fmt"
	"time"
)

// DateLayout は予約日付の入出力フォーマットです
const DateLayout = "2006-01-02"

// ReservationStatus は予約のステータスを表します
type ReservationStatus string

const (
	// ReservationStatusActive は有効な予約を表します。重複チェックの対象になります
	ReservationStatusActive ReservationStatus = "active"
	// ReservationStatusCanceled はキャンセル済みの予約を表します。終端状態です
	ReservationStatusCanceled ReservationStatus = "canceled"
)

// Valid はステータスが定義済みの値かを返します
func (s ReservationStatus) Valid() bool {
	return s == ReservationStatusActive || s == ReservationStatusCanceled
}

// Reservation は予約のドメインモデルです
type Reservation struct {
	ID           int64             `db:"id" json:"id"`
	OfficeID     int64             `db:"office_id" json:"office_id"`
	UserID       int64             `db:"user_id" json:"user_id"`
	StartDate    time.Time         `db:"start_date" json:"start_date"`
	EndDate      time.Time         `db:"end_date" json:"end_date"`
	Status       ReservationStatus `db:"status" json:"status"`
	Price        int64             `db:"price" json:"price"`
	WifiPassword string            `db:"wifi_password" json:"-"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
}

// Range は予約期間を返します
func (r Reservation) Range() DateRange {
	return DateRange{Start: r.StartDate, End: r.EndDate}
}

// IsActive は予約が有効かどうかを返します
func (r Reservation) IsActive() bool {
	return r.Status == ReservationStatusActive
}

// DateRange は開始日と終了日を両端含みで表す期間です
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange は日付文字列から期間を作成します
func NewDateRange(start, end string) (DateRange, error) {
	s, err := ParseDate(start)
	if err != nil {
		return DateRange{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return DateRange{}, err
	}
	return DateRange{Start: s, End: e}, nil
}

// Overlaps は2つの期間が1日でも重なるかを返します
// 既存の開始日 <= 新規の終了日 かつ 既存の終了日 >= 新規の開始日 で判定します
func (r DateRange) Overlaps(other DateRange) bool {
	return !r.Start.After(other.End) && !r.End.Before(other.Start)
}

// Days は開始日と終了日を含めた日数を返します
func (r DateRange) Days() int {
	start := TruncateDate(r.Start)
	end := TruncateDate(r.End)
	return int(end.Sub(start).Hours()/24) + 1
}

// String は "開始日..終了日" 形式で期間を返します
func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", FormatDate(r.Start), FormatDate(r.End))
}

// ParseDate は YYYY-MM-DD 形式の日付をUTCの0時として解釈します
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate は日付を YYYY-MM-DD 形式に整形します
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// TruncateDate は時刻を切り捨て、暦日のみをUTCの0時として返します
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ReservationFilter は予約一覧の絞り込み条件です
// UserID は利用者としての予約、HostID はオフィス所有者としての予約を絞り込みます
type ReservationFilter struct {
	UserID   *int64
	HostID   *int64
	OfficeID *int64
	Status   ReservationStatus
	FromDate *time.Time
	ToDate   *time.Time
	Page     int
	PerPage  int
}

// MaxPage は一覧で指定できるページ番号の上限です
const MaxPage = 10000

// Offset はページ番号からSQLのOFFSETを計算します
// ページ番号は MaxPage で頭打ちにします
func (f ReservationFilter) Offset() int {
	page := f.Page
	if page <= 1 || f.PerPage <= 0 {
		return 0
	}
	if page > MaxPage {
		page = MaxPage
	}
	return (page - 1) * f.PerPage
}

// ReservationPage はページングされた予約一覧です
type ReservationPage struct {
	Reservations []Reservation
	Page         int
	PerPage      int
	Total        int
}

// ReservationEventType は予約イベントの種類を表します
type ReservationEventType string

const (
	// ReservationEventCreated は予約作成時に発行されます
	ReservationEventCreated ReservationEventType = "reservation_created"
	// ReservationEventCanceled は予約キャンセル時に発行されます
	ReservationEventCanceled ReservationEventType = "reservation_canceled"
)

// ReservationEvent は予約処理完了時に発行されるイベントの構造体
// 予約した利用者とオフィス所有者の双方が通知対象です
type ReservationEvent struct {
	Type        ReservationEventType `json:"type"`
	Reservation Reservation          `json:"reservation"`
	HostID      int64                `json:"host_id"`
	OfficeTitle string               `json:"office_title"`
	CreatedAt   time.Time            `json:"created_at"`
}

// ReservationConflict は同一オフィスで期間が重なっている有効な予約の組です
// 正常な状態では存在しないため、整合性チェックバッチでのみ利用します
type ReservationConflict struct {
	OfficeID int64 `db:"office_id" json:"office_id"`
	FirstID  int64 `db:"first_id" json:"first_id"`
	SecondID int64 `db:"second_id" json:"second_id"`
}
