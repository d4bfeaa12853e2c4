package model

// ApprovalStatus はオフィスの承認状態を表します
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
)

// MaxMonthlyDiscount は月額割引率の上限(%)です
const MaxMonthlyDiscount = 90

// Office はオフィス情報です。予約処理からは参照のみ行います
type Office struct {
	ID              int64          `db:"id"`
	UserID          int64          `db:"user_id"`
	Title           string         `db:"title"`
	PricePerDay     int64          `db:"price_per_day"`
	MonthlyDiscount int            `db:"monthly_discount"`
	Hidden          bool           `db:"hidden"`
	ApprovalStatus  ApprovalStatus `db:"approval_status"`
}

// IsBookable は承認済みかつ公開中のオフィスのみ予約可能とします
func (o Office) IsBookable() bool {
	return !o.Hidden && o.ApprovalStatus == ApprovalStatusApproved
}
