package booking

import "github.com/uma-arai/sbcntr-office-reservation/internal/model"

// MonthlyDiscountDays は月額割引が適用される最低日数です
const MonthlyDiscountDays = 28

// CalculatePrice は予約期間の料金を計算します
// 開始日と終了日の両方を課金対象とし、28日以上の場合のみ月額割引を適用します
// 割引額は切り捨てです
func CalculatePrice(period model.DateRange, dayRate int64, monthlyDiscount int) int64 {
	days := int64(period.Days())
	if days <= 0 {
		return 0
	}
	price := days * dayRate
	if days >= MonthlyDiscountDays && monthlyDiscount > 0 {
		price -= price * int64(monthlyDiscount) / 100
	}
	return price
}
