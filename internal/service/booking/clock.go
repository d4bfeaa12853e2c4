package booking

import "time"

// Clock は現在時刻を返します。テストでは固定の時刻に差し替えます
type Clock interface {
	Now() time.Time
}

// RealClock はシステム時刻を返すClockです
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// ClockFunc は関数をClockとして扱います
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
