package market

import (
	"fmt"
	"strings"
	"time"
)

// 时间戳解析按固定顺序尝试，覆盖数据商导出（DD/MM/YYYY）与数据库格式。
var timestampLayouts = []string{
	"02/01/2006 15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999Z07:00",
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
}

// ParseTimestamp 依次尝试已知格式；全部失败返回错误，调用方按
// fail-soft 处理（跳过该 bar 的日历逻辑，价格照常参与模拟）。
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("时间戳为空")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("无法解析时间戳: %s", raw)
}

// Clock 是 bar 在当日的时钟位置，供交易时段判断使用。
type Clock struct {
	Valid  bool
	Date   string // YYYY-MM-DD
	Hour   int
	Minute int
}

// ClockOf 解析 bar 的时间戳；解析失败时 Valid=false。
func ClockOf(b Bar) Clock {
	t, err := ParseTimestamp(b.Timestamp)
	if err != nil {
		return Clock{}
	}
	return Clock{
		Valid:  true,
		Date:   t.Format("2006-01-02"),
		Hour:   t.Hour(),
		Minute: t.Minute(),
	}
}

// MinuteOfDay 返回 0~1439 的分钟序号；便于比较时段边界。
func (c Clock) MinuteOfDay() int {
	return c.Hour*60 + c.Minute
}

// HHMM 解析 "15:40" 形式的时刻为当日分钟序号。
func HHMM(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("无效时刻 %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
