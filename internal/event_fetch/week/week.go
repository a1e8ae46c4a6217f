package week

import (
	"fmt"
	"time"
)

// Mode 选择参考时间所在周还是下一周
type Mode int

const (
	Current Mode = iota
	Next
)

const dateLayout = "2006-01-02"

// Window 计算参考时间对应的周一到周日窗口（周一为一周起点）。
// 注意周日：time.Weekday 里 Sunday=0，距周一应为 6 天而不是 -1，
// 直接用 dow-1 会把周日算进下一周。
func Window(ref time.Time, mode Mode) (monday, sunday time.Time) {
	day := truncate(ref)

	dow := int(day.Weekday()) // Sunday=0 ... Saturday=6
	daysSinceMonday := dow - 1
	if dow == 0 {
		daysSinceMonday = 6
	}

	monday = day.AddDate(0, 0, -daysSinceMonday)
	if mode == Next {
		monday = monday.AddDate(0, 0, 7)
	}
	sunday = monday.AddDate(0, 0, 6)
	return monday, sunday
}

// Identifier 周窗口的文本分区键：YYYY-MM-DD_to_YYYY-MM-DD
func Identifier(monday, sunday time.Time) string {
	return fmt.Sprintf("%s_to_%s", monday.Format(dateLayout), sunday.Format(dateLayout))
}

// For 返回某模式下参考时间的分区键
func For(ref time.Time, mode Mode) string {
	return Identifier(Window(ref, mode))
}

// ForDate 返回包含指定日期的周的分区键（规范化阶段给事件赋 week_identifier 用）
func ForDate(d time.Time) string {
	return For(d, Current)
}

// truncate 去掉时分秒，只保留日历日期
func truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
