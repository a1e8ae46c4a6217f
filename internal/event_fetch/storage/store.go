// Package storage 是事件的持久层。
// 合并语义全部在 Upsert 里，调用方永远不做读-改-写。
package storage

import (
	"context"
	"strings"
	"time"

	"event-fetch/internal/event_fetch/model"
	"event-fetch/internal/event_fetch/week"
)

// Upsert 结果分类
type Outcome int

const (
	Inserted Outcome = iota
	Updated
	Unchanged
)

// Filter getEvents 的查询条件；"all" 或空串表示不过滤
type Filter struct {
	Week     string // current | next | all | 显式分区键
	Location string
	Category string
	Price    string
	Now      time.Time // current/next 的参考时间，零值用 time.Now()
}

// WeekIdentifier 把 current/next 解析成具体分区键；all 返回空串
func (f Filter) WeekIdentifier() string {
	now := f.Now
	if now.IsZero() {
		now = time.Now()
	}
	switch f.Week {
	case "", "all":
		return ""
	case "current":
		return week.For(now, week.Current)
	case "next":
		return week.For(now, week.Next)
	default:
		return f.Week
	}
}

// MatchPrice 价格过滤；"free" 额外匹配空价、0 和德语的免费写法。
// 价格是自由文本，精确匹配之外只做这一个特例。
func MatchPrice(eventPrice, want string) bool {
	if want == "" || want == "all" {
		return true
	}
	p := strings.ToLower(strings.TrimSpace(eventPrice))
	if strings.EqualFold(want, "free") {
		return p == "" || p == "0" || p == "0€" || p == "0 €" ||
			strings.Contains(p, "frei") || strings.Contains(p, "free") ||
			strings.Contains(p, "kostenlos")
	}
	return strings.EqualFold(p, strings.TrimSpace(want))
}

// MatchField location/category 的等值过滤（大小写不敏感）
func MatchField(value, want string) bool {
	if want == "" || want == "all" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(value), strings.TrimSpace(want))
}

// EnrichmentUpdate 补全服务写回的字段；空字段不写
type EnrichmentUpdate struct {
	NameLocalized        string
	DescriptionLocalized string
	DescriptionDetail    string
	Status               string
}

// Store 事件存储。pipeline、补全服务和读 API 都只通过这个接口访问数据。
type Store interface {
	// Upsert 按指纹写入：不存在则插入，存在则按 Merge 的策略合并。
	// 同一指纹的并发 Upsert 被按 key 串行化。
	Upsert(ctx context.Context, ev model.Event, force bool) (Outcome, error)

	// Query 按过滤条件读事件，按日期升序返回
	Query(ctx context.Context, f Filter) ([]model.Event, error)

	// Pending 返回还有待补全字段的事件
	Pending(ctx context.Context, limit int) ([]model.Event, error)

	// SetEnrichment 写回补全结果；只设置非空字段和状态
	SetEnrichment(ctx context.Context, fingerprint string, upd EnrichmentUpdate) error

	// Clear 清空全部事件（运维命令用）
	Clear(ctx context.Context) error
}
