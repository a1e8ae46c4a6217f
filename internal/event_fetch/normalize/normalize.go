// Package normalize 把原始抓取结果规范化成可入库的 Event：
// 清洗文本、解析日期、解析相对链接、算指纹、赋周分区键。
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"event-fetch/internal/event_fetch/model"
	"event-fetch/internal/event_fetch/week"
)

// ErrUnparsableDate 所有已知日期格式都不匹配；这种记录拒收，不落库
var ErrUnparsableDate = errors.New("unparsable date")

// ErrMissingField 缺少入库必需字段（name / source_id）
var ErrMissingField = errors.New("missing required field")

// dateLayouts 按顺序尝试的日期格式。
// 德语站点以 dd.mm.yyyy 为主，ISO 放最前面是因为 time 属性一般是 ISO。
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04",
	"02.01.2006",
	"2.1.2006",
	"02.01.2006 15:04",
	"02/01/2006",
	"January 2, 2006",
	"2 January 2006",
}

// Normalize 把 RawEvent 转成 Event。
// scrapedAt 用注入的时间，保证周计算可测。
func Normalize(raw model.RawEvent, baseURL string, scrapedAt time.Time) (model.Event, error) {
	name := Collapse(raw.Name)
	if raw.SourceID == "" || name == "" {
		return model.Event{}, fmt.Errorf("%w: source=%q name=%q", ErrMissingField, raw.SourceID, raw.Name)
	}

	date, err := ParseDate(raw.Date)
	if err != nil {
		return model.Event{}, err
	}

	location := Collapse(raw.Location)
	ev := model.Event{
		Fingerprint:      Fingerprint(name, date, location),
		SourceID:         raw.SourceID,
		Name:             name,
		Description:      Collapse(raw.Description),
		Date:             date.Format("2006-01-02"),
		Location:         location,
		Price:            Collapse(raw.Price),
		Category:         Collapse(raw.Category),
		URL:              ResolveURL(baseURL, strings.TrimSpace(raw.URL)),
		WeekIdentifier:   week.ForDate(date),
		ScrapedAt:        scrapedAt,
		EnrichmentStatus: model.EnrichmentPending,
	}
	return ev, nil
}

// ParseDate 按固定顺序尝试所有接受的格式，全部失败返回 ErrUnparsableDate
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrUnparsableDate)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparsableDate, s)
}

// ResolveURL 把相对链接解析到来源站点的 base 上；绝对链接原样返回
func ResolveURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// Fingerprint 规范化身份字段的稳定哈希。
// 大小写不敏感、空白折叠，故意不含 source_id：
// 两个站点登同一场活动时必须合并成一行。
func Fingerprint(name string, date time.Time, location string) string {
	key := strings.ToLower(Collapse(name)) + "|" +
		date.Format("2006-01-02") + "|" +
		strings.ToLower(Collapse(location))
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Collapse 去首尾空白并把内部连续空白折叠成单个空格
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
