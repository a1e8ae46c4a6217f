package storage

import (
	"event-fetch/internal/event_fetch/model"
)

// Merge 指纹相同时的合并策略，整个系统只有这一处实现。
//
// 普通重抓：来的值只填进空字段，已有内容不被覆盖；
// description_detail 等补全字段单调，重抓带来的空值不会清掉它们。
// force 模式：显式要求刷新，来的记录整条生效（包括清空补全字段）。
func Merge(existing, incoming model.Event, force bool) model.Event {
	if force {
		return incoming
	}

	out := existing
	out.ScrapedAt = incoming.ScrapedAt

	out.Name = fillEmpty(existing.Name, incoming.Name)
	out.Description = fillEmpty(existing.Description, incoming.Description)
	out.Location = fillEmpty(existing.Location, incoming.Location)
	out.Price = fillEmpty(existing.Price, incoming.Price)
	out.Category = fillEmpty(existing.Category, incoming.Category)
	out.URL = fillEmpty(existing.URL, incoming.URL)

	// 补全产物：只进不出
	out.NameLocalized = fillEmpty(existing.NameLocalized, incoming.NameLocalized)
	out.DescriptionLocalized = fillEmpty(existing.DescriptionLocalized, incoming.DescriptionLocalized)
	out.DescriptionDetail = fillEmpty(existing.DescriptionDetail, incoming.DescriptionDetail)

	// 日期和周分区键永远一致地来自同一条记录（指纹包含日期，二者必然相同）
	out.Date = existing.Date
	out.WeekIdentifier = existing.WeekIdentifier

	return out
}

// Changed 判断合并是否带来了内容变化（scraped_at 不算）
func Changed(existing, merged model.Event) bool {
	a, b := existing, merged
	a.ScrapedAt = b.ScrapedAt
	return a != b
}

func fillEmpty(existing, incoming string) string {
	if existing != "" {
		return existing
	}
	return incoming
}
