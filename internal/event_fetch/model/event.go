package model

import (
	"time"
)

// EnrichmentStatus 事件补全状态
const (
	EnrichmentPending  = "pending"
	EnrichmentComplete = "complete"
	EnrichmentFailed   = "failed"
)

// RawEvent 单条未处理的抓取结果（字符串原样保留，未去重）
type RawEvent struct {
	SourceID    string   // 来源站点标识
	Name        string   // 活动名称（原文）
	Date        string   // 日期字符串（各站点格式不一）
	Location    string   // 地点
	Price       string   // 价格
	Category    string   // 分类（市集/音乐节/演唱会等）
	URL         string   // 详情链接（可能是相对路径）
	Description string   // 原始描述
	Warnings    []string // 字段抽取失败记录（缺失 selector 等）
}

// Set 按字段名写入抽取结果，名字来自规则集的固定字段表
func (r *RawEvent) Set(field, value string) {
	switch field {
	case "name":
		r.Name = value
	case "date":
		r.Date = value
	case "location":
		r.Location = value
	case "price":
		r.Price = value
	case "category":
		r.Category = value
	case "url":
		r.URL = value
	case "description":
		r.Description = value
	}
}

// Event 规范化后的活动，存储的基本单元
type Event struct {
	Fingerprint          string    `bson:"_id" json:"fingerprint"` // 规范化后 name+date+location 的稳定哈希
	SourceID             string    `bson:"source_id" json:"source_id"`
	Name                 string    `bson:"name" json:"name"`
	NameLocalized        string    `bson:"name_localized" json:"name_localized"`
	Description          string    `bson:"description" json:"description"`
	DescriptionLocalized string    `bson:"description_localized" json:"description_localized"`
	DescriptionDetail    string    `bson:"description_detail" json:"description_detail"` // 长文补全，补全前为空
	Date                 string    `bson:"date" json:"date"`                             // YYYY-MM-DD（无时区的日历日期）
	Location             string    `bson:"location" json:"location"`
	Price                string    `bson:"price" json:"price"`
	Category             string    `bson:"category" json:"category"`
	URL                  string    `bson:"url" json:"url"`
	WeekIdentifier       string    `bson:"week_identifier" json:"week_identifier"` // 由 Date 派生，YYYY-MM-DD_to_YYYY-MM-DD
	ScrapedAt            time.Time `bson:"scraped_at" json:"scraped_at"`
	EnrichmentStatus     string    `bson:"enrichment_status" json:"enrichment_status"`
}

// NeedsEnrichment 判断事件是否还有待补全字段
func (e *Event) NeedsEnrichment() bool {
	if e.EnrichmentStatus == EnrichmentComplete {
		return false
	}
	return e.NameLocalized == "" || e.DescriptionLocalized == "" || e.DescriptionDetail == ""
}
