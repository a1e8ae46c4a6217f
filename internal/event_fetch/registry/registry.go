// Package registry 是抓取目标的静态目录。
// 新增一个来源只需要加一个 Source 条目和它的字段规则集，引擎不用改。
package registry

// Source 一个外部活动站点的抓取配置
type Source struct {
	ID           string   // 稳定标识，入库时写进 source_id
	Name         string   // 展示名
	BaseURL      string   // 相对链接的解析基准
	ListURL      string   // 列表页地址
	ExtraPages   []string // 可选的分页/附加列表页
	ItemSelector string   // 圈定单个活动条目的 selector
	Rules        RuleSet  // 逐字段抽取规则
}

// PageURLs 列表页 + 附加页
func (s Source) PageURLs() []string {
	return append([]string{s.ListURL}, s.ExtraPages...)
}

// Sources 返回固定的抓取目录。
// 规则写错某个字段时，该字段留空并记告警，整个来源照常跑。
func Sources() []Source {
	return []Source{
		{
			ID:           "stadtleben",
			Name:         "Stadtleben Veranstaltungen",
			BaseURL:      "https://www.stadtleben-events.de",
			ListURL:      "https://www.stadtleben-events.de/veranstaltungen",
			ItemSelector: "article.event-item",
			Rules: RuleSet{
				Name:        SelectorRule{Selector: "h3.event-title"},
				Date:        AttrRule{Selector: "time", Attr: "datetime"},
				Location:    SelectorRule{Selector: "span.event-location"},
				Price:       SelectorRule{Selector: "span.event-price"},
				Category:    SelectorRule{Selector: "span.event-category"},
				URL:         AttrRule{Selector: "a.event-link", Attr: "href"},
				Description: SelectorRule{Selector: "p.event-teaser"},
			},
		},
		{
			ID:           "marktkalender",
			Name:         "Marktkalender Region",
			BaseURL:      "https://www.marktkalender-region.de",
			ListURL:      "https://www.marktkalender-region.de/maerkte/aktuell",
			ExtraPages:   []string{"https://www.marktkalender-region.de/maerkte/aktuell?page=2"},
			ItemSelector: "div.markt-eintrag",
			Rules: RuleSet{
				Name:     SelectorRule{Selector: ".markt-name"},
				Date:     SelectorRule{Selector: ".markt-datum"},
				Location: SelectorRule{Selector: ".markt-ort"},
				// 站点把价格写在自由文本里，用正则抠出来
				Price:    Regexp(`Eintritt:\s*([^<]+)<`),
				Category: FixedRule{Value: "Markt"},
				URL:      AttrRule{Selector: "a", Attr: "href"},
			},
		},
		{
			ID:           "konzertkasse",
			Name:         "Konzertkasse Live",
			BaseURL:      "https://www.konzertkasse-live.de",
			ListURL:      "https://www.konzertkasse-live.de/konzerte/diese-woche",
			ItemSelector: "li.concert",
			Rules: RuleSet{
				Name:        SelectorRule{Selector: ".concert-act"},
				Date:        AttrRule{Selector: "time[datetime]", Attr: "datetime"},
				Location:    SelectorRule{Selector: ".concert-venue"},
				Price:       SelectorRule{Selector: ".concert-price"},
				Category:    FixedRule{Value: "Konzert"},
				URL:         AttrRule{Selector: "a.concert-detail", Attr: "href"},
				Description: SelectorRule{Selector: ".concert-info"},
			},
		},
	}
}

// ByID 按标识查找来源，找不到时第二个返回值为 false
func ByID(id string) (Source, bool) {
	for _, s := range Sources() {
		if s.ID == id {
			return s, true
		}
	}
	return Source{}, false
}
