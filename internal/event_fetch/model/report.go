package model

// SourceReport 单个来源在一次运行中的计数
type SourceReport struct {
	Fetched   int    `json:"fetched"`   // 抓到的原始条目数
	Extracted int    `json:"extracted"` // 字段抽取成功（含部分字段为空）
	Rejected  int    `json:"rejected"`  // 规范化阶段被拒（日期无法解析等）
	Upserted  int    `json:"upserted"`  // 新写入或更新的行数
	Warnings  int    `json:"warnings"`  // 字段缺失告警数
	Err       string `json:"error,omitempty"`
}

// FieldReport 单个补全字段在一次运行中的计数
type FieldReport struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"` // 整条 provider 链耗尽
}

// RunReport 一次完整 scrape-enrich 周期的汇总
type RunReport struct {
	Sources    map[string]*SourceReport `json:"sources"`
	Enrichment map[string]*FieldReport  `json:"enrichment"`
}

func NewRunReport() *RunReport {
	return &RunReport{
		Sources:    make(map[string]*SourceReport),
		Enrichment: make(map[string]*FieldReport),
	}
}

// Source 取（或建）某来源的计数器
func (r *RunReport) Source(id string) *SourceReport {
	s, ok := r.Sources[id]
	if !ok {
		s = &SourceReport{}
		r.Sources[id] = s
	}
	return s
}

// Field 取（或建）某补全字段的计数器
func (r *RunReport) Field(name string) *FieldReport {
	f, ok := r.Enrichment[name]
	if !ok {
		f = &FieldReport{}
		r.Enrichment[name] = f
	}
	return f
}
