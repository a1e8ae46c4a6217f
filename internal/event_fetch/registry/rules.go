package registry

import (
	"fmt"
	"regexp"

	"golang.org/x/net/html"

	"event-fetch/internal/event_fetch/extract"
)

// Rule 从单个条目节点中抽取一个字段。
// 规则失败只意味着该字段为空，不影响条目里的其他字段。
type Rule interface {
	Extract(item *html.Node) (string, error)
}

// SelectorRule 取第一个匹配节点的文本
type SelectorRule struct {
	Selector string
}

func (r SelectorRule) Extract(item *html.Node) (string, error) {
	n := extract.First(item, r.Selector)
	if n == nil {
		return "", fmt.Errorf("selector %q matched nothing", r.Selector)
	}
	return extract.Text(n), nil
}

// AttrRule 取第一个匹配节点的属性值（典型：a 的 href、time 的 datetime）
type AttrRule struct {
	Selector string
	Attr     string
}

func (r AttrRule) Extract(item *html.Node) (string, error) {
	n := extract.First(item, r.Selector)
	if n == nil {
		return "", fmt.Errorf("selector %q matched nothing", r.Selector)
	}
	v := extract.Attr(n, r.Attr)
	if v == "" {
		return "", fmt.Errorf("selector %q has no attribute %q", r.Selector, r.Attr)
	}
	return v, nil
}

// RegexpRule 在条目的渲染 HTML 上跑正则，取第一个捕获组
type RegexpRule struct {
	Pattern *regexp.Regexp
}

// Regexp 编译失败直接 panic：规则集是静态代码，坏模式属于编程错误
func Regexp(expr string) RegexpRule {
	return RegexpRule{Pattern: regexp.MustCompile(expr)}
}

func (r RegexpRule) Extract(item *html.Node) (string, error) {
	m := r.Pattern.FindStringSubmatch(extract.Render(item))
	if len(m) < 2 {
		return "", fmt.Errorf("pattern %q matched nothing", r.Pattern.String())
	}
	return m[1], nil
}

// FixedRule 固定值（比如某来源只有演唱会一类）
type FixedRule struct {
	Value string
}

func (r FixedRule) Extract(*html.Node) (string, error) {
	return r.Value, nil
}

// RuleSet 某来源的逐字段规则；缺某个字段的规则时该字段恒为空
type RuleSet struct {
	Name        Rule
	Date        Rule
	Location    Rule
	Price       Rule
	Category    Rule
	URL         Rule
	Description Rule
}

// Fields 按固定顺序遍历规则，供抓取引擎逐字段抽取
func (rs RuleSet) Fields() []struct {
	Name string
	Rule Rule
} {
	return []struct {
		Name string
		Rule Rule
	}{
		{"name", rs.Name},
		{"date", rs.Date},
		{"location", rs.Location},
		{"price", rs.Price},
		{"category", rs.Category},
		{"url", rs.URL},
		{"description", rs.Description},
	}
}
