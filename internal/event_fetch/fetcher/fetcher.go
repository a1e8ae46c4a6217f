package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"event-fetch/internal/event_fetch/extract"
	"event-fetch/internal/event_fetch/model"
	"event-fetch/internal/event_fetch/registry"
)

const userAgent = "event-fetch/1.0"

// FetchError 单个来源的抓取失败；Retryable 标记是否值得退避重试
type FetchError struct {
	SourceID  string
	Retryable bool
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.SourceID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SourceResult 一个来源的抓取结果；Err 非空时 Raw 为空
type SourceResult struct {
	Source   registry.Source
	Raw      []model.RawEvent
	Warnings int
	Err      error
}

// Engine 抓取引擎：并发抓所有来源，单个来源失败不影响其他来源
type Engine struct {
	Log         *zap.Logger
	Client      *http.Client
	MaxRetries  int           // 含首次尝试的总次数
	Backoff     time.Duration // 首次重试延迟
	MaxBackoff  time.Duration
	Concurrency int // worker pool 上限
}

// NewEngine 创建抓取引擎
func NewEngine(log *zap.Logger, client *http.Client, concurrency int) *Engine {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Engine{
		Log:         log,
		Client:      client,
		MaxRetries:  3,
		Backoff:     2 * time.Second,
		MaxBackoff:  30 * time.Second,
		Concurrency: concurrency,
	}
}

// FetchAll 用有界并发抓全部来源；ctx 取消后不再发起新的抓取。
// 返回值与 sources 一一对应。
func (e *Engine) FetchAll(ctx context.Context, sources []registry.Source) []SourceResult {
	results := make([]SourceResult, len(sources))

	var g errgroup.Group
	g.SetLimit(e.Concurrency)

	for i, src := range sources {
		if ctx.Err() != nil {
			results[i] = SourceResult{Source: src, Err: ctx.Err()}
			continue
		}
		i, src := i, src
		g.Go(func() error {
			raw, warnings, err := e.FetchSource(ctx, src)
			results[i] = SourceResult{Source: src, Raw: raw, Warnings: warnings, Err: err}
			if err != nil {
				e.Log.Error("source failed",
					zap.String("source", src.ID),
					zap.Error(err),
				)
			}
			// 失败只记录，不让 errgroup 中断兄弟任务
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// FetchSource 抓单个来源的所有列表页并抽取字段。
// 网络错误和 5xx 按 15s*2^(n-1) 的形状退避重试（起始值可配），
// 4xx 和 HTML 解析失败不重试。
func (e *Engine) FetchSource(ctx context.Context, src registry.Source) ([]model.RawEvent, int, error) {
	var all []model.RawEvent
	warnings := 0

	for _, pageURL := range src.PageURLs() {
		body, err := e.fetchWithRetry(ctx, src.ID, pageURL)
		if err != nil {
			return nil, warnings, err
		}

		doc, err := extract.Parse(body)
		if err != nil {
			return nil, warnings, &FetchError{SourceID: src.ID, Retryable: false, Err: fmt.Errorf("parse html: %w", err)}
		}

		items := extract.Select(doc, src.ItemSelector)
		e.Log.Debug("page fetched",
			zap.String("source", src.ID),
			zap.String("url", pageURL),
			zap.Int("items", len(items)),
		)

		for _, item := range items {
			raw, w := e.extractItem(src, item)
			warnings += w
			all = append(all, raw)
		}
	}

	return all, warnings, nil
}

// extractItem 逐字段独立抽取：某个字段的规则失败只留空加告警，不丢整条
func (e *Engine) extractItem(src registry.Source, item *html.Node) (model.RawEvent, int) {
	raw := model.RawEvent{SourceID: src.ID}
	warnings := 0

	for _, f := range src.Rules.Fields() {
		if f.Rule == nil {
			// 来源没配这个字段，留空即可，不算告警
			continue
		}
		v, err := f.Rule.Extract(item)
		if err != nil {
			warnings++
			raw.Warnings = append(raw.Warnings, fmt.Sprintf("%s: %v", f.Name, err))
			e.Log.Warn("field extraction failed",
				zap.String("source", src.ID),
				zap.String("field", f.Name),
				zap.Error(err),
			)
			continue
		}
		raw.Set(f.Name, v)
	}

	return raw, warnings
}

// fetchWithRetry 带退避的页面抓取
func (e *Engine) fetchWithRetry(ctx context.Context, sourceID, pageURL string) ([]byte, error) {
	maxAttempts := e.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := e.retryDelay(attempt - 1)
			e.Log.Info("retry scheduled",
				zap.String("source", sourceID),
				zap.Int("attempt", attempt),
				zap.Int("maxAttempts", maxAttempts),
				zap.Duration("delay", delay),
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, &FetchError{SourceID: sourceID, Retryable: false, Err: ctx.Err()}
			case <-timer.C:
			}
		}

		body, err := e.fetchPage(ctx, sourceID, pageURL)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var fe *FetchError
		if ok := asFetchError(err, &fe); ok && !fe.Retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func asFetchError(err error, target **FetchError) bool {
	fe, ok := err.(*FetchError)
	if ok {
		*target = fe
	}
	return ok
}

// retryDelay 第 n 次重试的延迟：Backoff * 2^(n-1)，封顶 MaxBackoff
func (e *Engine) retryDelay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return e.Backoff
	}
	delay := e.Backoff
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= e.MaxBackoff {
			return e.MaxBackoff
		}
	}
	return delay
}

// fetchPage 抓一个页面；错误分类成可重试/不可重试
func (e *Engine) fetchPage(ctx context.Context, sourceID, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &FetchError{SourceID: sourceID, Retryable: false, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.Client.Do(req)
	if err != nil {
		// 网络层错误（连接失败、超时）可重试
		return nil, &FetchError{SourceID: sourceID, Retryable: true, Err: err}
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			e.Log.Warn("failed to close response body", zap.Error(err))
		}
	}(resp.Body)

	if resp.StatusCode/100 == 5 {
		return nil, &FetchError{SourceID: sourceID, Retryable: true, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{SourceID: sourceID, Retryable: false, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{SourceID: sourceID, Retryable: true, Err: err}
	}
	return body, nil
}
