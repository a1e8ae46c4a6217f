// Package enrich 用模型链补全事件的本地化名称、本地化描述和长文介绍。
// provider 按配置顺序尝试，每个 provider 内模型按顺序尝试，
// 被限流的 provider 本轮不再使用。
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"event-fetch/internal/event_fetch/model"
	"event-fetch/internal/event_fetch/storage"
)

// Chain 一个 provider 和它按优先级排列的模型
type Chain struct {
	Provider Provider
	Models   []string
}

// Enricher 补全服务
type Enricher struct {
	Log         *zap.Logger
	Store       storage.Store
	Chains      []Chain
	Language    string // 目标语言，默认 English
	MaxFieldLen int    // 单字段最大长度，超过视为无效输出
	Concurrency int    // 同时补全的事件数
	BatchSize   int    // 每轮最多处理的事件数

	limiter *rate.Limiter

	mu          sync.Mutex
	inflight    map[string]struct{}
	disabled    map[string]struct{} // 本轮不再使用的 provider
	rateLimited map[string]int      // 本轮每个 provider 吃到的 429 数
}

// rateLimitBudget 一个 provider 本轮允许的 429 次数，超过即放弃
const rateLimitBudget = 2

func NewEnricher(log *zap.Logger, store storage.Store, chains []Chain) *Enricher {
	return &Enricher{
		Log:         log,
		Store:       store,
		Chains:      chains,
		Language:    "English",
		MaxFieldLen: 4000,
		Concurrency: 3,
		BatchSize:   50,
		limiter:     rate.NewLimiter(rate.Limit(2), 1), // 全局 2 req/s
		inflight:    make(map[string]struct{}),
		disabled:    make(map[string]struct{}),
		rateLimited: make(map[string]int),
	}
}

// Run 取一批待补全事件并逐条补全，返回成功数和失败数。
// report 可以为 nil；非 nil 时按字段累加成功/失败计数。
func (e *Enricher) Run(ctx context.Context, report *model.RunReport) (done, failed int) {
	if len(e.Chains) == 0 {
		return 0, 0
	}

	e.mu.Lock()
	e.disabled = make(map[string]struct{})
	e.rateLimited = make(map[string]int)
	e.mu.Unlock()

	events, err := e.Store.Pending(ctx, e.BatchSize)
	if err != nil {
		e.Log.Error("load pending events failed", zap.Error(err))
		return 0, 0
	}
	if len(events) == 0 {
		return 0, 0
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(e.Concurrency)
	for _, ev := range events {
		ev := ev
		g.Go(func() error {
			ok := e.EnrichOne(ctx, ev, report)
			mu.Lock()
			if ok {
				done++
			} else {
				failed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	e.Log.Info("enrichment round finished",
		zap.Int("pending", len(events)),
		zap.Int("done", done),
		zap.Int("failed", failed))
	return done, failed
}

// EnrichOne 补全单个事件。同一指纹同时只跑一份，重复调用直接返回。
func (e *Enricher) EnrichOne(ctx context.Context, ev model.Event, report *model.RunReport) bool {
	e.mu.Lock()
	if _, busy := e.inflight[ev.Fingerprint]; busy {
		e.mu.Unlock()
		return false
	}
	e.inflight[ev.Fingerprint] = struct{}{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, ev.Fingerprint)
		e.mu.Unlock()
	}()

	upd := storage.EnrichmentUpdate{}
	allOK := true

	if ev.NameLocalized == "" {
		out, err := e.generate(ctx, e.namePrompt(ev))
		e.record(report, "name_localized", err == nil)
		if err != nil {
			e.Log.Warn("enrich name failed",
				zap.String("fingerprint", ev.Fingerprint),
				zap.String("name", ev.Name),
				zap.Error(err))
			allOK = false
		} else {
			upd.NameLocalized = out
		}
	}
	if ev.DescriptionLocalized == "" {
		out, err := e.generate(ctx, e.descriptionPrompt(ev))
		e.record(report, "description_localized", err == nil)
		if err != nil {
			e.Log.Warn("enrich description failed",
				zap.String("fingerprint", ev.Fingerprint),
				zap.Error(err))
			allOK = false
		} else {
			upd.DescriptionLocalized = out
		}
	}
	if ev.DescriptionDetail == "" {
		out, err := e.generate(ctx, e.detailPrompt(ev))
		e.record(report, "description_detail", err == nil)
		if err != nil {
			e.Log.Warn("enrich detail failed",
				zap.String("fingerprint", ev.Fingerprint),
				zap.Error(err))
			allOK = false
		} else {
			upd.DescriptionDetail = out
		}
	}

	if allOK {
		upd.Status = model.EnrichmentComplete
	} else {
		upd.Status = model.EnrichmentFailed
	}

	if err := e.Store.SetEnrichment(ctx, ev.Fingerprint, upd); err != nil {
		e.Log.Error("write enrichment failed",
			zap.String("fingerprint", ev.Fingerprint),
			zap.Error(err))
		return false
	}
	return allOK
}

// generate 沿链生成一个字段：provider 顺序 × 模型顺序，取第一个有效输出
func (e *Enricher) generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for _, chain := range e.Chains {
		if e.isDisabled(chain.Provider.ID()) {
			continue
		}
	models:
		for _, m := range chain.Models {
			if err := e.limiter.Wait(ctx); err != nil {
				return "", err
			}
			out, err := chain.Provider.Generate(ctx, m, prompt)
			if err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				lastErr = err
				if errors.Is(err, ErrRateLimited) {
					// 限流有预算：偶发 429 换下一个模型接着试，连续吃满预算才整轮放弃
					if e.noteRateLimit(chain.Provider.ID()) {
						e.Log.Warn("provider rate limited, abandoning for this round",
							zap.String("provider", chain.Provider.ID()))
						break models
					}
					continue
				}
				e.Log.Warn("model call failed",
					zap.String("provider", chain.Provider.ID()),
					zap.String("model", m),
					zap.Error(err))
				continue
			}
			out = strings.TrimSpace(out)
			if out == "" || (e.MaxFieldLen > 0 && len(out) > e.MaxFieldLen) {
				lastErr = fmt.Errorf("%w: provider %s model %s", ErrInvalidOutput, chain.Provider.ID(), m)
				continue
			}
			return out, nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no provider available")
	}
	return "", lastErr
}

func (e *Enricher) record(report *model.RunReport, field string, ok bool) {
	if report == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	f := report.Field(field)
	if ok {
		f.Succeeded++
	} else {
		f.Failed++
	}
}

// noteRateLimit 记一次 429；预算用完时禁用该 provider 并返回 true
func (e *Enricher) noteRateLimit(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rateLimited[id]++
	if e.rateLimited[id] >= rateLimitBudget {
		e.disabled[id] = struct{}{}
		return true
	}
	return false
}

func (e *Enricher) isDisabled(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.disabled[id]
	return ok
}

func (e *Enricher) namePrompt(ev model.Event) string {
	return fmt.Sprintf(
		"Translate the following event name into %s. Reply with the translated name only, no quotes.\n\n%s",
		e.Language, ev.Name)
}

func (e *Enricher) descriptionPrompt(ev model.Event) string {
	src := ev.Description
	if src == "" {
		src = ev.Name
	}
	return fmt.Sprintf(
		"Translate the following event description into %s. Reply with the translation only.\n\n%s",
		e.Language, src)
}

func (e *Enricher) detailPrompt(ev model.Event) string {
	return fmt.Sprintf(
		"Write a short engaging paragraph in %s about this event for a city events listing. "+
			"Use only the facts given, do not invent dates or prices.\n\n"+
			"Name: %s\nDate: %s\nLocation: %s\nPrice: %s\nCategory: %s\nDescription: %s",
		e.Language, ev.Name, ev.Date, ev.Location, ev.Price, ev.Category, ev.Description)
}
