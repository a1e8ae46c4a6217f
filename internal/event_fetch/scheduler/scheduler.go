// Package scheduler 驱动完整的抓取-补全周期：
// 按固定点位对齐触发，每轮依次跑 抓取 -> 规范化 -> 入库 -> 补全。
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"event-fetch/internal/event_fetch/enrich"
	"event-fetch/internal/event_fetch/fetcher"
	"event-fetch/internal/event_fetch/model"
	"event-fetch/internal/event_fetch/normalize"
	"event-fetch/internal/event_fetch/registry"
	"event-fetch/internal/event_fetch/storage"
)

type Worker struct {
	Log      *zap.Logger
	Engine   *fetcher.Engine
	Store    storage.Store
	Enricher *enrich.Enricher
	Sources  []registry.Source
	Force    bool             // 强制刷新：来的记录整条覆盖已有行
	Now      func() time.Time // 可注入，测试用
}

// nextAnchor 下一个触发点：本地时间每 3 小时一个点位
func nextAnchor(now time.Time, loc *time.Location) time.Time {
	anchors := []int{0, 3, 6, 9, 12, 15, 18, 21}
	local := now.In(loc)
	for _, h := range anchors {
		t := time.Date(local.Year(), local.Month(), local.Day(), h, 0, 0, 0, loc)
		if !t.Before(local) {
			return t.UTC()
		}
	}
	// 都过了 -> 明天 00:00
	next := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return next.UTC()
}

func (w *Worker) Run(ctx context.Context) {
	// 启动先跑一轮，不等点位
	w.RunOnce(ctx)

	berlin, _ := time.LoadLocation("Europe/Berlin")
	for {
		select {
		case <-ctx.Done():
			return
		default:
			next := nextAnchor(w.now(), berlin)
			sleep := time.Until(next)
			if sleep < 0 {
				sleep = 0
			}
			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				w.RunOnce(ctx)
			}
		}
	}
}

// RunOnce 跑一个完整周期并返回汇总。
// 单个来源失败只影响它自己；存储写入失败会中止本轮。
func (w *Worker) RunOnce(ctx context.Context) *model.RunReport {
	start := w.now()
	report := model.NewRunReport()

	results := w.Engine.FetchAll(ctx, w.Sources)
	scrapedAt := start.UTC()

	for _, res := range results {
		s := report.Source(res.Source.ID)
		if res.Err != nil {
			s.Err = res.Err.Error()
			continue
		}
		s.Fetched = len(res.Raw)
		s.Warnings = res.Warnings

		for _, raw := range res.Raw {
			ev, err := normalize.Normalize(raw, res.Source.BaseURL, scrapedAt)
			if err != nil {
				s.Rejected++
				w.Log.Warn("event rejected",
					zap.String("source", res.Source.ID),
					zap.String("name", raw.Name),
					zap.String("date", raw.Date),
					zap.Error(err),
				)
				continue
			}
			s.Extracted++

			outcome, err := w.Store.Upsert(ctx, ev, w.Force)
			if err != nil {
				s.Err = err.Error()
				w.Log.Error("upsert failed, aborting cycle",
					zap.String("source", res.Source.ID),
					zap.String("fingerprint", ev.Fingerprint),
					zap.Error(err),
				)
				return report
			}
			if outcome != storage.Unchanged {
				s.Upserted++
			}
		}
	}

	if w.Enricher != nil {
		w.Enricher.Run(ctx, report)
	}

	for id, s := range report.Sources {
		w.Log.Info("source processed",
			zap.String("source", id),
			zap.Int("fetched", s.Fetched),
			zap.Int("extracted", s.Extracted),
			zap.Int("rejected", s.Rejected),
			zap.Int("upserted", s.Upserted),
			zap.Int("warnings", s.Warnings),
			zap.String("error", s.Err),
		)
	}
	w.Log.Info("cycle finished", zap.Duration("elapsed", time.Since(start)))
	return report
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}
