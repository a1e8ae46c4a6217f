package storage

import (
	"context"
	"sort"
	"sync"

	"event-fetch/internal/event_fetch/model"
)

// Memory 内存实现，语义与 Mongo 版一致（共用 Merge 和按指纹的锁）。
// 测试和本地一次性运行用，不持久。
type Memory struct {
	mu     sync.RWMutex
	events map[string]model.Event
	locks  *kmutex
}

func NewMemory() *Memory {
	return &Memory{
		events: make(map[string]model.Event),
		locks:  newKmutex(),
	}
}

func (s *Memory) Upsert(_ context.Context, ev model.Event, force bool) (Outcome, error) {
	s.locks.Lock(ev.Fingerprint)
	defer s.locks.Unlock(ev.Fingerprint)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.events[ev.Fingerprint]
	if !ok {
		s.events[ev.Fingerprint] = ev
		return Inserted, nil
	}

	merged := Merge(existing, ev, force)
	s.events[ev.Fingerprint] = merged
	if Changed(existing, merged) {
		return Updated, nil
	}
	return Unchanged, nil
}

func (s *Memory) Query(_ context.Context, f Filter) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wk := f.WeekIdentifier()
	var out []model.Event
	for _, ev := range s.events {
		if wk != "" && ev.WeekIdentifier != wk {
			continue
		}
		if !MatchField(ev.Location, f.Location) ||
			!MatchField(ev.Category, f.Category) ||
			!MatchPrice(ev.Price, f.Price) {
			continue
		}
		out = append(out, ev)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out, nil
}

func (s *Memory) Pending(_ context.Context, limit int) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Event
	for _, ev := range s.events {
		if ev.NeedsEnrichment() {
			out = append(out, ev)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out, nil
}

func (s *Memory) SetEnrichment(_ context.Context, fingerprint string, upd EnrichmentUpdate) error {
	s.locks.Lock(fingerprint)
	defer s.locks.Unlock(fingerprint)

	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[fingerprint]
	if !ok {
		return nil
	}
	if upd.NameLocalized != "" {
		ev.NameLocalized = upd.NameLocalized
	}
	if upd.DescriptionLocalized != "" {
		ev.DescriptionLocalized = upd.DescriptionLocalized
	}
	if upd.DescriptionDetail != "" {
		ev.DescriptionDetail = upd.DescriptionDetail
	}
	if upd.Status != "" {
		ev.EnrichmentStatus = upd.Status
	}
	s.events[fingerprint] = ev
	return nil
}

func (s *Memory) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string]model.Event)
	return nil
}

// Len 当前行数（测试断言幂等性用）
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
