package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"event-fetch/internal/event_fetch/model"
	"event-fetch/internal/event_fetch/storage"
)

type fakeProvider struct {
	id string
	fn func(model, prompt string) (string, error)

	mu    sync.Mutex
	calls []string
}

func (p *fakeProvider) ID() string { return p.id }

func (p *fakeProvider) Generate(_ context.Context, m, prompt string) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, m)
	p.mu.Unlock()
	return p.fn(m, prompt)
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func testEnricher(store storage.Store, chains []Chain) *Enricher {
	e := NewEnricher(zap.NewNop(), store, chains)
	e.limiter = rate.NewLimiter(rate.Inf, 1)
	return e
}

func pendingEvent(fp string) model.Event {
	return model.Event{
		Fingerprint:      fp,
		SourceID:         "stadtleben",
		Name:             "Weinfest am Markt",
		Description:      "Wein und Musik",
		Date:             "2026-09-05",
		Location:         "Marktplatz",
		Price:            "5 €",
		Category:         "festival",
		WeekIdentifier:   "2026-08-31_to_2026-09-06",
		ScrapedAt:        time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC),
		EnrichmentStatus: model.EnrichmentPending,
	}
}

func TestGenerateWalksChainInOrder(t *testing.T) {
	broken := &fakeProvider{id: "a", fn: func(m, _ string) (string, error) {
		return "", fmt.Errorf("model %s unavailable", m)
	}}
	good := &fakeProvider{id: "b", fn: func(m, _ string) (string, error) {
		return "translated", nil
	}}
	untouched := &fakeProvider{id: "c", fn: func(m, _ string) (string, error) {
		return "never", nil
	}}

	e := testEnricher(storage.NewMemory(), []Chain{
		{Provider: broken, Models: []string{"a-1", "a-2"}},
		{Provider: good, Models: []string{"b-1"}},
		{Provider: untouched, Models: []string{"c-1"}},
	})

	out, err := e.generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "translated", out)
	assert.Equal(t, []string{"a-1", "a-2"}, broken.calls, "alle Modelle von a in Reihenfolge probiert")
	assert.Equal(t, 1, good.callCount())
	assert.Equal(t, 0, untouched.callCount(), "nach dem ersten Erfolg ist die Kette zu Ende")
}

func TestGenerateRejectsInvalidOutput(t *testing.T) {
	p := &fakeProvider{id: "a", fn: func(m, _ string) (string, error) {
		switch m {
		case "empty":
			return "   ", nil
		case "huge":
			return strings.Repeat("x", 5000), nil
		default:
			return "ok", nil
		}
	}}

	e := testEnricher(storage.NewMemory(), []Chain{
		{Provider: p, Models: []string{"empty", "huge", "fine"}},
	})

	out, err := e.generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, []string{"empty", "huge", "fine"}, p.calls)
}

func TestGenerateExhaustedChain(t *testing.T) {
	p := &fakeProvider{id: "a", fn: func(m, _ string) (string, error) {
		return "", errors.New("boom")
	}}
	e := testEnricher(storage.NewMemory(), []Chain{{Provider: p, Models: []string{"a-1"}}})

	_, err := e.generate(context.Background(), "prompt")
	assert.Error(t, err)
}

func TestRateLimitedProviderSkippedForRound(t *testing.T) {
	limited := &fakeProvider{id: "a", fn: func(m, _ string) (string, error) {
		return "", fmt.Errorf("a chat: %w", ErrRateLimited)
	}}
	good := &fakeProvider{id: "b", fn: func(m, _ string) (string, error) {
		return "ok", nil
	}}

	e := testEnricher(storage.NewMemory(), []Chain{
		{Provider: limited, Models: []string{"a-1", "a-2"}},
		{Provider: good, Models: []string{"b-1"}},
	})

	ctx := context.Background()
	_, err := e.generate(ctx, "first")
	require.NoError(t, err)
	_, err = e.generate(ctx, "second")
	require.NoError(t, err)

	// 429 预算为 2：第一轮吃满预算后，后续调用不再碰这个 provider
	assert.Equal(t, rateLimitBudget, limited.callCount())
	assert.Equal(t, 2, good.callCount())
}

func TestEnrichOneWritesBackAndCompletes(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	ev := pendingEvent("fp-1")
	_, err := store.Upsert(ctx, ev, false)
	require.NoError(t, err)

	p := &fakeProvider{id: "a", fn: func(m, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "event name"):
			return "Wine Festival", nil
		case strings.Contains(prompt, "event description"):
			return "Wine and music", nil
		default:
			return "A lovely festival on the market square.", nil
		}
	}}
	e := testEnricher(store, []Chain{{Provider: p, Models: []string{"a-1"}}})

	require.True(t, e.EnrichOne(ctx, ev, nil))

	got, err := store.Query(ctx, storage.Filter{Week: "all"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Wine Festival", got[0].NameLocalized)
	assert.Equal(t, "Wine and music", got[0].DescriptionLocalized)
	assert.Equal(t, "A lovely festival on the market square.", got[0].DescriptionDetail)
	assert.Equal(t, model.EnrichmentComplete, got[0].EnrichmentStatus)

	// 补全完成后不再出现在 Pending 里
	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEnrichOneOnlyFillsMissingFields(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	ev := pendingEvent("fp-1")
	ev.NameLocalized = "Already there"
	_, err := store.Upsert(ctx, ev, false)
	require.NoError(t, err)

	p := &fakeProvider{id: "a", fn: func(m, _ string) (string, error) {
		return "generated", nil
	}}
	e := testEnricher(store, []Chain{{Provider: p, Models: []string{"a-1"}}})

	require.True(t, e.EnrichOne(ctx, ev, nil))
	assert.Equal(t, 2, p.callCount(), "nur description und detail werden generiert")

	got, err := store.Query(ctx, storage.Filter{Week: "all"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Already there", got[0].NameLocalized)
}

func TestEnrichOneMarksFailedWhenChainExhausted(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	ev := pendingEvent("fp-1")
	_, err := store.Upsert(ctx, ev, false)
	require.NoError(t, err)

	p := &fakeProvider{id: "a", fn: func(m, _ string) (string, error) {
		return "", errors.New("boom")
	}}
	e := testEnricher(store, []Chain{{Provider: p, Models: []string{"a-1"}}})

	assert.False(t, e.EnrichOne(ctx, ev, nil))

	got, err := store.Query(ctx, storage.Filter{Week: "all"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.EnrichmentFailed, got[0].EnrichmentStatus)
}

func TestRunEnrichesPendingBatch(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	for i := 0; i < 3; i++ {
		ev := pendingEvent(fmt.Sprintf("fp-%d", i))
		_, err := store.Upsert(ctx, ev, false)
		require.NoError(t, err)
	}

	p := &fakeProvider{id: "a", fn: func(m, _ string) (string, error) {
		return "generated", nil
	}}
	e := testEnricher(store, []Chain{{Provider: p, Models: []string{"a-1"}}})

	report := model.NewRunReport()
	done, failed := e.Run(ctx, report)
	assert.Equal(t, 3, done)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 3, report.Field("name_localized").Succeeded)
	assert.Equal(t, 3, report.Field("description_detail").Succeeded)
	assert.Equal(t, 0, report.Field("name_localized").Failed)

	// 再跑一轮：没有待处理的，什么都不做
	done, failed = e.Run(ctx, nil)
	assert.Equal(t, 0, done)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 9, p.callCount())
}

func TestChatClientRateLimitStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := &chatClient{id: "openai", baseURL: srv.URL, apiKey: "k"}
	_, err := c.Generate(context.Background(), "gpt-4o-mini", "hi")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestChatClientParsesChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
	}))
	defer srv.Close()

	c := &chatClient{id: "openai", baseURL: srv.URL, apiKey: "k"}
	out, err := c.Generate(context.Background(), "gpt-4o-mini", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}
