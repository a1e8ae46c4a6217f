package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"event-fetch/internal/event_fetch/fetcher"
	"event-fetch/internal/event_fetch/registry"
	"event-fetch/internal/event_fetch/storage"
)

const listPage = `<html><body>
<article class="event-item">
  <h3 class="event-title">Weinfest am Markt</h3>
  <time datetime="2026-09-05"></time>
  <span class="event-location">Marktplatz</span>
  <span class="event-price">5 €</span>
  <a class="event-link" href="/events/weinfest"></a>
</article>
<article class="event-item">
  <h3 class="event-title">Jazzabend</h3>
  <time datetime="02.09.2026"></time>
  <span class="event-location">Stadthalle</span>
  <span class="event-price">kostenlos</span>
  <a class="event-link" href="/events/jazz"></a>
</article>
<article class="event-item">
  <h3 class="event-title">Flohmarkt</h3>
  <time datetime="demnächst"></time>
  <span class="event-location">Altstadt</span>
</article>
</body></html>`

func testSource(id, listURL string) registry.Source {
	return registry.Source{
		ID:           id,
		Name:         id,
		BaseURL:      listURL,
		ListURL:      listURL,
		ItemSelector: "article.event-item",
		Rules: registry.RuleSet{
			Name:     registry.SelectorRule{Selector: "h3.event-title"},
			Date:     registry.AttrRule{Selector: "time", Attr: "datetime"},
			Location: registry.SelectorRule{Selector: "span.event-location"},
			Price:    registry.SelectorRule{Selector: "span.event-price"},
			URL:      registry.AttrRule{Selector: "a.event-link", Attr: "href"},
		},
	}
}

func testWorker(store storage.Store, sources ...registry.Source) *Worker {
	log := zap.NewNop()
	engine := fetcher.NewEngine(log, &http.Client{Timeout: 5 * time.Second}, 2)
	engine.Backoff = 10 * time.Millisecond
	return &Worker{
		Log:     log,
		Engine:  engine,
		Store:   store,
		Sources: sources,
		Now:     func() time.Time { return time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC) },
	}
}

func TestRunOnceStoresParsableEventsAndRejectsRest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(listPage))
	}))
	defer srv.Close()

	store := storage.NewMemory()
	w := testWorker(store, testSource("stadtleben", srv.URL))

	report := w.RunOnce(context.Background())

	s := report.Source("stadtleben")
	assert.Equal(t, 3, s.Fetched)
	assert.Equal(t, 2, s.Extracted)
	assert.Equal(t, 1, s.Rejected, "das Event ohne parsebares Datum wird verworfen")
	assert.Equal(t, 2, s.Upserted)

	got, err := store.Query(context.Background(), storage.Filter{Week: "all"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	// 按日期升序：Jazzabend (09-02) 在 Weinfest (09-05) 前面
	assert.Equal(t, "Jazzabend", got[0].Name)
	assert.Equal(t, "2026-09-02", got[0].Date)
	assert.Equal(t, "2026-08-31_to_2026-09-06", got[0].WeekIdentifier)
	assert.Equal(t, srv.URL+"/events/jazz", got[0].URL)
}

func TestRunOnceDeduplicatesAcrossSources(t *testing.T) {
	page := `<html><body><article class="event-item">
<h3 class="event-title">Weinfest am Markt</h3>
<time datetime="2026-09-05"></time>
<span class="event-location">Marktplatz</span>
</article></body></html>`

	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer a.Close()
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer b.Close()

	store := storage.NewMemory()
	w := testWorker(store, testSource("quelle-a", a.URL), testSource("quelle-b", b.URL))

	w.RunOnce(context.Background())

	got, err := store.Query(context.Background(), storage.Filter{Week: "all"})
	require.NoError(t, err)
	assert.Len(t, got, 1, "gleicher Name+Datum+Ort aus zwei Quellen ergibt eine Zeile")
}

func TestRunOnceIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(listPage))
	}))
	defer srv.Close()

	store := storage.NewMemory()
	w := testWorker(store, testSource("stadtleben", srv.URL))

	first := w.RunOnce(context.Background())
	assert.Equal(t, 2, first.Source("stadtleben").Upserted)

	second := w.RunOnce(context.Background())
	assert.Equal(t, 0, second.Source("stadtleben").Upserted, "unveränderte Wiederholung schreibt nichts")
	assert.Equal(t, 2, store.Len())
}

func TestRunOnceSourceFailureIsIsolated(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(listPage))
	}))
	defer good.Close()
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer dead.Close()

	store := storage.NewMemory()
	w := testWorker(store, testSource("tot", dead.URL), testSource("stadtleben", good.URL))

	report := w.RunOnce(context.Background())

	assert.NotEmpty(t, report.Source("tot").Err)
	assert.Equal(t, 2, report.Source("stadtleben").Upserted)
	assert.Equal(t, 2, store.Len())
}

func TestNextAnchor(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	cases := []struct {
		now  string
		want string
	}{
		{"2026-08-30T07:10:00", "2026-08-30T09:00:00"},
		{"2026-08-30T09:00:00", "2026-08-30T09:00:00"},
		{"2026-08-30T23:30:00", "2026-08-31T00:00:00"},
	}
	for _, c := range cases {
		now, err := time.ParseInLocation("2006-01-02T15:04:05", c.now, berlin)
		require.NoError(t, err)
		want, err := time.ParseInLocation("2006-01-02T15:04:05", c.want, berlin)
		require.NoError(t, err)
		got := nextAnchor(now, berlin)
		assert.True(t, got.Equal(want), "now=%s got=%s want=%s", c.now, got, want)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(listPage))
	}))
	defer srv.Close()

	w := testWorker(storage.NewMemory(), testSource("stadtleben", srv.URL))
	w.Now = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestRunOnceForceRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(listPage))
	}))
	defer srv.Close()

	store := storage.NewMemory()
	w := testWorker(store, testSource("stadtleben", srv.URL))
	w.RunOnce(context.Background())

	got, err := store.Query(context.Background(), storage.Filter{Week: "all"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	fp := got[0].Fingerprint
	require.NoError(t, store.SetEnrichment(context.Background(), fp, storage.EnrichmentUpdate{
		DescriptionDetail: "hand-written detail",
	}))

	// 普通重抓不清补全字段
	w.RunOnce(context.Background())
	got, _ = store.Query(context.Background(), storage.Filter{Week: "all"})
	assert.Equal(t, "hand-written detail", got[0].DescriptionDetail)

	// 强制刷新整条覆盖
	w.Force = true
	w.RunOnce(context.Background())
	got, _ = store.Query(context.Background(), storage.Filter{Week: "all"})
	assert.Empty(t, got[0].DescriptionDetail)
}
