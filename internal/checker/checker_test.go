package checker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restock/internal/fetch"
	"restock/internal/notifier"
	"restock/internal/product"
	"restock/internal/storage"
	"restock/internal/stores"
	logx "restock/pkg/logx"
)

const (
	inStockHTML  = `<html><body><button class="buy" id="add">Add to cart</button></body></html>`
	outStockHTML = `<html><body><p class="sold-out">Sold out</p></body></html>`
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls map[string]int
	hook  func(ctx context.Context) error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (fetch.Page, error) {
	f.mu.Lock()
	f.calls[rawURL]++
	body, ok := f.pages[rawURL]
	err := f.errs[rawURL]
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return fetch.Page{}, err
		}
	}
	if err != nil {
		return fetch.Page{}, err
	}
	if !ok {
		return fetch.Page{}, &fetch.StatusError{URL: rawURL, StatusCode: http.StatusNotFound}
	}
	u, _ := url.Parse(rawURL)
	return fetch.Page{URL: rawURL, Domain: strings.ToLower(u.Host), StatusCode: 200, Body: []byte(body)}, nil
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []string
	err   error
	panic bool
	delay time.Duration
}

func (n *fakeNotifier) Send(ctx context.Context, p product.Product) error {
	if n.panic {
		panic("smtp exploded")
	}
	if n.delay > 0 {
		time.Sleep(n.delay)
	}
	if n.err != nil {
		return n.err
	}
	n.mu.Lock()
	n.sent = append(n.sent, p.Key())
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// countingStore records calls and can be told to fail.
type countingStore struct {
	storage.Store
	hasCalls  atomic.Int32
	markCalls atomic.Int32
	hasErr    error
	markErr   error
}

func (s *countingStore) HasNotified(ctx context.Context, rec storage.Record) (bool, error) {
	s.hasCalls.Add(1)
	if s.hasErr != nil {
		return false, s.hasErr
	}
	return s.Store.HasNotified(ctx, rec)
}

func (s *countingStore) MarkSent(ctx context.Context, key string) error {
	s.markCalls.Add(1)
	if s.markErr != nil {
		return s.markErr
	}
	return s.Store.MarkSent(ctx, key)
}

func registry(t *testing.T, domains ...string) *stores.Registry {
	t.Helper()
	r := stores.NewRegistry()
	for _, d := range domains {
		c, err := stores.NewSelectorClassifier(stores.SelectorRule{Domain: d, InStock: "button.buy", OutOfStock: ".sold-out"})
		require.NoError(t, err)
		require.NoError(t, r.Register(c))
	}
	return r
}

func mustProduct(t *testing.T, name, rawURL string) product.Product {
	t.Helper()
	p, err := product.New(name, rawURL)
	require.NoError(t, err)
	return p
}

type logLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Product string `json:"product"`
}

func parseLogs(t *testing.T, buf *bytes.Buffer) []logLine {
	t.Helper()
	var out []logLine
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var l logLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		out = append(out, l)
	}
	return out
}

func levelCount(lines []logLine, level string) int {
	n := 0
	for _, l := range lines {
		if l.Level == level {
			n++
		}
	}
	return n
}

func TestScenarioA_FirstInStockNotifiesOnce(t *testing.T) {
	p := mustProduct(t, "Vitamin D3", "https://shop.test/d3")
	f := newFakeFetcher()
	f.pages[p.URL] = inStockHTML

	email, err := notifier.NewEmail(notifier.Config{From: "bot@example.com", To: []string{"me@example.com"}, DryRun: true}, logx.Nop())
	require.NoError(t, err)
	st := &countingStore{Store: storage.NewMemory()}
	var pendingSeen atomic.Bool
	deliveries := &countingNotifier{next: email, before: func(ctx context.Context, p product.Product) {
		// The record exists, unsent, while the notification goes out.
		rec, ok, err := st.Get(ctx, p.Key())
		pendingSeen.Store(err == nil && ok && !rec.IsSent && rec.ProductName == "Vitamin D3")
	}}

	c := &Checker{Registry: registry(t, "shop.test"), Fetcher: f, Store: st, Notifier: deliveries}

	sum := c.Run(context.Background(), []product.Product{p})
	require.Len(t, sum.Results, 1)
	assert.Equal(t, Notified, sum.Results[0].Outcome)
	assert.NoError(t, sum.Results[0].Err)
	assert.Equal(t, int32(1), deliveries.n.Load())
	assert.True(t, pendingSeen.Load())
	assert.Equal(t, int32(1), st.hasCalls.Load())
	assert.Equal(t, int32(1), st.markCalls.Load())

	rec, ok, err := st.Get(context.Background(), p.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rec.IsSent)
	assert.Equal(t, "Vitamin D3", rec.ProductName)
	assert.NotEmpty(t, sum.RunID)
	assert.False(t, sum.End.Before(sum.Start))
}

type countingNotifier struct {
	next   notifier.Notifier
	before func(ctx context.Context, p product.Product)
	n      atomic.Int32
}

func (c *countingNotifier) Send(ctx context.Context, p product.Product) error {
	c.n.Add(1)
	if c.before != nil {
		c.before(ctx, p)
	}
	return c.next.Send(ctx, p)
}

func TestScenarioB_AlreadySentSkipsNotifier(t *testing.T) {
	p := mustProduct(t, "Vitamin D3", "https://shop.test/d3")
	f := newFakeFetcher()
	f.pages[p.URL] = inStockHTML

	mem := storage.NewMemory()
	_, err := mem.HasNotified(context.Background(), storage.Record{Key: p.Key()})
	require.NoError(t, err)
	require.NoError(t, mem.MarkSent(context.Background(), p.Key()))

	n := &fakeNotifier{}
	c := &Checker{Registry: registry(t, "shop.test"), Fetcher: f, Store: mem, Notifier: n}

	sum := c.Run(context.Background(), []product.Product{p})
	assert.Equal(t, AlreadyNotified, sum.Results[0].Outcome)
	assert.Zero(t, n.count())
}

func TestScenarioC_UnsupportedStore(t *testing.T) {
	p := mustProduct(t, "Widget", "https://unknown.example/widget")
	f := newFakeFetcher()
	st := &countingStore{Store: storage.NewMemory()}
	n := &fakeNotifier{}

	var buf bytes.Buffer
	c := &Checker{Registry: registry(t, "shop.test"), Fetcher: f, Store: st, Notifier: n, Log: logx.NewWriter(&buf, "debug")}

	sum := c.Run(context.Background(), []product.Product{p})
	assert.Equal(t, Unsupported, sum.Results[0].Outcome)
	assert.ErrorIs(t, sum.Results[0].Err, stores.ErrUnsupportedStore)
	assert.Zero(t, f.total())
	assert.Zero(t, st.hasCalls.Load())
	assert.Zero(t, st.markCalls.Load())
	assert.Zero(t, n.count())

	lines := parseLogs(t, &buf)
	assert.Equal(t, 1, levelCount(lines, "warn"))
	assert.Zero(t, levelCount(lines, "error"))
	var markers []string
	for _, l := range lines {
		if l.Level == "info" {
			markers = append(markers, l.Message)
		}
	}
	assert.Equal(t, []string{"run started", "run finished"}, markers)
}

func TestScenarioD_Non2xxIsolated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/broken":
			http.Error(w, "gone", http.StatusServiceUnavailable)
		case "/ok":
			_, _ = w.Write([]byte(inStockHTML))
		default:
			_, _ = w.Write([]byte(outStockHTML))
		}
	}))
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")

	broken := mustProduct(t, "Broken", srv.URL+"/broken")
	ok := mustProduct(t, "Fine", srv.URL+"/ok")
	sold := mustProduct(t, "Sold", srv.URL+"/sold")

	n := &fakeNotifier{}
	c := &Checker{
		Registry: registry(t, host),
		Fetcher:  fetch.New(fetch.Config{Timeout: 5 * time.Second}),
		Store:    storage.NewMemory(),
		Notifier: n,
	}

	sum := c.Run(context.Background(), []product.Product{broken, ok, sold})
	require.Len(t, sum.Results, 3)
	assert.Equal(t, FetchFailed, sum.Results[0].Outcome)
	assert.ErrorIs(t, sum.Results[0].Err, fetch.ErrFetchFailed)
	var se *fetch.StatusError
	require.ErrorAs(t, sum.Results[0].Err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)

	assert.Equal(t, Notified, sum.Results[1].Outcome)
	assert.Equal(t, NotInStock, sum.Results[2].Outcome)
	assert.Equal(t, []string{ok.Key()}, n.sent)
}

func TestNotInStockNeverNotifies(t *testing.T) {
	p := mustProduct(t, "Sold", "https://shop.test/sold")
	f := newFakeFetcher()
	f.pages[p.URL] = outStockHTML
	st := &countingStore{Store: storage.NewMemory()}
	n := &fakeNotifier{}
	c := &Checker{Registry: registry(t, "shop.test"), Fetcher: f, Store: st, Notifier: n}

	for i := 0; i < 3; i++ {
		sum := c.Run(context.Background(), []product.Product{p})
		assert.Equal(t, NotInStock, sum.Results[0].Outcome)
	}
	assert.Zero(t, n.count())
	assert.Zero(t, st.hasCalls.Load())
}

func TestAtMostOncePerTransition(t *testing.T) {
	p := mustProduct(t, "D3", "https://shop.test/d3")
	f := newFakeFetcher()
	f.pages[p.URL] = inStockHTML
	n := &fakeNotifier{}
	c := &Checker{Registry: registry(t, "shop.test"), Fetcher: f, Store: storage.NewMemory(), Notifier: n}

	assert.Equal(t, Notified, c.Run(context.Background(), []product.Product{p}).Results[0].Outcome)
	for i := 0; i < 3; i++ {
		assert.Equal(t, AlreadyNotified, c.Run(context.Background(), []product.Product{p}).Results[0].Outcome)
	}
	assert.Equal(t, 1, n.count())
	assert.Equal(t, 4, f.calls[p.URL])
}

func TestSendFailureNeverMarks(t *testing.T) {
	p := mustProduct(t, "D3", "https://shop.test/d3")
	f := newFakeFetcher()
	f.pages[p.URL] = inStockHTML
	st := &countingStore{Store: storage.NewMemory()}
	n := &fakeNotifier{err: notifier.ErrSendFailed}
	c := &Checker{Registry: registry(t, "shop.test"), Fetcher: f, Store: st, Notifier: n}

	sum := c.Run(context.Background(), []product.Product{p})
	assert.Equal(t, SendFailed, sum.Results[0].Outcome)
	assert.ErrorIs(t, sum.Results[0].Err, notifier.ErrSendFailed)
	assert.Zero(t, st.markCalls.Load())

	rec, ok, err := st.Get(context.Background(), p.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, rec.IsSent)

	// The next run retries the send.
	n.err = nil
	assert.Equal(t, Notified, c.Run(context.Background(), []product.Product{p}).Results[0].Outcome)
}

func TestStoreFailureSkipsNotify(t *testing.T) {
	p := mustProduct(t, "D3", "https://shop.test/d3")
	f := newFakeFetcher()
	f.pages[p.URL] = inStockHTML
	st := &countingStore{Store: storage.NewMemory(), hasErr: storage.ErrUnavailable}
	n := &fakeNotifier{}
	c := &Checker{Registry: registry(t, "shop.test"), Fetcher: f, Store: st, Notifier: n}

	sum := c.Run(context.Background(), []product.Product{p})
	assert.Equal(t, StoreFailed, sum.Results[0].Outcome)
	assert.Zero(t, n.count())
}

func TestMarkFailureIsReported(t *testing.T) {
	p := mustProduct(t, "D3", "https://shop.test/d3")
	f := newFakeFetcher()
	f.pages[p.URL] = inStockHTML
	st := &countingStore{Store: storage.NewMemory(), markErr: storage.ErrUnavailable}
	n := &fakeNotifier{}
	c := &Checker{Registry: registry(t, "shop.test"), Fetcher: f, Store: st, Notifier: n}

	sum := c.Run(context.Background(), []product.Product{p})
	assert.Equal(t, MarkFailed, sum.Results[0].Outcome)
	assert.Equal(t, 1, n.count())
}

func TestMisconfiguredClassifier(t *testing.T) {
	p := mustProduct(t, "D3", "https://shop.test/d3")
	f := &domainSwapFetcher{domain: "elsewhere.test"}
	r := registry(t, "shop.test")
	n := &fakeNotifier{}
	c := &Checker{Registry: r, Fetcher: f, Store: storage.NewMemory(), Notifier: n}

	sum := c.Run(context.Background(), []product.Product{p})
	assert.Equal(t, Misconfigured, sum.Results[0].Outcome)
	assert.ErrorIs(t, sum.Results[0].Err, stores.ErrUnexpectedDomain)
	assert.Zero(t, n.count())
}

// domainSwapFetcher reports every page as coming from another host.
type domainSwapFetcher struct{ domain string }

func (f *domainSwapFetcher) Fetch(ctx context.Context, rawURL string) (fetch.Page, error) {
	return fetch.Page{URL: rawURL, Domain: f.domain, StatusCode: 200, Body: []byte(inStockHTML)}, nil
}

func TestPanicIsolatedToOneProduct(t *testing.T) {
	a := mustProduct(t, "A", "https://shop.test/a")
	b := mustProduct(t, "B", "https://other.test/b")
	f := newFakeFetcher()
	f.pages[a.URL] = inStockHTML
	f.pages[b.URL] = outStockHTML
	c := &Checker{Registry: registry(t, "shop.test", "other.test"), Fetcher: f, Store: storage.NewMemory(), Notifier: &fakeNotifier{panic: true}}

	sum := c.Run(context.Background(), []product.Product{a, b})
	assert.Equal(t, Panicked, sum.Results[0].Outcome)
	assert.ErrorContains(t, sum.Results[0].Err, "smtp exploded")
	assert.Equal(t, NotInStock, sum.Results[1].Outcome)
}

func TestCancelledRun(t *testing.T) {
	p := mustProduct(t, "D3", "https://shop.test/d3")
	f := newFakeFetcher()
	f.pages[p.URL] = inStockHTML
	f.hook = func(ctx context.Context) error {
		<-ctx.Done()
		return errors.Join(fetch.ErrFetchFailed, ctx.Err())
	}
	n := &fakeNotifier{}
	c := &Checker{Registry: registry(t, "shop.test"), Fetcher: f, Store: storage.NewMemory(), Notifier: n}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	sum := c.Run(ctx, []product.Product{p})
	assert.Equal(t, Cancelled, sum.Results[0].Outcome)
	assert.ErrorIs(t, sum.Results[0].Err, context.DeadlineExceeded)
	assert.Zero(t, n.count())
}

func TestMaxConcurrencyBoundsInFlight(t *testing.T) {
	var products []product.Product
	f := newFakeFetcher()
	for _, path := range []string{"a", "b", "c", "d", "e", "f"} {
		p := mustProduct(t, path, "https://shop.test/"+path)
		f.pages[p.URL] = outStockHTML
		products = append(products, p)
	}
	var inFlight, peak atomic.Int32
	f.hook = func(ctx context.Context) error {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}
	c := &Checker{Registry: registry(t, "shop.test"), Fetcher: f, Store: storage.NewMemory(), Notifier: &fakeNotifier{}, MaxConcurrency: 2}

	sum := c.Run(context.Background(), products)
	assert.Equal(t, len(products), sum.Count(NotInStock))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

// Two runs racing on the same first in-stock observation may both send, but
// the record must end sent and later runs must stay quiet.
func TestOverlappingRuns(t *testing.T) {
	p := mustProduct(t, "D3", "https://shop.test/d3")
	f := newFakeFetcher()
	f.pages[p.URL] = inStockHTML
	st, err := storage.Open(context.Background(), storage.Config{Driver: "sqlite", Path: t.TempDir() + "/dedup.db"}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	n := &fakeNotifier{delay: 20 * time.Millisecond}
	c := &Checker{Registry: registry(t, "shop.test"), Fetcher: f, Store: st, Notifier: n}

	var wg sync.WaitGroup
	sums := make([]Summary, 2)
	for i := range sums {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sums[i] = c.Run(context.Background(), []product.Product{p})
		}()
	}
	wg.Wait()

	assert.NotEqual(t, sums[0].RunID, sums[1].RunID)
	assert.GreaterOrEqual(t, n.count(), 1)
	for _, s := range sums {
		assert.Contains(t, []Outcome{Notified, AlreadyNotified}, s.Results[0].Outcome)
	}
	rec, ok, err := st.Get(context.Background(), p.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rec.IsSent)

	before := n.count()
	assert.Equal(t, AlreadyNotified, c.Run(context.Background(), []product.Product{p}).Results[0].Outcome)
	assert.Equal(t, before, n.count())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "fetch_failed", FetchFailed.String())
	assert.Equal(t, "panicked", Panicked.String())
	assert.Equal(t, "unknown", Outcome(99).String())
	b, err := json.Marshal(map[string]Outcome{"o": MarkFailed})
	require.NoError(t, err)
	assert.JSONEq(t, `{"o":"mark_failed"}`, string(b))
}

func TestRunFinishedCountsInOutcomeOrder(t *testing.T) {
	in := mustProduct(t, "In", "https://shop.test/in")
	out := mustProduct(t, "Out", "https://shop.test/out")
	gone := mustProduct(t, "Gone", "https://shop.test/gone")
	other := mustProduct(t, "Other", "https://unknown.example/x")
	f := newFakeFetcher()
	f.pages[in.URL] = inStockHTML
	f.pages[out.URL] = outStockHTML

	want := []string{"unsupported", "fetch_failed", "not_in_stock", "notified"}
	for i := 0; i < 20; i++ {
		var buf bytes.Buffer
		c := &Checker{Registry: registry(t, "shop.test"), Fetcher: f, Store: storage.NewMemory(), Notifier: &fakeNotifier{}, Log: logx.NewWriter(&buf, "info")}
		c.Run(context.Background(), []product.Product{in, out, gone, other})

		var finished string
		for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
			if strings.Contains(line, `"message":"run finished"`) {
				finished = line
			}
		}
		require.NotEmpty(t, finished)
		last := -1
		for _, k := range want {
			idx := strings.Index(finished, `"`+k+`":1`)
			require.Greater(t, idx, last, "%s out of order in %s", k, finished)
			last = idx
		}
	}
}
