package predict

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bastiangx/predictserve/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	o := DefaultOptions()
	o.Debounce = 0
	o.RequestTimeout = time.Second
	return o
}

func newTestController(t *testing.T, p provider.Provider, opts Options, m Metrics) *Controller {
	t.Helper()
	c, err := NewController(p, opts, m)
	require.NoError(t, err)
	t.Cleanup(c.Reset)
	return c
}

func at(doc, withCursor string) Request {
	text, offset := splitCursor(withCursor)
	return Request{DocID: doc, Text: text, Offset: offset, LanguageID: "go"}
}

func (c *Controller) records(doc string) []*Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.store.Lookup(doc)
	if !ok {
		return nil
	}
	return d.Cache.Records()
}

func TestNewControllerValidates(t *testing.T) {
	_, err := NewController(nil, DefaultOptions(), nil)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	opts := DefaultOptions()
	opts.MaxCacheSize = 0
	_, err = NewController(newFakeProvider(answer("")), opts, nil)
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	opts = DefaultOptions()
	opts.MaxPending = 0
	_, err = NewController(newFakeProvider(answer("")), opts, nil)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestCompleteThenServeFromCache(t *testing.T) {
	p := newFakeProvider(answer("a, b))"))
	m := newRecordingMetrics()
	c := newTestController(t, p, testOptions(), m)
	ctx := context.Background()

	got := c.Complete(ctx, at("a.go", "foo(|"))
	require.Len(t, got, 1)
	assert.Equal(t, "a, b)", got[0].Text)
	assert.Equal(t, 4, got[0].Start)
	assert.Equal(t, 4, got[0].End)
	assert.Equal(t, SingleLineRedoSuffix, got[0].Type)
	assert.False(t, got[0].CacheHit)

	calls := p.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "foo(", calls[0].Prefix)
	assert.Equal(t, "", calls[0].Suffix)
	assert.Equal(t, StopAnyLineBreak, calls[0].Stop)

	res, ok := m.next(time.Second)
	require.True(t, ok)
	assert.Equal(t, "a.go", res.DocID)
	assert.False(t, res.CacheHit)

	got = c.Complete(ctx, at("a.go", "foo(a, |"))
	require.Len(t, got, 1)
	assert.Equal(t, "b)", got[0].Text)
	assert.Equal(t, 7, got[0].Start)
	assert.True(t, got[0].CacheHit)
	assert.Len(t, p.Calls(), 1)

	res, ok = m.next(time.Second)
	require.True(t, ok)
	assert.True(t, res.CacheHit)

	stats := c.Stats()
	assert.Equal(t, 2, stats["requests"])
	assert.Equal(t, 1, stats["hits"])
	assert.Equal(t, 1, stats["misses"])
	assert.Equal(t, 1, stats["records"])
	assert.Equal(t, 1, stats["documents"])
}

func TestCacheIsPerDocument(t *testing.T) {
	p := newFakeProvider(answer("x"))
	c := newTestController(t, p, testOptions(), nil)
	ctx := context.Background()

	require.Len(t, c.Complete(ctx, at("a.go", "v := |")), 1)
	got := c.Complete(ctx, at("b.go", "v := |"))
	require.Len(t, got, 1)
	assert.False(t, got[0].CacheHit)
	assert.Len(t, p.Calls(), 2)
}

func TestPendingHitWaits(t *testing.T) {
	p := newFakeProvider(func(provider.Request) reply {
		return reply{text: "Println()", delay: 50 * time.Millisecond}
	})
	c := newTestController(t, p, testOptions(), nil)
	ctx := context.Background()

	var first []Suggestion
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = c.Complete(ctx, at("a.go", "fmt.|"))
	}()
	time.Sleep(10 * time.Millisecond)

	second := c.Complete(ctx, at("a.go", "fmt.|"))
	wg.Wait()

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, "Println()", second[0].Text)
	assert.True(t, second[0].CacheHit)
	assert.Len(t, p.Calls(), 1)
}

func TestDebounceKeepsLatest(t *testing.T) {
	p := newFakeProvider(answer("def"))
	opts := testOptions()
	opts.Debounce = 50 * time.Millisecond
	c := newTestController(t, p, opts, nil)
	ctx := context.Background()

	inputs := []string{"a|", "ab|", "abc|"}
	results := make([][]Suggestion, len(inputs))
	var wg sync.WaitGroup
	for i, in := range inputs {
		wg.Add(1)
		go func(i int, in string) {
			defer wg.Done()
			results[i] = c.Complete(ctx, at("a.go", in))
		}(i, in)
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	assert.Empty(t, results[0])
	assert.Empty(t, results[1])
	require.Len(t, results[2], 1)
	calls := p.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "abc", calls[0].Prefix)
	assert.Equal(t, 2, c.Stats()["superseded"])
}

func TestPendingCapCancelsOldest(t *testing.T) {
	p := newFakeProvider(func(provider.Request) reply { return reply{delay: -1} })
	opts := testOptions()
	opts.MaxPending = 2
	opts.RequestTimeout = time.Hour
	c := newTestController(t, p, opts, nil)

	first := c.begin("a.go", window("a|"), false)
	c.begin("a.go", window("b|"), false)
	c.begin("a.go", window("c|"), false)
	require.NotNil(t, first)

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("evicted record not released")
	}
	assert.Error(t, p.stream(0).Context().Err())
	assert.NoError(t, p.stream(1).Context().Err())
	assert.NoError(t, p.stream(2).Context().Err())

	assert.Equal(t, 2, c.Stats()["pending"])
	assert.Equal(t, 1, c.Stats()["disposed"])
}

func TestTimeout(t *testing.T) {
	p := newFakeProvider(func(provider.Request) reply { return reply{delay: -1} })
	opts := testOptions()
	opts.RequestTimeout = 30 * time.Millisecond
	c := newTestController(t, p, opts, nil)

	got := c.Complete(context.Background(), at("a.go", "x := |"))
	assert.Empty(t, got)

	records := c.records("a.go")
	require.Len(t, records, 1)
	assert.Equal(t, StatusError, records[0].Status())
	assert.ErrorIs(t, records[0].Err(), ErrTimeout)
	assert.Error(t, p.stream(0).Context().Err())
	assert.Equal(t, 1, c.Stats()["timeouts"])
}

func TestProviderErrorIsNotServed(t *testing.T) {
	p := newFakeProvider(func(provider.Request) reply { return reply{err: errBoom} })
	c := newTestController(t, p, testOptions(), nil)
	ctx := context.Background()

	assert.Empty(t, c.Complete(ctx, at("a.go", "x := |")))
	records := c.records("a.go")
	require.Len(t, records, 1)
	assert.ErrorIs(t, records[0].Err(), ErrProviderFailed)
	assert.ErrorIs(t, records[0].Err(), errBoom)

	assert.Empty(t, c.Complete(ctx, at("a.go", "x := |")))
	assert.Len(t, p.Calls(), 2)
	assert.Equal(t, 2, c.Stats()["failures"])
}

func TestProviderStartError(t *testing.T) {
	p := newFakeProvider(func(provider.Request) reply { return reply{startErr: errBoom} })
	c := newTestController(t, p, testOptions(), nil)

	assert.Empty(t, c.Complete(context.Background(), at("a.go", "x := |")))
	assert.Equal(t, 1, c.Stats()["failures"])
	assert.Equal(t, 0, c.Stats()["pending"])
}

func TestStreamingStopsEarly(t *testing.T) {
	t.Run("single line ends at the first line break", func(t *testing.T) {
		p := newFakeProvider(func(provider.Request) reply {
			return reply{partials: []string{"foo\nbar"}, delay: -1}
		})
		c := newTestController(t, p, testOptions(), nil)

		got := c.Complete(context.Background(), at("a.go", "x := |"))
		require.Len(t, got, 1)
		assert.Equal(t, "foo", got[0].Text)
		assert.Error(t, p.stream(0).Context().Err())
	})

	t.Run("multi line capped at max line breaks", func(t *testing.T) {
		p := newFakeProvider(answer("\ta()\n\tb()\n\tc()\n}"))
		opts := testOptions()
		opts.MaxLineBreaks = 2
		c := newTestController(t, p, opts, nil)

		c.Accept("a.go", 0, "if ok {", 7)
		got := c.Complete(context.Background(), at("a.go", "if ok {|"))
		require.Len(t, got, 1)
		assert.Equal(t, MultiLineStartOnNextLine, got[0].Type)
		assert.Equal(t, "\n\ta()\n\tb()\n\tc()", got[0].Text)

		calls := p.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "if ok {\n", calls[0].Prefix)
		assert.Equal(t, StopDoubleLineBreak, calls[0].Stop)
	})

	t.Run("multi line ends at a blank line", func(t *testing.T) {
		p := newFakeProvider(answer("\ta()\n\n\tb()"))
		c := newTestController(t, p, testOptions(), nil)

		c.Accept("a.go", 0, "if ok {", 7)
		got := c.Complete(context.Background(), at("a.go", "if ok {|"))
		require.Len(t, got, 1)
		assert.Equal(t, "\n\ta()", got[0].Text)
	})
}

func TestStreamLineBreakCounter(t *testing.T) {
	t.Run("counts breaks while pending", func(t *testing.T) {
		p := newFakeProvider(func(provider.Request) reply {
			return reply{partials: []string{"\ta()\n\tb()"}, delay: -1}
		})
		opts := testOptions()
		opts.MaxLineBreaks = 5
		c := newTestController(t, p, opts, nil)

		c.Accept("a.go", 0, "if ok {", 7)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		assert.Empty(t, c.Complete(ctx, at("a.go", "if ok {|")))

		records := c.records("a.go")
		require.Len(t, records, 1)
		rec := records[0]
		require.Eventually(t, func() bool { return rec.GeneratedText() != "" }, time.Second, 5*time.Millisecond)
		assert.Equal(t, StatusPending, rec.Status())
		assert.Equal(t, "\n\ta()\n\tb()", rec.GeneratedText())
		assert.Equal(t, 2, rec.LineBreakCount())
		assert.NoError(t, p.stream(0).Context().Err())
	})

	t.Run("crossing the cap finishes early", func(t *testing.T) {
		p := newFakeProvider(func(provider.Request) reply {
			return reply{partials: []string{"a\nb\nc"}, delay: -1}
		})
		opts := testOptions()
		opts.MaxLineBreaks = 1
		c := newTestController(t, p, opts, nil)

		c.Accept("a.go", 0, "if ok {", 7)
		got := c.Complete(context.Background(), at("a.go", "if ok {|"))
		require.Len(t, got, 1)
		assert.Equal(t, "\na\nb", got[0].Text)
		assert.Error(t, p.stream(0).Context().Err())
	})
}

func TestAcceptDropsRedundantRecords(t *testing.T) {
	p := newFakeProvider(answer("\tnext()"))
	c := newTestController(t, p, testOptions(), nil)

	c.mu.Lock()
	cache := c.store.Get("a.go").Cache
	cache.Set(finishedRecord(50, "x = |", "1"))
	cache.Set(finishedRecord(51, "y|", "z"))
	cache.Set(finishedRecord(52, "x =|", " 1"))
	c.mu.Unlock()

	c.Accept("a.go", 50, "x = 1", 5)
	assert.Equal(t, []uint64{51}, ids(c.records("a.go")))

	got := c.Complete(context.Background(), at("a.go", "x = 1|"))
	require.Len(t, got, 1)
	assert.Equal(t, MultiLineStartOnNextLine, got[0].Type)
	assert.Equal(t, "\n\tnext()", got[0].Text)
}

func TestAcceptWindowOutlastsDebounce(t *testing.T) {
	p := newFakeProvider(answer("\tnext()"))
	c := newTestController(t, p, DefaultOptions(), nil)

	c.Accept("a.go", 0, "x = 1", 5)
	got := c.Complete(context.Background(), at("a.go", "x = 1|"))
	require.Len(t, got, 1)
	assert.Equal(t, MultiLineStartOnNextLine, got[0].Type)
	assert.Equal(t, "\n\tnext()", got[0].Text)

	calls := p.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, StopDoubleLineBreak, calls[0].Stop)
}

func TestAcceptWindowExpires(t *testing.T) {
	p := newFakeProvider(answer("1"))
	opts := testOptions()
	opts.JustAcceptedWindow = 10 * time.Millisecond
	c := newTestController(t, p, opts, nil)

	c.Accept("a.go", 0, "x = ", 4)
	time.Sleep(30 * time.Millisecond)
	got := c.Complete(context.Background(), at("a.go", "x = |"))
	require.Len(t, got, 1)
	assert.Equal(t, SingleLineRedoSuffix, got[0].Type)
}

func TestCloseDocumentCancelsPending(t *testing.T) {
	p := newFakeProvider(func(provider.Request) reply { return reply{delay: -1} })
	opts := testOptions()
	opts.RequestTimeout = time.Hour
	c := newTestController(t, p, opts, nil)

	rec := c.begin("a.go", window("x|"), false)
	require.NotNil(t, rec)
	c.CloseDocument("a.go")

	select {
	case <-rec.Done():
	case <-time.After(time.Second):
		t.Fatal("record not released")
	}
	assert.Error(t, p.stream(0).Context().Err())
	assert.Equal(t, 0, c.Stats()["documents"])
}

func TestCompleteGating(t *testing.T) {
	p := newFakeProvider(answer("x"))
	opts := testOptions()
	opts.Languages = []string{"Go"}
	opts.MaxLineLength = 10
	c := newTestController(t, p, opts, nil)
	ctx := context.Background()

	req := at("a.py", "x = |")
	req.LanguageID = "python"
	assert.Empty(t, c.Complete(ctx, req))

	assert.Empty(t, c.Complete(ctx, at("a.go", "someVeryLongName := |")))
	assert.Empty(t, c.Complete(ctx, at("a.go", "  |abcd")))
	assert.Empty(t, p.Calls())

	assert.Len(t, c.Complete(ctx, at("a.go", "x = |")), 1)
}

func TestCompleteContextCancelled(t *testing.T) {
	p := newFakeProvider(func(provider.Request) reply {
		return reply{text: "1", delay: 50 * time.Millisecond}
	})
	c := newTestController(t, p, testOptions(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Empty(t, c.Complete(ctx, at("a.go", "x = |")))

	// the provider call keeps running and its result is cached
	records := c.records("a.go")
	require.Len(t, records, 1)
	select {
	case <-records[0].Done():
	case <-time.After(time.Second):
		t.Fatal("record never resolved")
	}
	got := c.Complete(context.Background(), at("a.go", "x = |"))
	require.Len(t, got, 1)
	assert.True(t, got[0].CacheHit)
}

func TestMetricsReportEveryResolution(t *testing.T) {
	testCases := []struct {
		r           reply
		description string
	}{
		{reply{err: errBoom}, "provider error"},
		{reply{text: ""}, "empty generation"},
		{reply{text: "1"}, "suggestion"},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			p := newFakeProvider(func(provider.Request) reply { return tc.r })
			m := newRecordingMetrics()
			c := newTestController(t, p, testOptions(), m)

			c.Complete(context.Background(), at("a.go", "x = |"))
			res, ok := m.next(time.Second)
			require.True(t, ok)
			assert.Equal(t, "a.go", res.DocID)
			assert.False(t, res.CacheHit)
			assert.GreaterOrEqual(t, res.ProviderLatency, time.Duration(0))
			assert.GreaterOrEqual(t, res.TotalLatency, res.ProviderLatency)

			_, ok = m.next(20 * time.Millisecond)
			assert.False(t, ok)
		})
	}
}

func TestDiscardedRecordIsNotReported(t *testing.T) {
	p := newFakeProvider(func(provider.Request) reply { return reply{delay: -1} })
	m := newRecordingMetrics()
	c := newTestController(t, p, testOptions(), m)

	done := make(chan []Suggestion, 1)
	go func() { done <- c.Complete(context.Background(), at("a.go", "x = |")) }()
	require.Eventually(t, func() bool { return len(c.records("a.go")) == 1 }, time.Second, 5*time.Millisecond)

	c.CloseDocument("a.go")
	assert.Empty(t, <-done)
	_, ok := m.next(20 * time.Millisecond)
	assert.False(t, ok)
}

func TestMetricsPanicIsContained(t *testing.T) {
	p := newFakeProvider(answer("1"))
	m := MetricsFunc(func(Resolution) { panic("sink down") })
	c := newTestController(t, p, testOptions(), m)

	got := c.Complete(context.Background(), at("a.go", "x = |"))
	require.Len(t, got, 1)
	time.Sleep(10 * time.Millisecond)
}

func TestUpdateOptions(t *testing.T) {
	c := newTestController(t, newFakeProvider(answer("1")), testOptions(), nil)

	bad := testOptions()
	bad.RequestTimeout = 0
	assert.ErrorIs(t, c.UpdateOptions(bad), ErrInvalidOptions)

	good := testOptions()
	good.MaxCacheSize = 3
	good.Languages = []string{"rust"}
	require.NoError(t, c.UpdateOptions(good))
	assert.Empty(t, c.Complete(context.Background(), at("a.go", "x = |")))

	c.mu.Lock()
	capacity := c.store.Get("b.rs").Cache.Capacity()
	c.mu.Unlock()
	assert.Equal(t, 3, capacity)
}

func TestTruncateStream(t *testing.T) {
	testCases := []struct {
		text        string
		typ         PredictionType
		want        string
		cut         bool
		description string
	}{
		{"abc", SingleLineFillMiddle, "abc", false, "single line untouched"},
		{"abc\r\ndef", SingleLineRedoSuffix, "abc", true, "crlf"},
		{"a\nb", MultiLineStartOnNextLine, "a\nb", false, "under the cap"},
		{"a\nb\nc\nd", MultiLineStartOnNextLine, "a\nb\nc", true, "over the cap"},
		{"a\r\n\r\nb", MultiLineStartOnNextLine, "a", true, "blank crlf line"},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			got, cut := truncateStream(tc.text, tc.typ, 2)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.cut, cut)
		})
	}
}
