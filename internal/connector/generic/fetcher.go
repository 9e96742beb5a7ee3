package generic

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// staticPage is one plain-HTTP fetch outcome.
type staticPage struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
}

// staticFetcher probes URLs with a plain HTTP client before any browser is
// involved. Each fetch runs on a clone of the base collector so concurrent
// probes never share visit state.
type staticFetcher struct {
	baseCollector *colly.Collector
}

func newStaticFetcher(userAgent string, timeout time.Duration) *staticFetcher {
	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(userAgent),
	)
	base.AllowURLRevisit = false
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(timeout)
	return &staticFetcher{baseCollector: base}
}

// Fetch retrieves a page over plain HTTP.
func (f *staticFetcher) Fetch(ctx context.Context, rawURL string) (staticPage, error) {
	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{page: staticPage{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte{}, r.Body...),
		}})
	})

	collector.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(fetchResult{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return staticPage{}, err
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return staticPage{}, err
		}
		return res.page, res.err
	default:
		return staticPage{}, errors.New("fetch produced no result")
	}
}

type fetchResult struct {
	page staticPage
	err  error
}
