// Package fetcher provides the reference HTTP handler: it fetches pages with
// colly, rate limits per domain, and feeds discovered links back into the
// run.
package fetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlpool/internal/crawl"
)

// Config controls fetch behavior.
type Config struct {
	UserAgent      string
	AllowedDomains []string
	// MaxDepth bounds link discovery; pages at MaxDepth are fetched but not
	// expanded.
	MaxDepth    int
	FollowLinks bool
	// PerDomainRPS and Burst shape the per-domain politeness limit.
	PerDomainRPS float64
	Burst        int
	Timeout      time.Duration
}

// Handler fetches one page per work item.
type Handler struct {
	cfg     Config
	logger  *zap.Logger
	limiter *Limiter
	base    *colly.Collector
	allowed map[string]struct{}
}

// New builds a Handler.
func New(cfg Config, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = false
	c.WithTransport(newHTTPTransport())

	allowed := make(map[string]struct{}, len(cfg.AllowedDomains))
	for _, d := range cfg.AllowedDomains {
		allowed[strings.ToLower(d)] = struct{}{}
	}
	return &Handler{
		cfg:     cfg,
		logger:  logger,
		limiter: NewLimiter(cfg.PerDomainRPS, cfg.Burst),
		base:    c,
		allowed: allowed,
	}
}

// Handle implements crawl.Handler: fetch the page, then enqueue in-scope
// links one level deeper. Client errors other than timeouts and 429 are not
// worth retrying and fail the item outright.
func (h *Handler) Handle(ctx context.Context, item *crawl.WorkItem, enq crawl.Enqueuer) error {
	target, err := url.Parse(item.Payload.URL)
	if err != nil {
		return crawl.NoRetry(fmt.Errorf("parse url %q: %w", item.Payload.URL, err))
	}
	if !h.domainAllowed(target.Hostname()) {
		return crawl.NoRetry(fmt.Errorf("domain %q not allowed", target.Hostname()))
	}
	if err := h.limiter.Wait(ctx, target.Hostname()); err != nil {
		return err
	}

	var (
		status int
		links  []string
	)
	collector := h.base.Clone()
	if h.cfg.UserAgent != "" {
		collector.UserAgent = h.cfg.UserAgent
	}
	collector.SetRequestTimeout(h.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range item.Payload.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if link := e.Request.AbsoluteURL(e.Attr("href")); link != "" {
			links = append(links, link)
		}
	})
	var respErr error
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		respErr = err
	})

	if err := h.visit(ctx, collector, item.Payload.URL); err != nil {
		return classify(status, err)
	}
	if respErr != nil {
		return classify(status, respErr)
	}

	h.logger.Debug("page fetched",
		zap.String("url", item.Payload.URL),
		zap.Int("status", status),
		zap.Int("links", len(links)),
	)
	h.discover(item, links, enq)
	return nil
}

func (h *Handler) visit(ctx context.Context, collector *colly.Collector, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// discover enqueues in-scope links one level deeper than the current item.
func (h *Handler) discover(item *crawl.WorkItem, links []string, enq crawl.Enqueuer) {
	if !h.cfg.FollowLinks || enq == nil || item.Payload.Depth >= h.cfg.MaxDepth {
		return
	}
	for _, link := range links {
		parsed, err := url.Parse(link)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			continue
		}
		if !h.domainAllowed(parsed.Hostname()) {
			continue
		}
		added, err := enq.Enqueue(&crawl.WorkItem{
			Payload: crawl.Payload{
				URL:    link,
				Depth:  item.Payload.Depth + 1,
				Labels: item.Payload.Labels,
			},
		})
		if err != nil {
			h.logger.Warn("enqueue discovered link failed",
				zap.String("link", link), zap.Error(err))
			continue
		}
		if added {
			h.logger.Debug("link discovered",
				zap.String("from", item.Payload.URL),
				zap.String("link", link),
				zap.Int("depth", item.Payload.Depth+1),
			)
		}
	}
}

func (h *Handler) domainAllowed(host string) bool {
	if len(h.allowed) == 0 {
		return true
	}
	_, ok := h.allowed[strings.ToLower(host)]
	return ok
}

// classify splits fetch failures into retryable and terminal. Timeouts, 429,
// and server errors are transient; other client errors will not get better.
func classify(status int, err error) error {
	wrapped := fmt.Errorf("fetch failed (status %d): %w", status, err)
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return wrapped
	case status >= 400 && status < 500:
		return crawl.NoRetry(wrapped)
	default:
		return wrapped
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
