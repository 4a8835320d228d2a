package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"divflow/config"
	"divflow/logger"
	"divflow/models"
)

// CurrencyUSD is the only currency the pipeline ingests.
const CurrencyUSD = "USD"

// Client fetches dividend announcements from the paginated feed. It is a
// pure generator over the feed timeline: ordering and stopping decisions
// belong to the caller, which alone knows the desired date ceiling.
type Client struct {
	config  *config.Config
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Log
}

// NewClient creates a feed client. The page interval budget (one request per
// interval, default 12s for a 5-requests-per-60s allowance) is enforced with
// a token bucket so the first page of a session is never delayed.
func NewClient(cfg *config.Config) *Client {
	var transport http.RoundTripper = http.DefaultTransport
	if cfg.Feed.UserAgent != "" {
		transport = userAgentTransport{agent: cfg.Feed.UserAgent, base: http.DefaultTransport}
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.Feed.Timeout,
	}

	client := &Client{
		config:  cfg,
		client:  httpClient,
		limiter: rate.NewLimiter(rate.Every(cfg.Feed.PageInterval), 1),
		log:     logger.GetLogger(),
	}

	client.log.WithComponent("feed_client").WithFields(logger.Fields{
		"page_interval": cfg.Feed.PageInterval.String(),
		"start_skew":    cfg.Feed.StartSkew.String(),
		"max_attempts":  cfg.Feed.Retry.MaxAttempts,
	}).Info("feed client initialized")

	return client
}

// Stream lazily yields USD entries starting from windowStart, following
// pagination until the feed reports no continuation. The channel is closed
// when the feed is exhausted, the context is cancelled, or an unexpected
// error ends the session; errors never propagate past the stream boundary,
// the caller simply observes a short sequence.
func (c *Client) Stream(ctx context.Context, windowStart time.Time) <-chan models.RawEntry {
	out := make(chan models.RawEntry)
	go c.stream(ctx, windowStart, out)
	return out
}

func (c *Client) stream(ctx context.Context, windowStart time.Time, out chan<- models.RawEntry) {
	defer close(out)

	log := c.log.WithComponent("feed_client")
	uri := c.initialURI(windowStart)
	total := 0

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}

		page, err := c.fetchPage(ctx, uri)
		if err != nil {
			log.WithError(err).Warn("feed session ended early")
			return
		}
		logger.IncrementPagesFetched()

		if n := len(page.Results); n > 0 {
			total += n
			log.WithFields(logger.Fields{
				"size":                  total,
				"last_ex_dividend_date": page.Results[n-1].ExDividendDate,
			}).Info("feed page consumed")
		}

		for _, entry := range page.Results {
			if entry.Currency != CurrencyUSD {
				continue
			}
			select {
			case out <- entry:
			case <-ctx.Done():
				return
			}
		}

		if page.NextURL == "" {
			log.WithFields(logger.Fields{"total": total}).Info("feed exhausted")
			return
		}
		// Continuation URLs come back without the key.
		uri = page.NextURL + "&apiKey=" + c.config.Feed.APIKey
	}
}

// initialURI builds the first request from the URI template. The window
// start is shifted forward by the configured skew to account for feed
// publication lag.
func (c *Client) initialURI(windowStart time.Time) string {
	date := models.FormatDate(windowStart.Add(c.config.Feed.StartSkew))
	return strings.NewReplacer(
		"{apikey}", c.config.Feed.APIKey,
		"{date}", date,
	).Replace(c.config.Feed.URI)
}

// fetchPage requests a single page, retrying the same URI on transport
// failures and error statuses with a fixed delay, bounded by the configured
// attempt cap. Decode failures are not retried.
func (c *Client) fetchPage(ctx context.Context, uri string) (*models.FeedPage, error) {
	log := c.log.WithComponent("feed_client")
	maxAttempts := c.config.Feed.Retry.MaxAttempts

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(c.config.Feed.Retry.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		page, retryable, err := c.requestPage(ctx, uri)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		log.WithError(err).WithFields(logger.Fields{
			"attempt":      attempt,
			"max_attempts": maxAttempts,
		}).Warn("feed request failed, will retry same page")
	}

	return nil, fmt.Errorf("feed request failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) requestPage(ctx context.Context, uri string) (page *models.FeedPage, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build feed request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("feed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var decoded models.FeedPage
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, false, fmt.Errorf("decode feed page: %w", err)
	}
	return &decoded, false, nil
}
