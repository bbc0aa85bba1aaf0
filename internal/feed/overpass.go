package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wegman-software/gsa-etl-go/internal/config"
	"github.com/wegman-software/gsa-etl-go/internal/logger"
	"github.com/wegman-software/gsa-etl-go/internal/style"
)

// RetryOptions configures the backoff between Overpass attempts
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// OverpassOptions configures an OverpassSource
type OverpassOptions struct {
	URL               string
	BBox              *config.BBox
	Timeout           int // Overpass [timeout:N] in seconds
	Retry             RetryOptions
	RequestsPerSecond float64 // 0 disables pacing
	Style             *style.Config
	Client            *http.Client
}

// OverpassSource fetches extracts from an Overpass interpreter
type OverpassSource struct {
	opts    OverpassOptions
	client  *http.Client
	limiter *rate.Limiter
}

// NewOverpassSource creates a source from options, filling in defaults
func NewOverpassSource(opts OverpassOptions) *OverpassSource {
	if opts.Style == nil {
		opts.Style = style.DefaultConfig()
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.Retry.Multiplier <= 0 {
		opts.Retry.Multiplier = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 180
	}

	client := opts.Client
	if client == nil {
		// Leave headroom over the server-side query timeout
		client = &http.Client{Timeout: time.Duration(opts.Timeout+30) * time.Second}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &OverpassSource{
		opts:    opts,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// NewOverpassSourceFromConfig creates a source from the run configuration
func NewOverpassSourceFromConfig(cfg *config.Config, st *style.Config) *OverpassSource {
	return NewOverpassSource(OverpassOptions{
		URL:     cfg.OverpassURL,
		BBox:    cfg.BBox,
		Timeout: cfg.QueryTimeout,
		Retry: RetryOptions{
			MaxAttempts:  cfg.FetchAttempts,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     cfg.MaxRetryDelay,
			Multiplier:   2,
		},
		RequestsPerSecond: cfg.RequestsPerSecond,
		Style:             st,
	})
}

// Fetch runs the query for kind and decodes the response
func (s *OverpassSource) Fetch(ctx context.Context, kind Kind) (*Extract, error) {
	log := logger.Get()

	fc, err := filterFor(s.opts.Style, kind)
	if err != nil {
		return nil, &ExtractionError{Kind: kind, Err: err}
	}

	query, err := BuildQuery(fc, s.opts.BBox, s.opts.Timeout)
	if err != nil {
		return nil, &ExtractionError{Kind: kind, Err: err}
	}

	start := time.Now()
	log.Info("Fetching extract", zap.String("kind", string(kind)), zap.String("url", s.opts.URL))

	body, err := s.post(ctx, kind, query)
	if err != nil {
		return nil, err
	}

	var ext Extract
	if err := json.Unmarshal(body, &ext); err != nil {
		return nil, &ExtractionError{Kind: kind, Attempts: 1, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if ext.Remark != "" {
		log.Warn("Overpass remark", zap.String("kind", string(kind)), zap.String("remark", ext.Remark))
	}

	before := len(ext.Elements)
	ext.Elements = filterElements(ext.Elements, style.NewFilter(fc))

	log.Info("Extract fetched",
		zap.String("kind", string(kind)),
		zap.Int("elements", len(ext.Elements)),
		zap.Int("filtered", before-len(ext.Elements)),
		zap.Int("bytes", len(body)),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))

	return &ext, nil
}

// post sends the query with exponential backoff. A fresh request is built for
// every attempt since the form body is consumed by each send.
func (s *OverpassSource) post(ctx context.Context, kind Kind, query string) ([]byte, error) {
	log := logger.Get()
	retry := s.opts.Retry
	form := url.Values{"data": {query}}.Encode()

	var lastErr error
	lastStatus := 0
	delay := retry.InitialDelay

	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			log.Warn("Retrying Overpass request",
				zap.String("kind", string(kind)),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", retry.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, &ExtractionError{Kind: kind, Attempts: attempt - 1, StatusCode: lastStatus, Err: ctx.Err()}
			}

			delay = time.Duration(float64(delay) * retry.Multiplier)
			if retry.MaxDelay > 0 && delay > retry.MaxDelay {
				delay = retry.MaxDelay
			}
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return nil, &ExtractionError{Kind: kind, Attempts: attempt - 1, StatusCode: lastStatus, Err: err}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.URL, strings.NewReader(form))
		if err != nil {
			return nil, &ExtractionError{Kind: kind, Attempts: attempt, Err: fmt.Errorf("failed to build request: %w", err)}
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("User-Agent", "gsa-etl-go")

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &ExtractionError{Kind: kind, Attempts: attempt, StatusCode: lastStatus, Err: ctx.Err()}
			}
			// Transport failures (timeouts, resets) are retried
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		lastStatus = resp.StatusCode

		if resp.StatusCode == http.StatusOK {
			if readErr != nil {
				lastErr = fmt.Errorf("failed to read response body: %w", readErr)
				continue
			}
			return body, nil
		}

		lastErr = fmt.Errorf("overpass returned status %d", resp.StatusCode)
		if !retryableStatus(resp.StatusCode) {
			return nil, &ExtractionError{Kind: kind, Attempts: attempt, StatusCode: lastStatus, Err: lastErr}
		}
	}

	return nil, &ExtractionError{Kind: kind, Attempts: retry.MaxAttempts, StatusCode: lastStatus, Err: lastErr}
}

// retryableStatus reports whether Overpass may succeed on a later attempt
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// BuildQuery renders an Overpass QL query selecting ways (and optionally
// relations) that carry any of the filter's include tags inside bbox
func BuildQuery(fc *style.FilterConfig, bbox *config.BBox, timeout int) (string, error) {
	if fc == nil || len(fc.Include) == 0 {
		return "", fmt.Errorf("filter has no include tags to query")
	}
	if bbox == nil || !bbox.IsSet {
		return "", fmt.Errorf("bbox is required for an Overpass query")
	}

	types := []string{"way"}
	if fc.Relations {
		types = append(types, "relation")
	}
	area := bbox.Overpass()

	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];\n(\n", timeout)
	for _, key := range fc.IncludeKeys() {
		selector := tagSelector(key, fc.Include[key])
		for _, t := range types {
			fmt.Fprintf(&b, "  %s%s(%s);\n", t, selector, area)
		}
	}
	b.WriteString(");\nout geom;\n")
	return b.String(), nil
}

func tagSelector(key string, values []string) string {
	literal := make([]string, 0, len(values))
	for _, v := range values {
		if v == "*" {
			return fmt.Sprintf("[%q]", key)
		}
		literal = append(literal, regexp.QuoteMeta(v))
	}
	if len(literal) == 0 {
		return fmt.Sprintf("[%q]", key)
	}
	return fmt.Sprintf("[%q~\"^(%s)$\"]", key, strings.Join(literal, "|"))
}

func filterFor(st *style.Config, kind Kind) (*style.FilterConfig, error) {
	switch kind {
	case KindGreenAreas:
		return st.GreenAreas, nil
	case KindRouting:
		return st.Routing, nil
	}
	return nil, fmt.Errorf("unknown extract kind %q", kind)
}

// filterElements applies the full style rules, including excludes that the
// query itself cannot express
func filterElements(elements []Element, f *style.Filter) []Element {
	if !f.HasFilter() {
		return elements
	}
	out := elements[:0]
	for _, el := range elements {
		if f.Match(el.Tags) {
			out = append(out, el)
		}
	}
	return out
}
