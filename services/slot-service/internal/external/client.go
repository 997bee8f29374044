// Package external reads appointments from the authoritative booking platform.
package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	otelx "github.com/md-rashed-zaman/slotsync/libs/otel"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/apperr"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/model"
)

const dateLayout = "2006-01-02"

type Config struct {
	BaseURL        string
	APIKey         string
	APIKeyHeader   string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "x-api-key"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 250 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	return &Client{cfg: cfg, http: otelx.HTTPClient(cfg.Timeout), logger: logger}
}

func (c *Client) Configured() bool {
	return c != nil && c.cfg.BaseURL != ""
}

// record is one entry of the platform's appointment listing.
type record struct {
	Date     string  `json:"date"`
	Duration minutes `json:"duration"`
	Status   string  `json:"status,omitempty"`
}

// minutes accepts both 30 and "30".
type minutes int

func (m *minutes) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("duration %s: %w", b, err)
	}
	*m = minutes(n)
	return nil
}

// Appointments lists the non-cancelled appointments of ref overlapping the
// calendar dates from and to (inclusive) in loc. The day before from is
// requested too, so appointments running past midnight into the range are
// included. Timestamps without an offset are read in loc. Transient failures
// are retried with exponential backoff; any final failure is an
// *apperr.ExternalServiceError.
func (c *Client) Appointments(ctx context.Context, ref model.ExternalRef, from, to time.Time, loc *time.Location) ([]model.Interval, error) {
	const op = "list appointments"
	if !c.Configured() {
		return nil, &apperr.ExternalServiceError{Op: op, Err: errors.New("booking api base url not configured")}
	}
	if !ref.Configured() {
		return nil, &apperr.ExternalServiceError{Op: op, Err: errors.New("studio has no practice/archive reference")}
	}
	if loc == nil {
		loc = time.UTC
	}

	endpoint := fmt.Sprintf("%s/practices/%s/archives/%s/appointments?%s",
		c.cfg.BaseURL,
		url.PathEscape(ref.PracticeID),
		url.PathEscape(ref.ArchiveID),
		url.Values{
			"dateStart": {from.AddDate(0, 0, -1).Format(dateLayout)},
			"dateEnd":   {to.Format(dateLayout)},
		}.Encode(),
	)

	attempts := 0
	lastStatus := 0
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff

	records, err := backoff.Retry(ctx, func() ([]record, error) {
		attempts++
		recs, status, err := c.fetch(ctx, endpoint)
		lastStatus = status
		return recs, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("booking api retry", "practice_id", ref.PracticeID, "err", err, "wait", wait)
		}),
	)
	if err != nil {
		return nil, &apperr.ExternalServiceError{Op: op, StatusCode: lastStatus, Attempts: attempts, Err: err}
	}
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	window := model.Interval{
		Start: time.Date(fy, fm, fd, 0, 0, 0, 0, loc),
		End:   time.Date(ty, tm, td+1, 0, 0, 0, 0, loc),
	}
	return c.intervals(records, window, loc), nil
}

func (c *Client) fetch(ctx context.Context, endpoint string) ([]record, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set(c.cfg.APIKeyHeader, c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		err := fmt.Errorf("booking api returned %d", resp.StatusCode)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs > 0 {
				return nil, resp.StatusCode, backoff.RetryAfter(secs)
			}
			return nil, resp.StatusCode, err
		case resp.StatusCode >= 500:
			return nil, resp.StatusCode, err
		default:
			return nil, resp.StatusCode, backoff.Permanent(err)
		}
	}

	var records []record
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&records); err != nil {
		return nil, resp.StatusCode, backoff.Permanent(fmt.Errorf("decode appointments: %w", err))
	}
	return records, resp.StatusCode, nil
}

func (c *Client) intervals(records []record, window model.Interval, loc *time.Location) []model.Interval {
	out := make([]model.Interval, 0, len(records))
	for _, r := range records {
		if isCancelled(r.Status) {
			continue
		}
		start, err := parseDate(r.Date, loc)
		if err != nil || r.Duration <= 0 {
			c.logger.Warn("booking api record skipped", "date", r.Date, "duration", int(r.Duration), "err", err)
			continue
		}
		iv := model.Interval{Start: start, End: start.Add(time.Duration(r.Duration) * time.Minute)}
		if !iv.Overlaps(window) {
			continue
		}
		out = append(out, iv)
	}
	return out
}

func isCancelled(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "cancelled", "canceled":
		return true
	}
	return false
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

func parseDate(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}
