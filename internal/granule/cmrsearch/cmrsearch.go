// Package cmrsearch implements the granule search collaborator against a
// CMR-style granule search endpoint (JSON feed format).
package cmrsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"floe/internal/granule"
	"floe/internal/logging"
)

// DefaultBaseURL is the production granule search endpoint.
const DefaultBaseURL = "https://cmr.earthdata.nasa.gov/search/granules.json"

// dataLinkRel marks access URLs in the granule feed's link list.
const dataLinkRel = "/data#"

// nrtMarker appears in the identifier of preliminary (near-real-time)
// granules of this collection. Final reprocessed granules never carry it.
const nrtMarker = "nrt"

const pageSize = 500

// Client queries a CMR-style search endpoint. It implements granule.Searcher.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a non-default search endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient substitutes the HTTP client (timeouts, transports, tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a search client.
func New(logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  logging.Default(logger).With("component", "cmrsearch"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type feedResponse struct {
	Feed struct {
		Entry []feedEntry `json:"entry"`
	} `json:"feed"`
}

type feedEntry struct {
	ID                string     `json:"id"`
	ProducerGranuleID string     `json:"producer_granule_id"`
	Title             string     `json:"title"`
	TimeStart         string     `json:"time_start"`
	TimeEnd           string     `json:"time_end"`
	Links             []feedLink `json:"links"`
}

type feedLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// Search returns all granules of the collection whose coverage intersects
// (start, end], sorted by start date, paging through the feed as needed.
func (c *Client) Search(ctx context.Context, collection string, start, end time.Time) ([]granule.Record, error) {
	var records []granule.Record
	for page := 1; ; page++ {
		entries, err := c.fetchPage(ctx, collection, start, end, page)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			rec, err := recordFromEntry(e)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", granule.ErrSearch, err)
			}
			records = append(records, rec)
		}
		if len(entries) < pageSize {
			break
		}
	}
	c.logger.Debug("search complete", "collection", collection, "granules", len(records))
	return records, nil
}

func (c *Client) fetchPage(ctx context.Context, collection string, start, end time.Time, page int) ([]feedEntry, error) {
	q := url.Values{}
	q.Set("short_name", collection)
	q.Set("temporal", fmt.Sprintf("%s,%s", start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)))
	q.Set("sort_key", "start_date")
	q.Set("page_size", fmt.Sprint(pageSize))
	q.Set("page_num", fmt.Sprint(page))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", granule.ErrSearch, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", granule.ErrSearch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: endpoint returned %d: %s", granule.ErrSearch, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", granule.ErrSearch, err)
	}
	return parsed.Feed.Entry, nil
}

func recordFromEntry(e feedEntry) (granule.Record, error) {
	begin, err := time.Parse(time.RFC3339, e.TimeStart)
	if err != nil {
		return granule.Record{}, fmt.Errorf("granule %s: bad time_start %q", e.ID, e.TimeStart)
	}
	endT, err := time.Parse(time.RFC3339, e.TimeEnd)
	if err != nil {
		return granule.Record{}, fmt.Errorf("granule %s: bad time_end %q", e.ID, e.TimeEnd)
	}

	rec := granule.Record{
		ID:        e.ID,
		BeginTime: begin,
		EndTime:   endT,
		Final:     !strings.Contains(strings.ToLower(e.ProducerGranuleID), nrtMarker),
	}
	for _, l := range e.Links {
		if !strings.HasSuffix(l.Rel, dataLinkRel) {
			continue
		}
		switch {
		case strings.HasPrefix(l.Href, "s3://") && rec.DirectURL == "":
			rec.DirectURL = l.Href
		case strings.HasPrefix(l.Href, "https://") && rec.ExternalURL == "":
			rec.ExternalURL = l.Href
		}
	}
	if rec.DirectURL == "" && rec.ExternalURL == "" {
		return granule.Record{}, fmt.Errorf("granule %s: no data access link", e.ID)
	}
	return rec, nil
}
