package accesslog

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/schoolops/rollcall/pkg/log"
	"github.com/schoolops/rollcall/pkg/metrics"
	"github.com/schoolops/rollcall/pkg/types"
)

// topicDoorOpen restricts searches to physical door-opening events
const topicDoorOpen = "door.open"

// Client is the subset of the resilient API client the gateway needs
type Client interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
}

// Gateway fetches badge-scan events from the access log service,
// transparently paginating the search endpoint.
type Gateway struct {
	client   Client
	pageSize int

	// maxConcurrency bounds concurrent page fetches; 0 means unbounded
	maxConcurrency int

	logger zerolog.Logger
}

// New creates an access log gateway
func New(c Client, pageSize, maxConcurrency int) *Gateway {
	return &Gateway{
		client:         c,
		pageSize:       pageSize,
		maxConcurrency: maxConcurrency,
		logger:         log.WithComponent("accesslog"),
	}
}

// searchResponse mirrors the access log search endpoint
type searchResponse struct {
	Total  int         `json:"total"`
	Events []scanEvent `json:"events"`
}

type scanEvent struct {
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name"`
	Timestamp int64  `json:"timestamp"` // epoch seconds
}

// ScanEvents returns all door-open events in [start, end]. The first page
// is fetched alone to learn the result total; remaining pages are fetched
// concurrently. The first page is a stable prefix of the result; ordering
// among the remaining pages is not guaranteed.
func (g *Gateway) ScanEvents(ctx context.Context, start, end time.Time) ([]types.ScanEvent, error) {
	first, err := g.fetchPage(ctx, start, end, 1)
	if err != nil {
		metrics.RegisterComponent("accesslog", false, err.Error())
		return nil, fmt.Errorf("failed to search scan events: %w", err)
	}
	metrics.RegisterComponent("accesslog", true, "")

	events := convert(first.Events)
	pages := pageCount(first.Total, g.pageSize)
	if pages <= 1 {
		g.logger.Debug().
			Int("total", first.Total).
			Int("pages", pages).
			Msg("scan events fetched")
		return events, nil
	}

	rest := make([][]types.ScanEvent, pages-1)
	errs := make([]error, pages-1)

	var sem chan struct{}
	if g.maxConcurrency > 0 {
		sem = make(chan struct{}, g.maxConcurrency)
	}

	var wg sync.WaitGroup
	for page := 2; page <= pages; page++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			resp, err := g.fetchPage(ctx, start, end, page)
			if err != nil {
				errs[page-2] = err
				return
			}
			rest[page-2] = convert(resp.Events)
		}(page)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to search scan events: %w", err)
		}
	}
	for _, pageEvents := range rest {
		events = append(events, pageEvents...)
	}

	g.logger.Debug().
		Int("total", first.Total).
		Int("pages", pages).
		Int("events", len(events)).
		Msg("scan events fetched")
	return events, nil
}

// DistinctActors returns the set of distinct actor ids in events
func DistinctActors(events []types.ScanEvent) map[string]bool {
	actors := make(map[string]bool, len(events))
	for _, e := range events {
		actors[e.ActorID] = true
	}
	return actors
}

func (g *Gateway) fetchPage(ctx context.Context, start, end time.Time, page int) (*searchResponse, error) {
	query := url.Values{
		"topic":     {topicDoorOpen},
		"since":     {strconv.FormatInt(start.Unix(), 10)},
		"until":     {strconv.FormatInt(end.Unix(), 10)},
		"page":      {strconv.Itoa(page)},
		"page_size": {strconv.Itoa(g.pageSize)},
	}
	var resp searchResponse
	if err := g.client.Get(ctx, "/api/v1/events/search", query, &resp); err != nil {
		return nil, err
	}
	metrics.ScanPagesTotal.Inc()
	return &resp, nil
}

func pageCount(total, pageSize int) int {
	if total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

func convert(in []scanEvent) []types.ScanEvent {
	out := make([]types.ScanEvent, 0, len(in))
	for _, e := range in {
		out = append(out, types.ScanEvent{
			ActorID:   e.ActorID,
			ActorName: e.ActorName,
			Timestamp: time.Unix(e.Timestamp, 0).UTC(),
		})
	}
	return out
}
