package roster

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/schoolops/rollcall/pkg/metrics"
	"github.com/schoolops/rollcall/pkg/types"
)

type statusWriteDTO struct {
	Status string `json:"status"`
}

type changeRecordDTO struct {
	SeriesID string `json:"series_id"`
	Type     string `json:"type"`
	RouteID  string `json:"route_id"`
	StopID   string `json:"stop_id"`
	Date     string `json:"date"`
	Default  bool   `json:"default"`
}

type busStopDTO struct {
	StopID string `json:"stop_id"`
	Name   string `json:"name"`
}

// MarkMembers writes the given status for every member in the batch.
// Members already in the target status count as successes with zero
// remote calls. Per-member writes run concurrently and fail
// independently; one member's failure never aborts the others. The
// returned MarkResult satisfies Succeeded + Failed == Total.
//
// Absent transitions first capture the member's dismissal-change record
// so the original routing can be restored later; transitions away from
// Absent restore a captured record if its change type is configured for
// restoration. Restore failures are logged but do not fail the mark.
func (g *Gateway) MarkMembers(ctx context.Context, status types.Status, members []types.Member) types.MarkResult {
	result := types.MarkResult{Total: len(members)}
	if len(members) == 0 {
		return result
	}

	outcomes := make([]bool, len(members))
	sem := g.semaphore()
	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(i int, m types.Member) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			outcomes[i] = g.markOne(ctx, status, m)
		}(i, m)
	}
	wg.Wait()

	for _, ok := range outcomes {
		if ok {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	g.logger.Info().
		Str("status", string(status)).
		Int("total", result.Total).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Msg("batch mark complete")
	return result
}

// markOne handles a single member's transition and reports success
func (g *Gateway) markOne(ctx context.Context, status types.Status, m types.Member) bool {
	logger := g.logger.With().
		Str("member_id", m.ID).
		Str("member", m.DisplayName).
		Str("status", string(status)).
		Logger()

	// Idempotence at the application layer: the remote API is not
	// assumed idempotent, so an in-state member is never rewritten.
	if m.Status == status {
		logger.Debug().Msg("member already in target status")
		metrics.MarksTotal.WithLabelValues(string(status), "noop").Inc()
		return true
	}

	if status == types.StatusAbsent {
		g.captureChange(ctx, m)
	} else {
		g.restoreChange(ctx, m)
	}

	if g.cfg.DryRun {
		logger.Info().Msg("dry run: would write attendance status")
		metrics.MarksTotal.WithLabelValues(string(status), "dry_run").Inc()
		return true
	}

	err := g.client.Put(ctx, "/api/v1/members/"+m.ID+"/status",
		statusWriteDTO{Status: string(status)}, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to write attendance status")
		metrics.MarksTotal.WithLabelValues(string(status), "failure").Inc()
		return false
	}

	logger.Info().Msg("attendance status written")
	metrics.MarksTotal.WithLabelValues(string(status), "success").Inc()
	return true
}

// captureChange fetches the member's current dismissal-change record and
// caches it if it represents a real (non-default) change series. A
// capture failure is logged and skipped: the absent mark itself matters
// more than preserving routing for a possible late arrival.
func (g *Gateway) captureChange(ctx context.Context, m types.Member) {
	day := g.now().Format("2006-01-02")
	var dto changeRecordDTO
	err := g.client.Get(ctx, "/api/v1/members/"+m.ID+"/changes",
		url.Values{"date": {day}}, &dto)
	if err != nil {
		g.logger.Warn().
			Str("member_id", m.ID).
			Str("member", m.DisplayName).
			Err(err).
			Msg("failed to fetch dismissal change record")
		return
	}

	if dto.SeriesID == "" || dto.Default {
		return
	}

	date, err := time.Parse("2006-01-02", dto.Date)
	if err != nil {
		date = g.now()
	}
	g.changes.Put(types.ChangeRecord{
		MemberID: m.ID,
		SeriesID: dto.SeriesID,
		Type:     types.ChangeType(dto.Type),
		RouteID:  dto.RouteID,
		StopID:   dto.StopID,
		Date:     date,
		Default:  dto.Default,
	})
	g.logger.Debug().
		Str("member_id", m.ID).
		Str("change_type", dto.Type).
		Msg("dismissal change record cached")
}

// restoreChange re-submits a captured dismissal change for the current
// date when the member transitions away from Absent. Only configured
// change types are restored; the cache entry is consumed either way.
func (g *Gateway) restoreChange(ctx context.Context, m types.Member) {
	rec, ok := g.changes.Take(m.ID)
	if !ok {
		return
	}
	if !g.cfg.RestoreTypes[rec.Type] {
		g.logger.Debug().
			Str("member_id", m.ID).
			Str("change_type", string(rec.Type)).
			Msg("change type not configured for restoration")
		return
	}

	logger := g.logger.With().
		Str("member_id", m.ID).
		Str("member", m.DisplayName).
		Str("change_type", string(rec.Type)).
		Logger()

	if rec.Type == types.ChangeTypeBus && rec.RouteID != "" {
		// Confirm the captured stop still exists on the route before
		// reproducing the routing.
		stops, err := g.BusStops(ctx, rec.RouteID)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to list bus stops, skipping restore")
			return
		}
		if !containsStop(stops, rec.StopID) {
			logger.Warn().
				Str("route_id", rec.RouteID).
				Str("stop_id", rec.StopID).
				Msg("captured stop no longer on route, skipping restore")
			return
		}
	}

	if g.cfg.DryRun {
		logger.Info().Msg("dry run: would restore dismissal change")
		return
	}

	err := g.client.Post(ctx, "/api/v1/members/"+m.ID+"/changes", changeRecordDTO{
		SeriesID: rec.SeriesID,
		Type:     string(rec.Type),
		RouteID:  rec.RouteID,
		StopID:   rec.StopID,
		Date:     g.now().Format("2006-01-02"),
	}, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to restore dismissal change")
		return
	}
	logger.Info().Msg("dismissal change restored")
}

// BusStops lists the stops on a bus route
func (g *Gateway) BusStops(ctx context.Context, routeID string) ([]types.BusStop, error) {
	var dtos []busStopDTO
	if err := g.client.Get(ctx, "/api/v1/routes/"+routeID+"/stops", nil, &dtos); err != nil {
		return nil, err
	}
	stops := make([]types.BusStop, 0, len(dtos))
	for _, d := range dtos {
		stops = append(stops, types.BusStop{StopID: d.StopID, Name: d.Name})
	}
	return stops, nil
}

func containsStop(stops []types.BusStop, stopID string) bool {
	for _, s := range stops {
		if s.StopID == stopID {
			return true
		}
	}
	return false
}
