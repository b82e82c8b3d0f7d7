package roster

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/schoolops/rollcall/pkg/cache"
	"github.com/schoolops/rollcall/pkg/log"
	"github.com/schoolops/rollcall/pkg/metrics"
	"github.com/schoolops/rollcall/pkg/types"
)

// Client is the subset of the resilient API client the gateway needs
type Client interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
}

// Config holds gateway tunables
type Config struct {
	// LocationPattern selects groupings by dismissal location name
	LocationPattern *regexp.Regexp

	// RestoreTypes lists change types restored when a member is promoted
	// away from Absent
	RestoreTypes map[types.ChangeType]bool

	// MaxConcurrency bounds per-grouping and per-member fan-out;
	// 0 means unbounded
	MaxConcurrency int

	// DryRun substitutes a log line for every write call
	DryRun bool
}

// Gateway is the engine's interface to the roster service: the eligible
// roster for the day and batch attendance-status writes.
type Gateway struct {
	client   Client
	profiles *cache.ProfileCache
	changes  *cache.ChangeCache
	cfg      Config
	now      func() time.Time
	logger   zerolog.Logger
}

// New creates a roster gateway. Both caches are owned by the caller so
// tests can construct isolated instances.
func New(c Client, profiles *cache.ProfileCache, changes *cache.ChangeCache, cfg Config) *Gateway {
	return &Gateway{
		client:   c,
		profiles: profiles,
		changes:  changes,
		cfg:      cfg,
		now:      time.Now,
		logger:   log.WithComponent("roster"),
	}
}

type groupingDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

type attendanceRowDTO struct {
	MemberID    string `json:"member_id"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
}

type profileDTO struct {
	MemberID  string `json:"member_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Grade     string `json:"grade"`
	Homeroom  string `json:"homeroom"`
}

// EligibleRoster returns the members managed today: all attendance
// groupings whose location matches the configured pattern, their rows
// fetched concurrently, deduplicated by member id with the last-seen
// entry winning. Profiles for unseen members are fetched and cached;
// cached members skip the profile fetch.
func (g *Gateway) EligibleRoster(ctx context.Context, date time.Time) ([]types.Member, error) {
	day := date.Format("2006-01-02")

	var groupings []groupingDTO
	err := g.client.Get(ctx, "/api/v1/groupings", url.Values{"date": {day}}, &groupings)
	if err != nil {
		metrics.RegisterComponent("roster", false, err.Error())
		return nil, fmt.Errorf("failed to list groupings: %w", err)
	}

	var eligible []groupingDTO
	for _, grp := range groupings {
		if g.cfg.LocationPattern.MatchString(grp.Location) {
			eligible = append(eligible, grp)
		}
	}
	g.logger.Debug().
		Int("groupings", len(groupings)).
		Int("eligible", len(eligible)).
		Msg("groupings filtered by dismissal location")

	rows := make([][]attendanceRowDTO, len(eligible))
	errs := make([]error, len(eligible))

	sem := g.semaphore()
	var wg sync.WaitGroup
	for i, grp := range eligible {
		wg.Add(1)
		go func(i int, grp groupingDTO) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			var out []attendanceRowDTO
			err := g.client.Get(ctx, "/api/v1/groupings/"+grp.ID+"/attendance",
				url.Values{"date": {day}}, &out)
			if err != nil {
				errs[i] = fmt.Errorf("failed to fetch attendance for grouping %s: %w", grp.Name, err)
				return
			}
			rows[i] = out
		}(i, grp)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	// Dedup by member id; a member listed under two groupings appears once,
	// last-seen row wins.
	seen := make(map[string]int)
	var members []types.Member
	for _, grpRows := range rows {
		for _, row := range grpRows {
			m := types.Member{
				ID:          row.MemberID,
				DisplayName: row.DisplayName,
				Status:      types.Status(row.Status),
			}
			if idx, ok := seen[m.ID]; ok {
				members[idx] = m
				continue
			}
			seen[m.ID] = len(members)
			members = append(members, m)
		}
	}

	if err := g.ensureProfiles(ctx, members); err != nil {
		return nil, err
	}

	metrics.RegisterComponent("roster", true, "")
	g.logger.Info().
		Int("members", len(members)).
		Str("date", day).
		Msg("eligible roster fetched")
	return members, nil
}

// ensureProfiles fetches and caches profiles for members not yet seen
// this process. Profile data is read-only reference data assumed stable
// within a day, so the cache is an optimization, not a correctness
// requirement.
func (g *Gateway) ensureProfiles(ctx context.Context, members []types.Member) error {
	var missing []types.Member
	for _, m := range members {
		if _, ok := g.profiles.Get(m.ID); !ok {
			missing = append(missing, m)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	errs := make([]error, len(missing))
	sem := g.semaphore()
	var wg sync.WaitGroup
	for i, m := range missing {
		wg.Add(1)
		go func(i int, m types.Member) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			var dto profileDTO
			if err := g.client.Get(ctx, "/api/v1/members/"+m.ID+"/profile", nil, &dto); err != nil {
				errs[i] = fmt.Errorf("failed to fetch profile for %s: %w", m.DisplayName, err)
				return
			}
			g.profiles.Put(types.Profile{
				MemberID:  dto.MemberID,
				FirstName: dto.FirstName,
				LastName:  dto.LastName,
				Grade:     dto.Grade,
				Homeroom:  dto.Homeroom,
			})
		}(i, m)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	g.logger.Debug().Int("fetched", len(missing)).Msg("member profiles cached")
	return nil
}

func (g *Gateway) semaphore() chan struct{} {
	if g.cfg.MaxConcurrency <= 0 {
		return nil
	}
	return make(chan struct{}, g.cfg.MaxConcurrency)
}
