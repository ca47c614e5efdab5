package publication

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"praxis/internal/content"
	"praxis/internal/metrics"
)

// ArticleGetter loads the article a publication points at.
type ArticleGetter interface {
	Get(ctx context.Context, id uint64) (*content.Article, error)
}

// Scheduler is the per-process tick loop: sweep expired leases,
// discover due publications, lease them, dispatch. Several processes
// may run this loop against the same database; the lease batch decides
// who dispatches what.
type Scheduler struct {
	Repo       *Repo
	Articles   ArticleGetter
	Dispatcher *Dispatcher
	Interval   time.Duration
	LeaseTTL   time.Duration
	HolderID   string
	Log        zerolog.Logger
	Metrics    *metrics.Scheduler
}

func NewScheduler(repo *Repo, articles ArticleGetter, d *Dispatcher, interval, ttl time.Duration, log zerolog.Logger, m *metrics.Scheduler) *Scheduler {
	host, _ := os.Hostname()
	holder := fmt.Sprintf("%s/%s", host, uuid.NewString()[:8])
	return &Scheduler{
		Repo:       repo,
		Articles:   articles,
		Dispatcher: d,
		Interval:   interval,
		LeaseTTL:   ttl,
		HolderID:   holder,
		Log:        log.With().Str("holder", holder).Logger(),
		Metrics:    m,
	}
}

// Run ticks once immediately, then on the fixed interval until ctx is
// cancelled. A tick still in flight when the timer fires is skipped,
// never stacked.
func (s *Scheduler) Run(ctx context.Context) {
	s.Tick(ctx)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(cron.Every(s.Interval), cron.FuncJob(func() { s.Tick(ctx) }))
	c.Start()

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
}

// Tick runs one sweep/discover/lease/dispatch cycle. Sweep errors are
// swallowed (a missed sweep only delays reclamation); discovery and
// lease errors abort the tick and the next timer fire retries.
func (s *Scheduler) Tick(ctx context.Context) {
	s.Metrics.TickStarted()
	now := time.Now()

	swept, err := s.Repo.SweepExpiredLeases(ctx, now)
	if err != nil {
		s.Log.Warn().Err(err).Msg("lease sweep failed")
	} else if swept > 0 {
		s.Metrics.Swept(swept)
		s.Log.Info().Int64("reclaimed", swept).Msg("expired leases swept")
	}

	due, err := s.Repo.FindDue(ctx, now)
	if err != nil {
		s.Log.Error().Err(err).Msg("due scan failed")
		return
	}
	if len(due) == 0 {
		return
	}

	ids := make([]uint64, 0, len(due))
	for _, p := range due {
		ids = append(ids, p.ID)
	}

	leased, err := s.Repo.LeaseBatch(ctx, ids, s.HolderID, s.LeaseTTL, now)
	if err != nil {
		s.Log.Error().Err(err).Msg("lease batch failed")
		return
	}
	if len(leased) == 0 {
		return
	}
	s.Metrics.Leased(len(leased))
	s.Log.Debug().Int("due", len(due)).Int("leased", len(leased)).Msg("tick leased publications")

	// Group by article so each article is loaded once and its channels
	// share the publish side effect on the article row.
	groups := make(map[uint64][]Publication)
	order := make([]uint64, 0, len(leased))
	for _, p := range leased {
		if _, ok := groups[p.ContentID]; !ok {
			order = append(order, p.ContentID)
		}
		groups[p.ContentID] = append(groups[p.ContentID], p)
	}

	for _, contentID := range order {
		art, err := s.Articles.Get(ctx, contentID)
		if err != nil {
			// Deleted upstream or unreadable: leave the group leased
			// until the TTL expires and the sweep reclaims it.
			if errors.Is(err, content.ErrNotFound) {
				s.Log.Warn().Uint64("content_id", contentID).Msg("article missing, leaving leases to expire")
			} else {
				s.Log.Error().Err(err).Uint64("content_id", contentID).Msg("article load failed")
			}
			continue
		}
		for _, p := range groups[contentID] {
			s.Dispatcher.Dispatch(ctx, art, p)
		}
	}
}
