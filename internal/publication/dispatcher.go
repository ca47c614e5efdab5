package publication

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"praxis/internal/content"
	"praxis/internal/mailer"
	"praxis/internal/metrics"
	"praxis/internal/remote"
)

// EmailDeliverer is the email engine boundary.
type EmailDeliverer interface {
	Deliver(ctx context.Context, art *content.Article, publicationID uint64, override []string, attemptID string) (mailer.Result, error)
}

// ChannelSender publishes an article through an external collaborator
// (WhatsApp, Telegram, ...). Implementations own their transport.
type ChannelSender interface {
	Publish(ctx context.Context, art *content.Article) error
}

// ArticleMarker stamps the article's published_at if still unset.
type ArticleMarker interface {
	SetPublished(ctx context.Context, id uint64, now time.Time) error
}

// Dispatcher routes one leased publication to its channel handler and
// settles the lease: MarkDone on success, Release on any failure so the
// publication stays retryable on a later tick.
type Dispatcher struct {
	Repo     *Repo
	Articles ArticleMarker
	Email    EmailDeliverer
	WhatsApp ChannelSender
	Other    ChannelSender
	Exec     *remote.Executor
	Log      zerolog.Logger
	Metrics  *metrics.Scheduler
}

// Dispatch never lets one publication's failure escape to its
// siblings; errors (and panics from channel handlers) end at the log
// line and a released lease.
func (d *Dispatcher) Dispatch(ctx context.Context, art *content.Article, pub Publication) {
	start := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in channel handler: %v\n%s", r, debug.Stack())
			}
		}()
		return d.dispatch(ctx, art, pub)
	}()

	if err != nil {
		d.Log.Error().Err(err).
			Uint64("publication_id", pub.ID).
			Str("channel", string(pub.Channel)).
			Uint64("content_id", pub.ContentID).
			Msg("publish failed")
		if rerr := d.Repo.Release(ctx, pub.ID); rerr != nil {
			d.Log.Error().Err(rerr).Uint64("publication_id", pub.ID).Msg("release failed")
		}
		d.Metrics.PublishFailed()
		return
	}

	d.Metrics.Published()
	d.Metrics.DispatchLatency(time.Since(start))
	d.Log.Info().
		Uint64("publication_id", pub.ID).
		Str("channel", string(pub.Channel)).
		Uint64("content_id", pub.ContentID).
		Dur("took", time.Since(start)).
		Msg("published")
}

func (d *Dispatcher) dispatch(ctx context.Context, art *content.Article, pub Publication) error {
	switch pub.Channel {
	case ChannelWebsite:
		err := d.Exec.Do(ctx, func(ctx context.Context, _ string) error {
			return d.Articles.SetPublished(ctx, art.ID, time.Now())
		})
		if err != nil {
			return fmt.Errorf("website publish: %w", err)
		}

	case ChannelEmail:
		res, err := d.Email.Deliver(ctx, art, pub.ID, nil, uuid.NewString())
		if err != nil {
			return err
		}
		if !res.Sent {
			return fmt.Errorf("email delivery incomplete: %d of %d delivered", res.Delivered, res.Total)
		}

	case ChannelWhatsApp:
		if d.WhatsApp == nil {
			return fmt.Errorf("no whatsapp sender configured")
		}
		if err := d.WhatsApp.Publish(ctx, art); err != nil {
			return fmt.Errorf("whatsapp publish: %w", err)
		}

	case ChannelOther:
		if d.Other == nil {
			return fmt.Errorf("no sender configured for channel other")
		}
		if err := d.Other.Publish(ctx, art); err != nil {
			return fmt.Errorf("other publish: %w", err)
		}

	default:
		return fmt.Errorf("unknown channel %q", pub.Channel)
	}

	if err := d.Repo.MarkDone(ctx, pub.ID, time.Now()); err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	return nil
}
