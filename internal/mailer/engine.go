package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"praxis/internal/content"
)

// SubscriberLister is the subscriber store boundary.
type SubscriberLister interface {
	ListActive(ctx context.Context) ([]string, error)
}

// ArticleMarker stamps an article published on its first successful
// channel.
type ArticleMarker interface {
	SetPublished(ctx context.Context, id uint64, now time.Time) error
}

// Sender performs one batched remote send. The whole batch shares a
// single outcome; partial success inside one remote call is not
// observable and is not assumed.
type Sender interface {
	Send(ctx context.Context, recipients []string, subject, html string) error
}

// Result is what the dispatcher acts on. Sent is true when at least
// one recipient moved to sent in this call, or when every subscriber
// already had a sent row before it.
type Result struct {
	Sent        bool
	Delivered   int
	Total       int
	Undelivered int
}

type Engine struct {
	Logs        *Repo
	Subscribers SubscriberLister
	Articles    ArticleMarker
	Renderer    Renderer
	Sender      Sender
	StaticLinks []string
	Log         zerolog.Logger
}

// Deliver sends one article to its resolved recipient set.
//
// Resolution order: an explicit override wins outright; otherwise the
// recipients are exactly the active subscribers without a sent row
// (first send and retry collapse into the same rule); if that gap is
// empty the call is an idempotent no-op. Outcomes are reconstructed
// from the email log on every call, never from memory, so a crashed
// process resumes with only the gap.
func (e *Engine) Deliver(ctx context.Context, art *content.Article, publicationID uint64, override []string, attemptID string) (Result, error) {
	subs, err := e.Subscribers.ListActive(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list subscribers: %w", err)
	}

	recipients := override
	if len(recipients) == 0 {
		sent, err := e.Logs.SentRecipients(ctx, art.ID)
		if err != nil {
			return Result{}, fmt.Errorf("load delivery history: %w", err)
		}
		sentSet := make(map[string]struct{}, len(sent))
		for _, s := range sent {
			sentSet[s] = struct{}{}
		}
		for _, s := range subs {
			if _, ok := sentSet[s]; !ok {
				recipients = append(recipients, s)
			}
		}

		if len(recipients) == 0 {
			// Everyone already has a sent row; report success with
			// zero new sends.
			res, err := e.summarize(ctx, art.ID, subs, true)
			if err != nil {
				return Result{}, err
			}
			e.Log.Info().Uint64("article_id", art.ID).Int("total", res.Total).
				Msg("email already fully delivered")
			return res, nil
		}
	}

	if attemptID == "" {
		attemptID = uuid.NewString()
	}
	attempt := &EmailDeliveryAttempt{
		AttemptID:      attemptID,
		ArticleID:      art.ID,
		PublicationID:  publicationID,
		Status:         AttemptSending,
		RecipientCount: len(recipients),
	}
	if err := e.Logs.UpsertAttempt(ctx, attempt); err != nil {
		return Result{}, fmt.Errorf("record attempt: %w", err)
	}

	html, err := e.Renderer.Render(art.Title, art.Body, art.ImageURL, e.StaticLinks)
	if err == nil {
		err = validatePayload(html, art.Title)
	}
	if err != nil {
		e.finalize(ctx, attemptID, AttemptFailed, err)
		return Result{}, fmt.Errorf("render article %d: %w", art.ID, err)
	}

	// Clear stale failures so a success below is the surviving row.
	if err := e.Logs.DeleteFailed(ctx, art.ID, recipients); err != nil {
		e.finalize(ctx, attemptID, AttemptFailed, err)
		return Result{}, fmt.Errorf("clear failed rows: %w", err)
	}

	now := time.Now()
	sendErr := e.Sender.Send(ctx, recipients, art.Title, html)

	status := LogSent
	if sendErr != nil {
		status = LogFailed
	}
	if err := e.Logs.RecordOutcomes(ctx, art.ID, recipients, status, now); err != nil {
		e.finalize(ctx, attemptID, AttemptFailed, err)
		return Result{}, fmt.Errorf("record outcomes: %w", err)
	}

	if sendErr != nil {
		e.finalize(ctx, attemptID, AttemptFailed, sendErr)
		res, rerr := e.summarize(ctx, art.ID, subs, false)
		if rerr != nil {
			return Result{}, rerr
		}
		e.Log.Warn().Err(sendErr).Uint64("article_id", art.ID).
			Int("recipients", len(recipients)).Msg("email batch failed")
		return res, fmt.Errorf("send article %d: %w", art.ID, sendErr)
	}

	e.finalize(ctx, attemptID, AttemptSuccess, nil)

	if err := e.Articles.SetPublished(ctx, art.ID, now); err != nil {
		// Delivery already happened; the website channel or a later
		// tick can still stamp the article.
		e.Log.Warn().Err(err).Uint64("article_id", art.ID).Msg("set published failed after delivery")
	}

	res, err := e.summarize(ctx, art.ID, subs, true)
	if err != nil {
		return Result{}, err
	}
	e.Log.Info().Uint64("article_id", art.ID).Int("recipients", len(recipients)).
		Int("delivered", res.Delivered).Int("total", res.Total).Msg("email batch delivered")
	return res, nil
}

// summarize recomputes the delivered/undelivered counts from the email
// log against the current active subscriber set.
func (e *Engine) summarize(ctx context.Context, articleID uint64, subs []string, sent bool) (Result, error) {
	sentRows, err := e.Logs.SentRecipients(ctx, articleID)
	if err != nil {
		return Result{}, fmt.Errorf("summarize delivery: %w", err)
	}
	sentSet := make(map[string]struct{}, len(sentRows))
	for _, s := range sentRows {
		sentSet[s] = struct{}{}
	}
	delivered := 0
	for _, s := range subs {
		if _, ok := sentSet[s]; ok {
			delivered++
		}
	}
	return Result{
		Sent:        sent,
		Delivered:   delivered,
		Total:       len(subs),
		Undelivered: len(subs) - delivered,
	}, nil
}

func (e *Engine) finalize(ctx context.Context, attemptID, status string, cause error) {
	var msg *string
	if cause != nil {
		s := cause.Error()
		msg = &s
	}
	if err := e.Logs.FinalizeAttempt(ctx, attemptID, status, msg); err != nil {
		e.Log.Error().Err(err).Str("attempt_id", attemptID).Msg("finalize attempt failed")
	}
}
