package mailer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"praxis/internal/content"
)

type fakeLister struct {
	emails []string
}

func (f *fakeLister) ListActive(ctx context.Context) ([]string, error) {
	return f.emails, nil
}

type fakeMarker struct {
	calls int
}

func (f *fakeMarker) SetPublished(ctx context.Context, id uint64, now time.Time) error {
	f.calls++
	return nil
}

type fakeSender struct {
	err     error
	batches [][]string
}

func (f *fakeSender) Send(ctx context.Context, recipients []string, subject, html string) error {
	batch := make([]string, len(recipients))
	copy(batch, recipients)
	f.batches = append(f.batches, batch)
	return f.err
}

type brokenRenderer struct{}

func (brokenRenderer) Render(title, body string, imageURL *string, staticLinks []string) (string, error) {
	return "<p>oops</p>", nil
}

func testEngine(t *testing.T, subs []string, sender *fakeSender) (*Engine, *Repo, *fakeMarker) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.AutoMigrate(&EmailLog{}, &EmailDeliveryAttempt{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	renderer, err := NewTemplateRenderer()
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}

	repo := &Repo{DB: gdb}
	marker := &fakeMarker{}
	eng := &Engine{
		Logs:        repo,
		Subscribers: &fakeLister{emails: subs},
		Articles:    marker,
		Renderer:    renderer,
		Sender:      sender,
		StaticLinks: []string{"https://example.com/imprint"},
		Log:         zerolog.Nop(),
	}
	return eng, repo, marker
}

func testArticle() *content.Article {
	return &content.Article{ID: 7, Title: "Spring Update", Body: "New opening hours from May."}
}

func countLogs(t *testing.T, repo *Repo, articleID uint64) int64 {
	t.Helper()
	var n int64
	if err := repo.DB.Model(&EmailLog{}).Where("article_id = ?", articleID).Count(&n).Error; err != nil {
		t.Fatalf("count logs: %v", err)
	}
	return n
}

func TestDeliverFirstSend(t *testing.T) {
	sender := &fakeSender{}
	eng, repo, marker := testEngine(t, []string{"a@x.com", "b@x.com"}, sender)

	res, err := eng.Deliver(context.Background(), testArticle(), 11, nil, "attempt-1")
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	want := Result{Sent: true, Delivered: 2, Total: 2, Undelivered: 0}
	if res != want {
		t.Fatalf("result = %+v, want %+v", res, want)
	}
	if len(sender.batches) != 1 || len(sender.batches[0]) != 2 {
		t.Fatalf("batches = %+v, want one batch of two", sender.batches)
	}
	if n := countLogs(t, repo, 7); n != 2 {
		t.Fatalf("log rows = %d, want 2", n)
	}
	if marker.calls != 1 {
		t.Fatalf("article not marked published")
	}

	a, err := repo.GetAttempt(context.Background(), "attempt-1")
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if a.Status != AttemptSuccess || a.RecipientCount != 2 {
		t.Fatalf("attempt = %+v", a)
	}
}

func TestDeliverSecondCallIsNoop(t *testing.T) {
	sender := &fakeSender{}
	eng, repo, _ := testEngine(t, []string{"a@x.com", "b@x.com"}, sender)
	ctx := context.Background()

	if _, err := eng.Deliver(ctx, testArticle(), 11, nil, "attempt-1"); err != nil {
		t.Fatalf("first deliver: %v", err)
	}

	res, err := eng.Deliver(ctx, testArticle(), 11, nil, "attempt-2")
	if err != nil {
		t.Fatalf("second deliver: %v", err)
	}
	if !res.Sent || res.Delivered != 2 || res.Undelivered != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(sender.batches) != 1 {
		t.Fatalf("second call reached the transport")
	}
	if n := countLogs(t, repo, 7); n != 2 {
		t.Fatalf("second call inserted rows: %d", n)
	}
}

func TestDeliverRetryTargetsOnlyTheGap(t *testing.T) {
	sender := &fakeSender{}
	eng, repo, _ := testEngine(t, []string{"a@x.com", "b@x.com", "c@x.com"}, sender)
	ctx := context.Background()

	if err := repo.RecordOutcomes(ctx, 7, []string{"a@x.com"}, LogSent, time.Now()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := eng.Deliver(ctx, testArticle(), 11, nil, "")
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if got := sender.batches[0]; len(got) != 2 || got[0] != "b@x.com" || got[1] != "c@x.com" {
		t.Fatalf("batch = %v, want [b@x.com c@x.com]", got)
	}
	if res.Delivered != 3 || res.Undelivered != 0 || !res.Sent {
		t.Fatalf("result = %+v", res)
	}
}

func TestDeliverSupersedesFailedRow(t *testing.T) {
	sender := &fakeSender{}
	eng, repo, _ := testEngine(t, []string{"a@x.com", "b@x.com"}, sender)
	ctx := context.Background()

	if err := repo.RecordOutcomes(ctx, 7, []string{"a@x.com"}, LogSent, time.Now()); err != nil {
		t.Fatalf("seed sent: %v", err)
	}
	if err := repo.RecordOutcomes(ctx, 7, []string{"b@x.com"}, LogFailed, time.Now()); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if _, err := eng.Deliver(ctx, testArticle(), 11, nil, ""); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	var rows []EmailLog
	if err := repo.DB.Where("article_id = ? AND email = ?", 7, "b@x.com").Find(&rows).Error; err != nil {
		t.Fatalf("load rows: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != LogSent {
		t.Fatalf("rows for b = %+v, want single sent row", rows)
	}
}

func TestDeliverTransportFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp down")}
	eng, repo, marker := testEngine(t, []string{"a@x.com", "b@x.com"}, sender)
	ctx := context.Background()

	res, err := eng.Deliver(ctx, testArticle(), 11, nil, "attempt-1")
	if err == nil {
		t.Fatalf("want error")
	}
	if res.Sent {
		t.Fatalf("failed batch reported sent")
	}
	if res.Delivered != 0 || res.Undelivered != 2 {
		t.Fatalf("result = %+v", res)
	}

	sent, err := repo.SentRecipients(ctx, 7)
	if err != nil {
		t.Fatalf("sent recipients: %v", err)
	}
	if len(sent) != 0 {
		t.Fatalf("failure produced sent rows: %v", sent)
	}

	a, err := repo.GetAttempt(ctx, "attempt-1")
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if a.Status != AttemptFailed || a.ErrorMessage == nil {
		t.Fatalf("attempt = %+v", a)
	}
	if marker.calls != 0 {
		t.Fatalf("failed delivery marked article published")
	}

	// The gap is everyone again: failed rows are cleared on retry.
	sender.err = nil
	res, err = eng.Deliver(ctx, testArticle(), 11, nil, "attempt-1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !res.Sent || res.Delivered != 2 {
		t.Fatalf("retry result = %+v", res)
	}
	if n := countLogs(t, repo, 7); n != 2 {
		t.Fatalf("stale failed rows survived: %d", n)
	}
}

func TestDeliverOverrideBypassesDedup(t *testing.T) {
	sender := &fakeSender{}
	eng, repo, _ := testEngine(t, []string{"a@x.com"}, sender)
	ctx := context.Background()

	if err := repo.RecordOutcomes(ctx, 7, []string{"a@x.com"}, LogSent, time.Now()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := eng.Deliver(ctx, testArticle(), 0, []string{"a@x.com", "vip@x.com"}, "")
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got := sender.batches[0]; len(got) != 2 {
		t.Fatalf("override batch = %v", got)
	}
	if !res.Sent {
		t.Fatalf("result = %+v", res)
	}
}

func TestDeliverInvalidContentNotSent(t *testing.T) {
	sender := &fakeSender{}
	eng, repo, _ := testEngine(t, []string{"a@x.com"}, sender)
	eng.Renderer = brokenRenderer{}
	ctx := context.Background()

	_, err := eng.Deliver(ctx, testArticle(), 11, nil, "attempt-1")
	if !errors.Is(err, ErrInvalidContent) {
		t.Fatalf("err = %v, want ErrInvalidContent", err)
	}
	if len(sender.batches) != 0 {
		t.Fatalf("invalid payload reached the transport")
	}
	a, err := repo.GetAttempt(ctx, "attempt-1")
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if a.Status != AttemptFailed {
		t.Fatalf("attempt status = %q", a.Status)
	}
}
