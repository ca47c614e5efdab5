package publication

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"praxis/internal/content"
	"praxis/internal/mailer"
	"praxis/internal/remote"
)

type fakeMarker struct {
	calls int
	err   error
}

func (f *fakeMarker) SetPublished(ctx context.Context, id uint64, now time.Time) error {
	f.calls++
	return f.err
}

type fakeDeliverer struct {
	res   mailer.Result
	err   error
	calls int
}

func (f *fakeDeliverer) Deliver(ctx context.Context, art *content.Article, publicationID uint64, override []string, attemptID string) (mailer.Result, error) {
	f.calls++
	return f.res, f.err
}

type fakeChannel struct {
	err   error
	calls int
}

func (f *fakeChannel) Publish(ctx context.Context, art *content.Article) error {
	f.calls++
	return f.err
}

func testDispatcher(t *testing.T) (*Dispatcher, *Repo, *fakeMarker, *fakeDeliverer) {
	t.Helper()
	repo := testRepo(t)
	marker := &fakeMarker{}
	email := &fakeDeliverer{res: mailer.Result{Sent: true, Delivered: 1, Total: 1}}
	d := &Dispatcher{
		Repo:     repo,
		Articles: marker,
		Email:    email,
		Exec: &remote.Executor{
			Creds: &remote.StaticCredentials{APIKey: "k"},
			Log:   zerolog.Nop(),
		},
		Log: zerolog.Nop(),
	}
	return d, repo, marker, email
}

func leasedPub(t *testing.T, repo *Repo, ch Channel) Publication {
	t.Helper()
	p := mustCreate(t, repo, &Publication{ContentID: 7, Channel: ch})
	won, err := repo.LeaseBatch(context.Background(), []uint64{p.ID}, "test-holder", 5*time.Minute, time.Now())
	if err != nil || len(won) != 1 {
		t.Fatalf("lease: %v (%d won)", err, len(won))
	}
	return won[0]
}

func reload(t *testing.T, repo *Repo, id uint64) *Publication {
	t.Helper()
	p, err := repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	return p
}

func TestDispatchEmailSuccessMarksDone(t *testing.T) {
	d, repo, _, email := testDispatcher(t)
	pub := leasedPub(t, repo, ChannelEmail)

	d.Dispatch(context.Background(), &content.Article{ID: 7, Title: "T"}, pub)

	if email.calls != 1 {
		t.Fatalf("email engine not invoked")
	}
	got := reload(t, repo, pub.ID)
	if got.PublishedAt == nil {
		t.Fatalf("success did not mark done")
	}
	if got.LeaseHolder != nil {
		t.Fatalf("lease survived mark done")
	}
}

func TestDispatchEmailFailureReleases(t *testing.T) {
	d, repo, _, email := testDispatcher(t)
	email.err = errors.New("transport down")
	pub := leasedPub(t, repo, ChannelEmail)

	d.Dispatch(context.Background(), &content.Article{ID: 7, Title: "T"}, pub)

	got := reload(t, repo, pub.ID)
	if got.PublishedAt != nil {
		t.Fatalf("failed dispatch marked done")
	}
	if got.LeaseHolder != nil {
		t.Fatalf("failed dispatch kept the lease")
	}
}

func TestDispatchEmailNotSentReleases(t *testing.T) {
	d, repo, _, email := testDispatcher(t)
	email.res = mailer.Result{Sent: false, Delivered: 0, Total: 3}
	email.err = nil
	pub := leasedPub(t, repo, ChannelEmail)

	d.Dispatch(context.Background(), &content.Article{ID: 7, Title: "T"}, pub)

	got := reload(t, repo, pub.ID)
	if got.PublishedAt != nil {
		t.Fatalf("unsent delivery marked done")
	}
}

func TestDispatchWebsitePublishesArticle(t *testing.T) {
	d, repo, marker, _ := testDispatcher(t)
	pub := leasedPub(t, repo, ChannelWebsite)

	d.Dispatch(context.Background(), &content.Article{ID: 7, Title: "T"}, pub)

	if marker.calls != 1 {
		t.Fatalf("article store not updated")
	}
	got := reload(t, repo, pub.ID)
	if got.PublishedAt == nil {
		t.Fatalf("website publish did not mark done")
	}
}

func TestDispatchWebsiteStoreFailureReleases(t *testing.T) {
	d, repo, marker, _ := testDispatcher(t)
	marker.err = errors.New("datastore down")
	pub := leasedPub(t, repo, ChannelWebsite)

	d.Dispatch(context.Background(), &content.Article{ID: 7, Title: "T"}, pub)

	got := reload(t, repo, pub.ID)
	if got.PublishedAt != nil {
		t.Fatalf("failed store write marked done")
	}
	if got.LeaseHolder != nil {
		t.Fatalf("failed store write kept the lease")
	}
}

func TestDispatchOtherChannel(t *testing.T) {
	d, repo, _, _ := testDispatcher(t)
	other := &fakeChannel{}
	d.Other = other
	pub := leasedPub(t, repo, ChannelOther)

	d.Dispatch(context.Background(), &content.Article{ID: 7, Title: "T"}, pub)

	if other.calls != 1 {
		t.Fatalf("other channel not invoked")
	}
	if got := reload(t, repo, pub.ID); got.PublishedAt == nil {
		t.Fatalf("other channel success did not mark done")
	}
}

func TestDispatchMissingSenderReleases(t *testing.T) {
	d, repo, _, _ := testDispatcher(t)
	pub := leasedPub(t, repo, ChannelWhatsApp)

	d.Dispatch(context.Background(), &content.Article{ID: 7, Title: "T"}, pub)

	got := reload(t, repo, pub.ID)
	if got.PublishedAt != nil || got.LeaseHolder != nil {
		t.Fatalf("missing sender should release: %+v", got)
	}
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	d, repo, _, _ := testDispatcher(t)
	d.Other = panicChannel{}
	pub := leasedPub(t, repo, ChannelOther)

	d.Dispatch(context.Background(), &content.Article{ID: 7, Title: "T"}, pub)

	got := reload(t, repo, pub.ID)
	if got.PublishedAt != nil || got.LeaseHolder != nil {
		t.Fatalf("panicking handler should release: %+v", got)
	}
}

type panicChannel struct{}

func (panicChannel) Publish(ctx context.Context, art *content.Article) error {
	panic("handler bug")
}
