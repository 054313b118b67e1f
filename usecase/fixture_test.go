package usecase_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"github.com/vitovidale/video-pipeline/domain"
	"github.com/vitovidale/video-pipeline/infrastructure"
	"github.com/vitovidale/video-pipeline/infrastructure/testkit"
	"github.com/vitovidale/video-pipeline/usecase"
	"go.uber.org/zap"
)

var errQueueDown = errors.New("queue unreachable")

type fakePublisher struct {
	mu       sync.Mutex
	fail     int // number of leading calls that fail
	err      error
	calls    int
	messages []domain.JobMessage
}

func (p *fakePublisher) Publish(_ context.Context, msg domain.JobMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.fail {
		if p.err != nil {
			return "", p.err
		}
		return "", errQueueDown
	}
	p.messages = append(p.messages, msg)
	return "msg-" + msg.JobID, nil
}

func (p *fakePublisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeHub struct {
	mu      sync.Mutex
	offline bool
	events  []domain.PushEvent
}

func (h *fakeHub) Send(_ snowflake.ID, ev domain.PushEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.offline {
		return false
	}
	h.events = append(h.events, ev)
	return true
}

func (h *fakeHub) setOffline(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.offline = v
}

func (h *fakeHub) named(name string) []domain.PushEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.PushEvent
	for _, ev := range h.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// syncPublisher delivers events inline so tests observe them deterministically.
type syncPublisher struct {
	handler usecase.EventHandler
	count   atomic.Int64
}

func (p *syncPublisher) Publish(events ...usecase.Event) {
	for _, ev := range events {
		p.count.Add(1)
		_ = p.handler.Handle(context.Background(), ev)
	}
}

type staticURLs struct{}

func (staticURLs) GenerateUploadURL(_ context.Context, key, _ string) (domain.UploadURL, error) {
	return domain.UploadURL{URL: "https://upload.test/" + key, Method: "PUT"}, nil
}

type fixture struct {
	uow           *infrastructure.GormUnitOfWork
	ids           *snowflake.Node
	clock         *testkit.FakeClock
	publisher     *fakePublisher
	hub           *fakeHub
	events        *syncPublisher
	ledger        *usecase.CreditLedger
	dispatcher    *usecase.JobDispatcher
	notifications *usecase.NotificationService
	uploads       *usecase.UploadVideoUseCase
	videos        *usecase.VideoService
	webhooks      *usecase.WebhookIngestor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testkit.OpenSQLite(t, infrastructure.Models()...)
	clock := testkit.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	f := &fixture{
		uow:       infrastructure.NewGormUnitOfWork(db, clock),
		ids:       node,
		clock:     clock,
		publisher: &fakePublisher{},
		hub:       &fakeHub{},
	}
	f.ledger = usecase.NewCreditLedger(f.uow, node, clock, log, nil)
	f.dispatcher = usecase.NewJobDispatcher(f.publisher, clock, log, nil)
	f.notifications = usecase.NewNotificationService(f.uow, f.hub, node, clock, log, nil, usecase.NotificationConfig{})
	f.events = &syncPublisher{handler: f.notifications}
	locker := usecase.NewLocalVideoLocker()
	f.uploads = usecase.NewUploadVideoUseCase(f.uow, f.ledger, f.dispatcher, staticURLs{}, locker, f.events, node, clock, log)
	f.videos = usecase.NewVideoService(f.uow, locker, clock, log)
	f.webhooks = usecase.NewWebhookIngestor(f.uow, f.ledger, f.events, clock, log, nil)
	return f
}

func (f *fixture) member(t *testing.T, balance int64) snowflake.ID {
	t.Helper()
	id := f.ids.Generate()
	now := f.clock.Now()
	require.NoError(t, f.uow.Repositories().Members.Create(context.Background(), domain.Member{
		ID:            id,
		Email:         id.String() + "@example.test",
		Name:          "member " + id.String(),
		CreditBalance: balance,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
	return id
}

func (f *fixture) balance(t *testing.T, memberID snowflake.ID) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), memberID)
	require.NoError(t, err)
	return b
}

// queuedVideo runs the upload flow up to QUEUED.
func (f *fixture) queuedVideo(t *testing.T, memberID snowflake.ID, pt domain.ProcessingType, duration float64) *usecase.CompleteUploadOutput {
	t.Helper()
	ctx := context.Background()
	up, err := f.uploads.Execute(ctx, usecase.UploadVideoInput{
		MemberID:         memberID,
		OriginalFilename: "holiday.mp4",
		SizeBytes:        1 << 20,
		ContentType:      "video/mp4",
		ProcessingType:   pt,
	})
	require.NoError(t, err)
	out, err := f.uploads.CompleteUpload(ctx, usecase.CompleteUploadInput{
		MemberID: memberID,
		VideoID:  up.Video.ID,
		Metadata: domain.VideoMetadata{DurationSeconds: duration},
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) notificationsOf(t *testing.T, memberID snowflake.ID) []domain.Notification {
	t.Helper()
	items, err := f.notifications.List(context.Background(), memberID, false, 100, 0)
	require.NoError(t, err)
	return items
}

func (f *fixture) ledgerOf(t *testing.T, memberID snowflake.ID) []domain.CreditTransaction {
	t.Helper()
	page, err := f.ledger.History(context.Background(), memberID, 100, 0)
	require.NoError(t, err)
	return page.Items
}

func processedFile() domain.ProcessedFile {
	return domain.ProcessedFile{
		File:     domain.FileDescriptor{Name: "out.mp4", SizeBytes: 2048, StorageKey: "processed/out.mp4"},
		Metadata: domain.VideoMetadata{DurationSeconds: 120.5, Width: 3840, Height: 2160},
	}
}
