package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"ordersaga/internal/pkg/zookeeper"
)

type fakeLocker struct {
	busy     bool
	locked   int
	unlocked int
}

func (l *fakeLocker) Lock(ctx context.Context) error {
	if l.busy {
		<-ctx.Done()
		return zookeeper.ErrLockTimeout
	}
	l.locked++
	return nil
}

func (l *fakeLocker) Unlock() error {
	l.unlocked++
	return nil
}

func newRetryFixture() (*OrderApplicationService, *recordingPublisher) {
	repo := newMemOrderRepo()
	publisher := &recordingPublisher{}
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewOrderApplicationService(repo, &stubCatalog{exists: true}, publisher, nil, noop.NewTracerProvider().Tracer("test"),
		RetryOptions{StaleAfter: time.Second, BatchSize: 10})
	svc.now = func() time.Time { return clock }
	_, _ = svc.CreateOrder(context.Background(), orderRequest(1, "a"))
	clock = clock.Add(time.Minute)
	publisher.events = nil
	return svc, publisher
}

func TestRetryJob_RunOnceWithLock(t *testing.T) {
	svc, publisher := newRetryFixture()
	locker := &fakeLocker{}
	job := NewRetryJob(svc, locker, 40*time.Millisecond)

	n, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, publisher.events, 1)
	assert.Equal(t, 1, locker.locked)
	assert.Equal(t, 1, locker.unlocked)
}

func TestRetryJob_SkipsWhenLockHeldElsewhere(t *testing.T) {
	svc, publisher := newRetryFixture()
	job := NewRetryJob(svc, &fakeLocker{busy: true}, 40*time.Millisecond)

	n, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, publisher.events)
}

func TestRetryJob_WithoutLocker(t *testing.T) {
	svc, publisher := newRetryFixture()
	job := NewRetryJob(svc, nil, time.Second)

	n, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, publisher.events, 1)
}

func TestRetryJob_StartStop(t *testing.T) {
	svc, publisher := newRetryFixture()
	job := NewRetryJob(svc, nil, 10*time.Millisecond)

	require.NoError(t, job.Start(context.Background()))
	assert.Eventually(t, func() bool { return publisher.count() > 0 }, time.Second, 5*time.Millisecond)
	job.Stop(context.Background())
}

func TestRetryJob_RejectsNonPositiveInterval(t *testing.T) {
	svc, _ := newRetryFixture()
	assert.Error(t, NewRetryJob(svc, nil, 0).Start(context.Background()))
}
