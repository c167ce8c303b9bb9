package camera_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"catwatch/internal/camera"
	"catwatch/internal/logger"
	"catwatch/internal/metrics"
	"catwatch/internal/status"
	"catwatch/internal/testutil"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultConstraints = camera.Constraints{FacingMode: camera.FacingUser, Width: 1280, Height: 720}

type fixture struct {
	opener  *testutil.FakeOpener
	manager *camera.Manager
	board   *status.Board
	journal *logger.Journal
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, opener camera.Opener) *fixture {
	t.Helper()
	f := &fixture{
		board:   status.NewBoard(),
		journal: logger.NewJournal(nil),
		metrics: metrics.New(),
	}
	if fake, ok := opener.(*testutil.FakeOpener); ok {
		f.opener = fake
	}
	f.manager = camera.NewManager(opener, camera.NewSurface(), f.board, f.journal, f.metrics, time.Second)
	t.Cleanup(func() { f.manager.Release() })
	return f
}

func TestAcquire_Success(t *testing.T) {
	f := newFixture(t, &testutil.FakeOpener{})

	require.NoError(t, f.manager.Acquire(context.Background(), defaultConstraints))

	assert.True(t, f.manager.Active())
	assert.Equal(t, status.CameraStarted, f.board.Text())
	assert.Equal(t, []camera.Constraints{defaultConstraints}, f.opener.Calls())
	assert.Equal(t, camera.HaveEnoughData, f.manager.Surface().ReadyState())

	frame, ok := f.manager.Surface().Frame()
	require.True(t, ok)
	assert.False(t, frame.Empty())
}

func TestAcquire_NotAllowedRetriesOnceThenFails(t *testing.T) {
	f := newFixture(t, &testutil.FakeOpener{
		Errors: []error{camera.ErrNotAllowed, camera.ErrNotAllowed, nil},
	})

	err := f.manager.Acquire(context.Background(), defaultConstraints)

	require.ErrorIs(t, err, camera.ErrNotAllowed)
	calls := f.opener.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, defaultConstraints, calls[0])
	assert.Equal(t, camera.FallbackConstraints, calls[1])
	assert.Equal(t, status.NoCamera, f.board.Text())
	assert.False(t, f.manager.Active())
}

func TestAcquire_NotFoundFallsBackToFrontCamera(t *testing.T) {
	f := newFixture(t, &testutil.FakeOpener{Errors: []error{camera.ErrNotFound}})

	require.NoError(t, f.manager.Acquire(context.Background(), camera.Constraints{FacingMode: camera.FacingEnvironment, Width: 1280, Height: 720}))

	calls := f.opener.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, camera.Constraints{FacingMode: camera.FacingUser}, calls[1])
	assert.Equal(t, status.CameraStarted, f.board.Text())
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.CameraAcquisitions.WithLabelValues(metrics.AcquireFallback)))
}

func TestAcquire_OtherErrorsDoNotRetry(t *testing.T) {
	boom := errors.New("device busy")
	tests := []struct {
		name   string
		err    error
		status string
	}{
		{"generic", boom, status.CameraError},
		{"unsupported", camera.ErrUnsupported, status.Unsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &testutil.FakeOpener{Errors: []error{tt.err}})

			err := f.manager.Acquire(context.Background(), defaultConstraints)

			assert.ErrorIs(t, err, tt.err)
			assert.Len(t, f.opener.Calls(), 1)
			assert.Equal(t, tt.status, f.board.Text())
		})
	}
}

func TestAcquire_NilOpenerIsUnsupported(t *testing.T) {
	f := newFixture(t, nil)

	err := f.manager.Acquire(context.Background(), defaultConstraints)

	assert.ErrorIs(t, err, camera.ErrUnsupported)
	assert.Equal(t, status.Unsupported, f.board.Text())
}

func TestAcquire_TimesOutWithoutFrames(t *testing.T) {
	opener := &testutil.FakeOpener{NewStream: func() *testutil.FakeStream {
		return &testutil.FakeStream{NoFrames: true}
	}}
	f := newFixture(t, opener)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := f.manager.Acquire(ctx, defaultConstraints)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.manager.Active())
	assert.Equal(t, 0, opener.OpenStreams())
}

func TestActive_DoesNotWaitForPendingAcquire(t *testing.T) {
	opener := &testutil.FakeOpener{NewStream: func() *testutil.FakeStream {
		return &testutil.FakeStream{NoFrames: true}
	}}
	f := newFixture(t, opener)

	ctx, cancel := context.WithCancel(context.Background())
	acquired := make(chan error, 1)
	go func() { acquired <- f.manager.Acquire(ctx, defaultConstraints) }()
	require.Eventually(t, func() bool { return len(opener.Calls()) == 1 }, time.Second, time.Millisecond)

	answered := make(chan bool, 1)
	go func() { answered <- f.manager.Active() }()
	select {
	case <-answered:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Active blocked behind the first frame wait")
	}

	cancel()
	assert.ErrorIs(t, <-acquired, context.Canceled)
	assert.False(t, f.manager.Active())
}

func TestAcquire_StreamEndsBeforeFirstFrame(t *testing.T) {
	opener := &testutil.FakeOpener{NewStream: func() *testutil.FakeStream {
		s := &testutil.FakeStream{}
		s.Close()
		return s
	}}
	f := newFixture(t, opener)

	err := f.manager.Acquire(context.Background(), defaultConstraints)

	assert.ErrorIs(t, err, camera.ErrStreamEnded)
	assert.False(t, f.manager.Active())
}

func TestAcquire_ReplacesPreviousStream(t *testing.T) {
	opener := &testutil.FakeOpener{}
	f := newFixture(t, opener)

	require.NoError(t, f.manager.Acquire(context.Background(), defaultConstraints))
	require.NoError(t, f.manager.Acquire(context.Background(), defaultConstraints))

	streams := opener.Streams()
	require.Len(t, streams, 2)
	assert.True(t, streams[0].Closed())
	assert.False(t, streams[1].Closed())
	assert.Equal(t, 1, opener.OpenStreams())
}

func TestRelease_Idempotent(t *testing.T) {
	opener := &testutil.FakeOpener{}
	f := newFixture(t, opener)
	require.NoError(t, f.manager.Acquire(context.Background(), defaultConstraints))

	assert.NoError(t, f.manager.Release())
	assert.NoError(t, f.manager.Release())

	assert.False(t, f.manager.Active())
	assert.Equal(t, 0, opener.OpenStreams())
	assert.Equal(t, camera.HaveNothing, f.manager.Surface().ReadyState())
	_, ok := f.manager.Surface().Frame()
	assert.False(t, ok)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.CameraReleases))
}

func TestRelease_WithoutStream(t *testing.T) {
	f := newFixture(t, &testutil.FakeOpener{})

	assert.NoError(t, f.manager.Release())
	assert.NoError(t, f.manager.Release())
	assert.Empty(t, f.journal.Entries())
}
