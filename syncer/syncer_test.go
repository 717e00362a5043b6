package syncer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shardsyncio/go-shardsync/common/types"
	"github.com/shardsyncio/go-shardsync/store"
	"github.com/shardsyncio/go-shardsync/syncer"
)

const root = "/data"

type testSyncer struct {
	*syncer.Syncer
	transport *syncer.MockTransport
	fs        afero.Fs
	store     *store.Store
	clock     clockwork.FakeClock
}

func newTestSyncer(t *testing.T, cfg syncer.Config, opts ...syncer.Opt) *testSyncer {
	t.Helper()
	ctrl := gomock.NewController(t)
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(root, 0o700))
	st := store.New(root, store.WithFilesystem(fs))
	ts := &testSyncer{
		transport: syncer.NewMockTransport(ctrl),
		fs:        fs,
		store:     st,
		clock:     clockwork.NewFakeClock(),
	}
	opts = append([]syncer.Opt{
		syncer.WithConfig(cfg),
		syncer.WithLogger(zaptest.NewLogger(t)),
		syncer.WithClock(ts.clock),
	}, opts...)
	ts.Syncer = syncer.New(ts.transport, st, opts...)
	return ts
}

func catalog(versions ...types.Version) map[string]types.Version {
	available := make(map[string]types.Version, len(versions))
	for _, v := range versions {
		available[v.Name()] = v
	}
	return available
}

func (ts *testSyncer) expectFetch(t *testing.T, v types.Version) *syncer.MockTransportFetchCall {
	t.Helper()
	return ts.transport.EXPECT().
		Fetch(gomock.Any(), v.Name(), ts.store.PayloadPath(v)).
		DoAndReturn(func(_ context.Context, name, dst string) (string, error) {
			require.NoError(t, afero.WriteFile(ts.fs, dst, []byte(name), 0o600))
			return dst, nil
		})
}

func (ts *testSyncer) makeStable(t *testing.T, v types.Version) {
	t.Helper()
	require.NoError(t, afero.WriteFile(ts.fs, ts.store.PayloadPath(v), []byte(v.Name()), 0o600))
	require.NoError(t, ts.store.MarkStable(v))
}

func (ts *testSyncer) requireStable(t *testing.T, v types.Version, want bool) {
	t.Helper()
	stable, err := ts.store.Stable(v)
	require.NoError(t, err)
	require.Equal(t, want, stable)
}

func TestSlidingWindowWithRetention(t *testing.T) {
	t.Parallel()

	cfg := syncer.DefaultConfig()
	cfg.WindowSize = 2
	cfg.VersionsToKeep = 2
	ts := newTestSyncer(t, cfg)
	// versions that will age out once 6 and 7 arrive
	ts.makeStable(t, 4)
	ts.makeStable(t, 5)

	ts.transport.EXPECT().ListAvailable(gomock.Any()).Return(catalog(3, 4, 5, 6, 7), nil)
	ts.expectFetch(t, 6)
	ts.expectFetch(t, 7)
	ts.Synchronize(context.Background())

	ts.requireStable(t, 6, true)
	ts.requireStable(t, 7, true)
	for _, expired := range []types.Version{4, 5} {
		ts.requireStable(t, expired, false)
		exists, err := afero.Exists(ts.fs, ts.store.PayloadPath(expired))
		require.NoError(t, err)
		require.False(t, exists)
	}
	require.Empty(t, ts.Missing())
}

func TestWindowLargerThanCatalog(t *testing.T) {
	t.Parallel()

	cfg := syncer.DefaultConfig()
	cfg.WindowSize = 5
	ts := newTestSyncer(t, cfg)

	ts.transport.EXPECT().ListAvailable(gomock.Any()).Return(catalog(1, 2), nil)
	ts.expectFetch(t, 1)
	ts.expectFetch(t, 2)
	ts.Synchronize(context.Background())

	ts.requireStable(t, 1, true)
	ts.requireStable(t, 2, true)
	require.Empty(t, ts.Missing())
}

func TestMissingSetConvergence(t *testing.T) {
	t.Parallel()

	cfg := syncer.DefaultConfig()
	cfg.WindowSize = 2
	cfg.BacklogVersion = 3
	ts := newTestSyncer(t, cfg)
	ctx := context.Background()

	// tick 1: backlog cursor 3 is not on the server yet
	ts.transport.EXPECT().ListAvailable(gomock.Any()).Return(catalog(10), nil)
	ts.expectFetch(t, 10)
	ts.Synchronize(ctx)
	require.Equal(t, []types.Version{3}, ts.Missing())
	require.Equal(t, types.Version(4), ts.Backlog())

	// tick 2: 3 still absent, cursor 4 also lands in the missing set
	ts.transport.EXPECT().ListAvailable(gomock.Any()).Return(catalog(10, 11), nil)
	ts.expectFetch(t, 11)
	ts.Synchronize(ctx)
	require.Equal(t, []types.Version{3, 4}, ts.Missing())
	require.Equal(t, types.Version(5), ts.Backlog())

	// tick 3: 3 appears in the catalog and converges out of the missing set
	ts.transport.EXPECT().ListAvailable(gomock.Any()).Return(catalog(3, 10, 11), nil)
	ts.expectFetch(t, 3)
	ts.Synchronize(ctx)
	require.Equal(t, []types.Version{4, 5}, ts.Missing())
	ts.requireStable(t, 3, true)
}

func TestIdempotentRepoll(t *testing.T) {
	t.Parallel()

	cfg := syncer.DefaultConfig()
	cfg.WindowSize = 1
	ts := newTestSyncer(t, cfg)
	ts.makeStable(t, 5)

	// no Fetch expectations: a stable version must never be re-fetched
	ts.transport.EXPECT().ListAvailable(gomock.Any()).Return(catalog(5), nil).Times(2)
	ts.Synchronize(context.Background())
	ts.Synchronize(context.Background())

	ts.requireStable(t, 5, true)
	data, err := afero.ReadFile(ts.fs, ts.store.PayloadPath(5))
	require.NoError(t, err)
	require.Equal(t, []byte(types.Version(5).Name()), data)
}

func TestRetentionToleratesAbsentExpired(t *testing.T) {
	t.Parallel()

	cfg := syncer.DefaultConfig()
	cfg.WindowSize = 1
	cfg.VersionsToKeep = 10
	ts := newTestSyncer(t, cfg)

	// expired version 5-10 is negative and must be a silent no-op
	ts.transport.EXPECT().ListAvailable(gomock.Any()).Return(catalog(5), nil)
	ts.expectFetch(t, 5)
	ts.Synchronize(context.Background())

	ts.requireStable(t, 5, true)
	require.Empty(t, ts.Missing())
}

func TestFailureIsolation(t *testing.T) {
	t.Parallel()

	cfg := syncer.DefaultConfig()
	cfg.WindowSize = 3
	ts := newTestSyncer(t, cfg)
	ctx := context.Background()

	ts.transport.EXPECT().ListAvailable(gomock.Any()).Return(catalog(1, 2, 3), nil)
	ts.expectFetch(t, 1)
	ts.transport.EXPECT().
		Fetch(gomock.Any(), types.Version(2).Name(), ts.store.PayloadPath(2)).
		Return("", errors.New("connection reset"))
	ts.expectFetch(t, 3)
	ts.Synchronize(ctx)

	ts.requireStable(t, 1, true)
	ts.requireStable(t, 3, true)
	require.Equal(t, []types.Version{2}, ts.Missing())

	// next tick retries only the failed version
	ts.transport.EXPECT().ListAvailable(gomock.Any()).Return(catalog(1, 2, 3), nil)
	ts.expectFetch(t, 2)
	ts.Synchronize(ctx)
	require.Empty(t, ts.Missing())
	ts.requireStable(t, 2, true)
}

func TestFetchNoop(t *testing.T) {
	t.Parallel()

	cfg := syncer.DefaultConfig()
	cfg.WindowSize = 1
	ts := newTestSyncer(t, cfg)

	// transport declines: version not fully distributed yet
	ts.transport.EXPECT().ListAvailable(gomock.Any()).Return(catalog(7), nil)
	ts.transport.EXPECT().
		Fetch(gomock.Any(), types.Version(7).Name(), ts.store.PayloadPath(7)).
		Return("", nil)
	ts.Synchronize(context.Background())

	ts.requireStable(t, 7, false)
	require.Empty(t, ts.Missing())
}

func TestBacklogSweepMonotonicity(t *testing.T) {
	t.Parallel()

	cfg := syncer.DefaultConfig()
	cfg.WindowSize = 0
	cfg.BacklogVersion = 5
	ts := newTestSyncer(t, cfg)
	ctx := context.Background()

	ts.transport.EXPECT().ListAvailable(gomock.Any()).Return(catalog(100), nil)
	ts.Synchronize(ctx)
	require.Equal(t, []types.Version{5}, ts.Missing())
	require.Equal(t, types.Version(6), ts.Backlog())

	// empty catalog does not advance the cursor
	ts.transport.EXPECT().ListAvailable(gomock.Any()).Return(nil, nil)
	ts.Synchronize(ctx)
	require.Equal(t, types.Version(6), ts.Backlog())
	require.Equal(t, []types.Version{5}, ts.Missing())

	// a transport error counts as an empty catalog too
	ts.transport.EXPECT().ListAvailable(gomock.Any()).Return(nil, errors.New("unreachable"))
	ts.Synchronize(ctx)
	require.Equal(t, types.Version(6), ts.Backlog())

	ts.transport.EXPECT().ListAvailable(gomock.Any()).Return(catalog(100), nil)
	ts.Synchronize(ctx)
	require.Equal(t, []types.Version{5, 6}, ts.Missing())
	require.Equal(t, types.Version(7), ts.Backlog())
}

func TestEmptyCatalogWarnsOnce(t *testing.T) {
	t.Parallel()

	core, logged := observer.New(zap.WarnLevel)
	cfg := syncer.DefaultConfig()
	ts := newTestSyncer(t, cfg, syncer.WithLogger(zap.New(core)))

	ts.transport.EXPECT().ListAvailable(gomock.Any()).Return(nil, nil).Times(3)
	for i := 0; i < 3; i++ {
		ts.Synchronize(context.Background())
	}
	require.Len(t, logged.FilterMessage("no versions available").All(), 1)
}

func TestNotFoundLoggedOnce(t *testing.T) {
	t.Parallel()

	core, logged := observer.New(zap.WarnLevel)
	cfg := syncer.DefaultConfig()
	cfg.WindowSize = 0
	cfg.BacklogVersion = 3
	ts := newTestSyncer(t, cfg, syncer.WithLogger(zap.New(core)))

	ts.transport.EXPECT().ListAvailable(gomock.Any()).Return(catalog(100), nil).Times(2)
	ts.Synchronize(context.Background())
	ts.Synchronize(context.Background())

	// 3 stayed missing across both ticks but is logged exactly once
	notFound := logged.FilterMessage("version not found on server")
	require.Len(t, notFound.FilterField(zap.Int64("version", 3)).All(), 1)
}

func TestStartClose(t *testing.T) {
	t.Parallel()

	cfg := syncer.DefaultConfig()
	cfg.PollInterval = time.Minute
	ts := newTestSyncer(t, cfg)

	ticks := make(chan struct{}, 16)
	ts.transport.EXPECT().ListAvailable(gomock.Any()).
		DoAndReturn(func(context.Context) (map[string]types.Version, error) {
			ticks <- struct{}{}
			return nil, nil
		}).
		AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts.Start(ctx)
	t.Cleanup(ts.Close)

	waitTick := func() {
		select {
		case <-ticks:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for tick")
		}
	}
	waitTick()
	ts.clock.BlockUntil(1)
	ts.clock.Advance(cfg.PollInterval)
	waitTick()
	cancel()
}
