// Package syncer implements the checkpoint synchronization loop: it polls a
// transport for advertised versions and keeps the local store converged on
// the newest window of them, retrying versions that are missing or failed
// and sweeping versions that aged out of the retention horizon.
package syncer

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/sync/errgroup"

	"github.com/shardsyncio/go-shardsync/common/types"
	"github.com/shardsyncio/go-shardsync/store"
)

type Config struct {
	// PollInterval is how long the loop sleeps between ticks.
	PollInterval time.Duration `mapstructure:"poll-interval"`

	// WindowSize is the number of newest advertised versions to always keep
	// fetched.
	WindowSize int `mapstructure:"window-size"`

	// VersionsToKeep bounds how far back local versions are retained: after
	// version v is fetched, v-VersionsToKeep is deleted. -1 keeps everything.
	VersionsToKeep int `mapstructure:"versions-to-keep"`

	// BacklogVersion starts a monotone sweep through historical versions at
	// the given version. NoVersion disables the sweep.
	BacklogVersion types.Version `mapstructure:"backlog-version"`
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   5 * time.Second,
		WindowSize:     2,
		VersionsToKeep: -1,
		BacklogVersion: types.NoVersion,
	}
}

// Syncer owns all cross-tick synchronization state. The missing and logged
// sets are soft bookkeeping: losing them on restart costs only redundant
// retries and log lines, never artifact correctness, because the store's
// stable markers are the durable source of truth.
type Syncer struct {
	logger    *zap.Logger
	cfg       Config
	clock     clockwork.Clock
	store     *store.Store
	transport Transport

	backlog     types.Version
	missing     map[types.Version]struct{}
	logged      map[types.Version]struct{}
	warnedEmpty bool
	highest     types.Version

	once sync.Once
	eg   errgroup.Group
}

type Opt func(*Syncer)

func WithConfig(cfg Config) Opt {
	return func(s *Syncer) {
		s.cfg = cfg
	}
}

func WithLogger(logger *zap.Logger) Opt {
	return func(s *Syncer) {
		s.logger = logger
	}
}

func WithClock(clock clockwork.Clock) Opt {
	return func(s *Syncer) {
		s.clock = clock
	}
}

func New(transport Transport, st *store.Store, opts ...Opt) *Syncer {
	s := &Syncer{
		logger:    zap.NewNop(),
		cfg:       DefaultConfig(),
		clock:     clockwork.NewRealClock(),
		store:     st,
		transport: transport,
		missing:   make(map[types.Version]struct{}),
		logged:    make(map[types.Version]struct{}),
		highest:   types.NoVersion,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.backlog = s.cfg.BacklogVersion
	return s
}

// Start runs the synchronization loop until ctx is canceled.
func (s *Syncer) Start(ctx context.Context) {
	s.once.Do(func() {
		s.eg.Go(func() error {
			if stable, err := s.store.StableVersions(); err != nil {
				s.logger.Warn("failed to scan local versions", zap.Error(err))
			} else if len(stable) > 0 {
				s.highest = stable[len(stable)-1]
				stableVersion.Set(float64(s.highest))
				s.logger.Info("found stable local versions", versionsField("versions", stable))
			}
			for {
				s.Synchronize(ctx)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-s.clock.After(s.cfg.PollInterval):
				}
			}
		})
	})
}

func (s *Syncer) Close() {
	s.eg.Wait()
}

// Missing returns the versions currently believed unreachable, ascending.
func (s *Syncer) Missing() []types.Version {
	missing := maps.Keys(s.missing)
	slices.Sort(missing)
	return missing
}

// Backlog returns the next backlog cursor value, or NoVersion when backlog
// mode is off.
func (s *Syncer) Backlog() types.Version {
	return s.backlog
}

// Synchronize runs one tick: poll the catalog, plan the target set and
// reconcile every targeted version. No per-version failure escapes a tick;
// failed versions land in the missing set and are retried indefinitely.
func (s *Syncer) Synchronize(ctx context.Context) {
	available, err := s.transport.ListAvailable(ctx)
	if err != nil {
		// an unreachable store must not terminate the loop, next tick retries
		s.logger.Warn("failed to list available versions", zap.Error(err))
		available = nil
	}
	catalog := make(map[types.Version]struct{}, len(available))
	for _, v := range available {
		catalog[v] = struct{}{}
	}
	if len(catalog) == 0 {
		if !s.warnedEmpty {
			s.logger.Warn("no versions available")
			s.warnedEmpty = true
		}
		return
	}
	sorted := maps.Keys(catalog)
	slices.Sort(sorted)
	target := s.plan(sorted)
	s.reconcile(ctx, catalog, target)
	missing := s.Missing()
	missingVersions.Set(float64(len(missing)))
	s.logger.Info("synchronized",
		versionsField("available", sorted),
		versionsField("target", target),
		versionsField("missing", missing),
	)
}

// plan computes the target set for this tick: the newest WindowSize versions
// of the catalog, the backlog cursor if the sweep is active, and everything
// in the missing set. The cursor advances regardless of fetch outcome: a
// permanently missing historical version must not stall the sweep, it is
// retried through the missing set instead.
func (s *Syncer) plan(sorted []types.Version) []types.Version {
	target := make(map[types.Version]struct{}, s.cfg.WindowSize+len(s.missing)+1)
	start := len(sorted) - s.cfg.WindowSize
	if start < 0 {
		start = 0
	}
	if start > len(sorted) {
		start = len(sorted)
	}
	for _, v := range sorted[start:] {
		target[v] = struct{}{}
	}
	if s.backlog != types.NoVersion {
		target[s.backlog] = struct{}{}
		s.backlog++
	}
	maps.Copy(target, s.missing)
	planned := maps.Keys(target)
	slices.Sort(planned)
	return planned
}

func (s *Syncer) reconcile(ctx context.Context, catalog map[types.Version]struct{}, target []types.Version) {
	for _, v := range target {
		if _, ok := catalog[v]; !ok {
			s.warnOnce(v, "version not found on server")
			s.missing[v] = struct{}{}
			continue
		}
		stable, err := s.store.Stable(v)
		if err != nil {
			s.logger.Warn("failed to check local version", v.Field(), zap.Error(err))
			s.missing[v] = struct{}{}
			continue
		}
		if stable {
			s.logOnce(v, "version already exists locally")
			delete(s.missing, v)
			continue
		}
		s.fetch(ctx, v)
	}
}

func (s *Syncer) fetch(ctx context.Context, v types.Version) {
	s.logger.Info("downloading version", v.Field())
	start := s.clock.Now()
	path, err := s.transport.Fetch(ctx, v.Name(), s.store.PayloadPath(v))
	if err != nil {
		fetchFailures.Inc()
		s.logger.Warn("failed to download version", v.Field(), zap.Error(err))
		s.missing[v] = struct{}{}
		return
	}
	if path == "" {
		// not fully distributed yet, the next tick tries again
		s.logger.Debug("version not ready", v.Field())
		return
	}
	elapsed := s.clock.Since(start)
	fetchDuration.Observe(elapsed.Seconds())
	s.logger.Info("downloaded version", v.Field(), zap.Duration("elapsed", elapsed))
	if err := s.store.MarkStable(v); err != nil {
		fetchFailures.Inc()
		s.logger.Warn("failed to mark version stable", v.Field(), zap.Error(err))
		s.missing[v] = struct{}{}
		return
	}
	versionsFetched.Inc()
	if v > s.highest {
		s.highest = v
		stableVersion.Set(float64(v))
	}
	delete(s.missing, v)
	s.retain(v)
}

// retain deletes the version that fell out of the retention horizon after a
// successful fetch of v. Deletion is never fatal: a version that is already
// gone, or never existed because v-VersionsToKeep underflowed, only warrants
// a warning.
func (s *Syncer) retain(v types.Version) {
	if s.cfg.VersionsToKeep < 0 {
		return
	}
	expired := v - types.Version(s.cfg.VersionsToKeep)
	s.logger.Info("deleting expired version", zap.Int64("expired", int64(expired)))
	status, err := s.store.Remove(expired)
	switch {
	case err != nil:
		s.logger.Warn("failed to delete expired version", zap.Int64("expired", int64(expired)), zap.Error(err))
	case status == store.NotFound:
		s.logger.Warn("expired version not found", zap.Int64("expired", int64(expired)))
	default:
		versionsRemoved.Inc()
	}
}

func (s *Syncer) logOnce(v types.Version, msg string) {
	if _, ok := s.logged[v]; ok {
		return
	}
	s.logged[v] = struct{}{}
	s.logger.Info(msg, v.Field())
}

func (s *Syncer) warnOnce(v types.Version, msg string) {
	if _, ok := s.logged[v]; ok {
		return
	}
	s.logged[v] = struct{}{}
	s.logger.Warn(msg, v.Field())
}

func versionsField(key string, versions []types.Version) zap.Field {
	values := make([]int64, len(versions))
	for i, v := range versions {
		values[i] = int64(v)
	}
	return zap.Int64s(key, values)
}
