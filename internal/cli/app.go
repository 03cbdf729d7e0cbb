package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"spiritcore/internal/archive"
	"spiritcore/internal/blob"
	"spiritcore/internal/config"
	"spiritcore/internal/core"
	"spiritcore/internal/logger"
	"spiritcore/pkg/domain"
)

// app is the per-invocation wiring: configuration, logger, store, service
// and archive. Every command opens one and closes it before returning.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      core.PersistentStore
	closeStore func() error
	svc        *core.Service
	session    core.Session
	blobs      blob.Store
	archiver   *archive.Archiver
	registry   *prometheus.Registry
	dispatcher *core.Dispatcher
	pending    []*core.Pending[blob.Info]
	opts       *RootOptions
}

// operationTally is published once per process as the spiritctl_operations expvar.
var operationTally = core.NewExpvarMetricsRecorder("spiritctl_operations")

func openApp(ctx context.Context, o *RootOptions, in io.Reader, out, errOut io.Writer) (*app, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	log := o.logger
	if log == nil {
		if log, err = logger.New(cfg.Log.Mode); err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}
	store, closeStore, err := core.OpenPersistentStore(cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		return nil, err
	}
	blobs := o.blobs
	if blobs == nil {
		if blobs, err = blob.Open(ctx, cfg.Blob); err != nil {
			_ = closeStore()
			return nil, err
		}
	}
	registry := prometheus.NewRegistry()
	prom, err := core.NewPrometheusMetricsRecorder(registry, cfg.Metrics.Namespace)
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	svcOpts := []core.Option{
		core.WithLogger(log),
		core.WithMetrics(core.MultiRecorder{prom, operationTally}),
		core.WithNotifier(changeLogger(log)),
		core.WithEditGuard(core.NewEditGuard()),
	}
	if o.Trace {
		svcOpts = append(svcOpts, core.WithTracer(core.NewJSONTracer(errOut)))
	}
	return &app{
		cfg:        cfg,
		logger:     log,
		store:      store,
		closeStore: closeStore,
		svc:        core.NewService(store, svcOpts...),
		session: core.Session{
			User:      o.User,
			Rights:    core.NewCachedRights(nil, 0, 0),
			Confirmer: newPromptConfirmer(in, out, o.Yes),
		},
		blobs:      blobs,
		archiver:   archive.New(blobs, archive.WithLogger(log)),
		registry:   registry,
		dispatcher: core.NewDispatcher(1),
		opts:       o,
	}, nil
}

func changeLogger(log *zap.Logger) core.Notifier {
	return core.NotifierFunc(func(kind core.ChangeKind, entity domain.EntityType, entities []any) {
		log.Info("entities changed",
			zap.String("kind", string(kind)),
			zap.String("entity", string(entity)),
			zap.Int("count", len(entities)))
	})
}

// changed schedules a snapshot archive after a successful edit when --archive is set.
func (a *app) changed(ctx context.Context) {
	if !a.opts.Archive {
		return
	}
	src, ok := a.store.(archive.Source)
	if !ok {
		a.logger.Warn("store cannot be archived", zap.String("driver", a.cfg.Storage.Driver))
		return
	}
	a.pending = append(a.pending, core.Submit(a.dispatcher, ctx, func(ctx context.Context) (blob.Info, error) {
		return a.archiver.Export(ctx, src)
	}))
}

// close drains queued work, waits for the edit guard to go idle and releases the store.
func (a *app) close(ctx context.Context) error {
	a.dispatcher.Wait()
	var firstErr error
	for _, p := range a.pending {
		if _, err := p.Result(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("archive snapshot: %w", err)
		}
	}
	if !a.svc.Guard().AwaitIdle(ctx, a.cfg.Guard.Attempts, a.cfg.Guard.Interval) {
		a.logger.Warn("edit guard still busy at shutdown", zap.Int("depth", a.svc.Guard().Depth()))
	}
	if a.opts.Verbose {
		a.logMetrics()
	}
	if err := a.closeStore(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close store: %w", err)
	}
	_ = a.logger.Sync()
	return firstErr
}

func (a *app) logMetrics() {
	for op, t := range operationTally.Tally() {
		a.logger.Info("operation tally",
			zap.String("operation", op),
			zap.Int64("succeeded", t.Succeeded),
			zap.Int64("failed", t.Failed),
			zap.Float64("total_ms", t.TotalMS))
	}
	families, err := a.registry.Gather()
	if err != nil {
		a.logger.Warn("gather metrics", zap.Error(err))
		return
	}
	for _, mf := range families {
		a.logger.Info("metric", zap.String("name", mf.GetName()), zap.Int("series", len(mf.GetMetric())))
	}
}

func (a *app) study(ctx context.Context, code string) (core.Study, error) {
	return a.svc.FindStudyByCode(ctx, code)
}

// group resolves ref within the study by id or short name.
func (a *app) group(ctx context.Context, study core.Study, ref string) (core.Group, error) {
	groups, err := a.svc.Groups(ctx, study.ID)
	if err != nil {
		return core.Group{}, err
	}
	for _, g := range groups {
		if g.ID == ref || g.ShortName == ref {
			return g, nil
		}
	}
	return core.Group{}, core.ErrNotFound{Entity: domain.EntityGroup, ID: ref}
}

// phase resolves ref within the study by id or name.
func (a *app) phase(ctx context.Context, study core.Study, ref string) (core.Phase, error) {
	phases, err := a.svc.Phases(ctx, study.ID)
	if err != nil {
		return core.Phase{}, err
	}
	for _, p := range phases {
		if p.ID == ref || p.Name == ref {
			return p, nil
		}
	}
	return core.Phase{}, core.ErrNotFound{Entity: domain.EntityPhase, ID: ref}
}
