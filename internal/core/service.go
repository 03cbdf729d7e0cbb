package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"spiritcore/internal/infra/persistence/memory"
	"spiritcore/pkg/domain"
)

// MetricsRecorder observes the outcome and duration of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts a span around a service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended with the operation's error, if any.
type TraceSpan interface {
	End(err error)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// Service exposes the attachment, cloning and restructuring operations over a
// persistent store.
type Service struct {
	store    domain.PersistentStore
	logger   *zap.Logger
	metrics  MetricsRecorder
	tracer   Tracer
	notifier Notifier
	guard    *EditGuard
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the operation metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(s *Service) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithTracer sets the span tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithNotifier sets the listener for committed changes.
func WithNotifier(notifier Notifier) Option {
	return func(s *Service) { s.notifier = notifier }
}

// WithEditGuard replaces the process-wide edit guard, mainly for tests.
func WithEditGuard(guard *EditGuard) Option {
	return func(s *Service) {
		if guard != nil {
			s.guard = guard
		}
	}
}

// WithClock overrides the time source used for operation timing.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		logger:  zap.NewNop(),
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		guard:   ProcessEditGuard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// Guard returns the edit guard notifications are deferred on.
func (s *Service) Guard() *EditGuard {
	return s.guard
}

// observe wraps an operation with tracing, metrics and a completion log line.
func (s *Service) observe(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	span.End(err)
	elapsed := s.now().Sub(start)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	if err != nil {
		s.logger.Debug("operation failed", zap.String("operation", op), zap.Duration("duration", elapsed), zap.Error(err))
	} else {
		s.logger.Debug("operation finished", zap.String("operation", op), zap.Duration("duration", elapsed))
	}
	return err
}

// run executes fn in one store transaction while holding the edit guard.
// Change notifications are posted on the guard after a successful commit so
// they fire once no edit is in flight.
func (s *Service) run(ctx context.Context, op string, fn func(tx *txScope) error) error {
	s.guard.Enter()
	defer s.guard.Exit()

	var scope *txScope
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		scope = newTxScope(tx)
		return fn(scope)
	})
	for _, v := range res.Violations {
		if v.Severity != domain.SeverityBlock {
			s.logger.Warn("rule violation", zap.String("operation", op), zap.String("rule", v.Rule), zap.String("severity", string(v.Severity)), zap.String("message", v.Message))
		}
	}
	if err != nil {
		return classify(op, err)
	}
	if s.notifier != nil && scope != nil {
		for _, batch := range scope.notifications() {
			batch := batch
			s.guard.Post(func() { s.notifier.Notify(batch.kind, batch.entity, batch.entities) })
		}
	}
	return nil
}

func (s *Service) view(ctx context.Context, fn func(domain.TransactionView) error) error {
	return s.store.View(ctx, fn)
}

// CreateStudy persists a new study.
func (s *Service) CreateStudy(ctx context.Context, study Study) (Study, error) {
	var created Study
	err := s.observe(ctx, "create_study", func(ctx context.Context) error {
		return s.run(ctx, "create_study", func(tx *txScope) error {
			var err error
			created, err = tx.CreateStudy(study)
			return err
		})
	})
	return created, err
}

// CreatePhase persists a new phase.
func (s *Service) CreatePhase(ctx context.Context, phase Phase) (Phase, error) {
	var created Phase
	err := s.observe(ctx, "create_phase", func(ctx context.Context) error {
		return s.run(ctx, "create_phase", func(tx *txScope) error {
			var err error
			created, err = tx.CreatePhase(phase)
			return err
		})
	})
	return created, err
}

// CreateGroup persists a new group.
func (s *Service) CreateGroup(ctx context.Context, group Group) (Group, error) {
	var created Group
	err := s.observe(ctx, "create_group", func(ctx context.Context) error {
		return s.run(ctx, "create_group", func(tx *txScope) error {
			var err error
			created, err = tx.CreateGroup(group)
			return err
		})
	})
	return created, err
}

// CreateStudyAction persists a new study action.
func (s *Service) CreateStudyAction(ctx context.Context, action StudyAction) (StudyAction, error) {
	var created StudyAction
	err := s.observe(ctx, "create_study_action", func(ctx context.Context) error {
		return s.run(ctx, "create_study_action", func(tx *txScope) error {
			var err error
			created, err = tx.CreateStudyAction(action)
			return err
		})
	})
	return created, err
}

// CreateBiosample accessions a new biosample.
func (s *Service) CreateBiosample(ctx context.Context, biosample Biosample) (Biosample, error) {
	var created Biosample
	err := s.observe(ctx, "create_biosample", func(ctx context.Context) error {
		return s.run(ctx, "create_biosample", func(tx *txScope) error {
			var err error
			created, err = tx.CreateBiosample(biosample)
			return err
		})
	})
	return created, err
}

// Attach builds and applies an attachment in one call.
func (s *Service) Attach(ctx context.Context, session Session, req AttachRequest) (AttachOutcome, error) {
	return s.NewAttachment(session, req).Apply(ctx)
}

// FindStudyByCode resolves a study by its human readable code.
func (s *Service) FindStudyByCode(ctx context.Context, code string) (Study, error) {
	var (
		found Study
		ok    bool
	)
	err := s.view(ctx, func(v domain.TransactionView) error {
		for _, st := range v.ListStudies() {
			if st.StudyID == code || st.ID == code {
				found, ok = st, true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return Study{}, err
	}
	if !ok {
		return Study{}, ErrNotFound{Entity: domain.EntityStudy, ID: code}
	}
	return found, nil
}

// Groups lists a study's groups in natural short-name order.
func (s *Service) Groups(ctx context.Context, studyID string) ([]Group, error) {
	var out []Group
	err := s.view(ctx, func(v domain.TransactionView) error {
		out = v.ListGroups(studyID)
		return nil
	})
	return out, err
}

// Phases lists a study's phases in chronological order.
func (s *Service) Phases(ctx context.Context, studyID string) ([]Phase, error) {
	var out []Phase
	err := s.view(ctx, func(v domain.TransactionView) error {
		out = v.ListPhases(studyID)
		return nil
	})
	return out, err
}

// Participants lists the study's attached biosamples, optionally scoped to a phase.
func (s *Service) Participants(ctx context.Context, studyID string, phaseID *string) ([]Biosample, error) {
	var out []Biosample
	err := s.view(ctx, func(v domain.TransactionView) error {
		out = v.ListAttached(studyID, phaseID)
		return nil
	})
	return out, err
}

// BiosampleBySampleID resolves a biosample by its sample id.
func (s *Service) BiosampleBySampleID(ctx context.Context, sampleID string) (Biosample, error) {
	var (
		found Biosample
		ok    bool
	)
	err := s.view(ctx, func(v domain.TransactionView) error {
		found, ok = v.FindBiosampleBySampleID(sampleID)
		return nil
	})
	if err != nil {
		return Biosample{}, err
	}
	if !ok {
		return Biosample{}, ErrNotFound{Entity: domain.EntityBiosample, ID: sampleID}
	}
	return found, nil
}
