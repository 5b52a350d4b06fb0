package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"triagetree/internal/infra/persistence/memory"
	"triagetree/pkg/domain"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// Service is the tree consistency engine. Every mutating method runs in
// exactly one store transaction.
type Service struct {
	store        PersistentStore
	engine       *RulesEngine
	now          func() time.Time
	clock        Clock
	logger       Logger
	metrics      MetricsRecorder
	tracer       Tracer
	etags        ETagCache
	newDraftID   func() string
	defaultLimit int
	maxLimit     int
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the clock used for undo and publish markers.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger routes operation logs to logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder records one observation per operation.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer wraps every operation in a span.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithETagCache stores computed resource ETags and invalidates them after
// committed mutations.
func WithETagCache(cache ETagCache) Option {
	return func(s *Service) {
		if cache != nil {
			s.etags = cache
		}
	}
}

// WithPagination sets the default and maximum report page sizes.
func WithPagination(defaultLimit, maxLimit int) Option {
	return func(s *Service) {
		if defaultLimit > 0 {
			s.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
	}
}

// WithDraftIDGenerator overrides draft identifier generation.
func WithDraftIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newDraftID = fn
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	svc := &Service{
		store:        store,
		engine:       extractRulesEngine(store),
		logger:       noopLogger{},
		metrics:      noopMetrics{},
		tracer:       noopTracer{},
		newDraftID:   uuid.NewString,
		defaultLimit: defaultPageLimit,
		maxLimit:     maxPageLimit,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.defaultLimit > svc.maxLimit {
		svc.defaultLimit = svc.maxLimit
	}
	svc.now = selectNowFunc(store, svc.clock)
	return svc
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// RulesEngine returns the engine evaluated on commit, if the store exposes one.
func (s *Service) RulesEngine() *RulesEngine { return s.engine }

// run wraps an operation with tracing, metrics, and logging. Errors are
// classified before they reach any of them.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := classifyError(fn(ctx))
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err == nil {
		s.logger.Debug("operation completed", "op", op, "duration", duration)
		return nil
	}
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindIntegrity, domain.KindFatal, domain.KindUnknown:
		s.logger.Error("operation failed", "op", op, "kind", kind, "duration", duration, "error", err)
	default:
		s.logger.Warn("operation rejected", "op", op, "kind", kind, "duration", duration, "error", err)
	}
	return err
}

// view runs fn against a committed snapshot.
func (s *Service) view(ctx context.Context, fn func(TransactionView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.store.View(ctx, fn)
}

// transact runs fn in one store transaction. On commit it logs non-blocking
// rule findings and invalidates cached ETags for every touched node.
func (s *Service) transact(ctx context.Context, fn func(Transaction) error) error {
	var tracked *trackingTx
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		tracked = newTrackingTx(tx)
		return fn(tracked)
	})
	if err != nil {
		return err
	}
	for _, v := range res.Violations {
		s.logger.Warn("rule finding", "rule", v.Rule, "severity", v.Severity, "entity_id", v.EntityID, "message", v.Message)
	}
	if tracked != nil {
		s.invalidate(ctx, tracked.keys())
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, keys []string) {
	if s.etags == nil || len(keys) == 0 {
		return
	}
	if err := s.etags.Invalidate(ctx, keys...); err != nil {
		s.logger.Warn("etag invalidation failed", "keys", len(keys), "error", err)
	}
}

// trackingTx records every node touched by a transaction so cached
// representations can be invalidated after commit.
type trackingTx struct {
	Transaction
	touched map[int64]struct{}
}

func newTrackingTx(tx Transaction) *trackingTx {
	return &trackingTx{Transaction: tx, touched: make(map[int64]struct{})}
}

func (t *trackingTx) touch(n Node) {
	t.touched[n.ID] = struct{}{}
	if n.ParentID != nil {
		t.touched[*n.ParentID] = struct{}{}
	}
}

func (t *trackingTx) CreateNode(n Node) (Node, error) {
	created, err := t.Transaction.CreateNode(n)
	if err == nil {
		t.touch(created)
	}
	return created, err
}

func (t *trackingTx) UpdateNode(id int64, mutator func(*Node) error) (Node, error) {
	before, ok := t.Transaction.FindNode(id)
	updated, err := t.Transaction.UpdateNode(id, mutator)
	if err == nil {
		if ok {
			t.touch(before)
		}
		t.touch(updated)
	}
	return updated, err
}

func (t *trackingTx) DeleteNode(id int64) error {
	before, ok := t.Transaction.FindNode(id)
	err := t.Transaction.DeleteNode(id)
	if err == nil && ok {
		t.touch(before)
	}
	return err
}

func (t *trackingTx) keys() []string {
	if len(t.touched) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(t.touched))
	for id := range t.touched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	keys := make([]string, 0, len(ids)+1)
	keys = append(keys, TreeETagKey)
	for _, id := range ids {
		keys = append(keys, NodeETagKey(id))
	}
	return keys
}

// appendAudit writes one ledger entry inside tx.
func appendAudit(tx Transaction, rec AuditRecord) (int64, error) {
	payload := domain.UndefinedPayload()
	if rec.Payload != nil {
		p, err := domain.NewPayloadFromValue(rec.Payload)
		if err != nil {
			return 0, fmt.Errorf("encode audit payload: %w", err)
		}
		payload = p
	}
	entry, err := tx.AppendAuditEntry(domain.AuditEntry{
		Operation:  rec.Operation,
		TargetID:   rec.TargetID,
		Actor:      rec.Actor,
		Payload:    payload,
		UndoData:   rec.UndoData,
		IsUndoable: rec.IsUndoable,
	})
	if err != nil {
		return 0, err
	}
	return entry.ID, nil
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

// classifyError maps infrastructure failures onto the error taxonomy.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var kinded domain.Kinded
	if errors.As(err, &kinded) {
		return err
	}
	var violation domain.RuleViolationError
	if errors.As(err, &violation) {
		if violation.BlockedBy(ruleSlotIntegrity) {
			return domain.Wrap(domain.ErrIntegrity, err)
		}
		return domain.Wrap(domain.ErrPostCondition, err)
	}
	return err
}
