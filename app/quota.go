// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/speechquota/domain/period"
	"github.com/artpar/speechquota/domain/plan"
	"github.com/artpar/speechquota/domain/quota"
	"github.com/artpar/speechquota/domain/usage"
	"github.com/artpar/speechquota/domain/wait"
	"github.com/artpar/speechquota/ports"
)

// Metric outcome labels.
const (
	outcomeAllowed   = "allowed"
	outcomeDenied    = "denied"
	outcomeCancelled = "cancelled"
	outcomeError     = "error"
)

// ErrMissingAccount is returned when a request carries no account id.
var ErrMissingAccount = errors.New("account id required")

// ErrStrictNeedsCappedLedger is returned when strict enforcement is configured
// over a ledger that cannot do a capped increment.
var ErrStrictNeedsCappedLedger = errors.New("strict enforcement requires a capped ledger")

// AdmitRequest asks to synthesize Characters for an account.
type AdmitRequest struct {
	AccountID  string
	Characters int64
	Format     plan.Format // Optional
}

// Admission is the outcome of AdmitAndConsume.
type Admission struct {
	ID          string
	Allowed     bool
	WaitSeconds int
	Reason      quota.Reason
	PlanID      string
	PeriodKey   string
	Record      usage.Record // Ledger state after the decision
	Limit       int64
	Remaining   int64
	NextReset   time.Time
}

// QuotaDeps contains dependencies for QuotaService.
type QuotaDeps struct {
	Ledger        ports.Ledger
	Subscriptions ports.SubscriptionStore // Optional; nil means every account is on the default plan
	Clock         ports.Clock
	IDGen         ports.IDGenerator
	Waits         *WaitRegistry
	Metrics       ports.QuotaMetrics // Optional
	Logger        zerolog.Logger
}

// QuotaConfig contains hot-reloadable configuration for QuotaService.
type QuotaConfig struct {
	Catalog      *plan.Catalog
	Enforcement  quota.EnforceMode
	NearLimitPct float64
}

// QuotaService is the single entry point for admission and usage queries.
type QuotaService struct {
	ledger  ports.Ledger
	subs    ports.SubscriptionStore
	clock   ports.Clock
	idGen   ports.IDGenerator
	waits   *WaitRegistry
	runner  *wait.Runner
	metrics ports.QuotaMetrics
	logger  zerolog.Logger

	dynamicCfg atomic.Pointer[QuotaConfig]
}

// NewQuotaService creates a quota service.
func NewQuotaService(deps QuotaDeps, cfg QuotaConfig) (*QuotaService, error) {
	if deps.Ledger == nil {
		return nil, errors.New("quota service: ledger is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("quota service: clock is required")
	}
	if deps.Waits == nil {
		deps.Waits = NewWaitRegistry()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}

	s := &QuotaService{
		ledger:  deps.Ledger,
		subs:    deps.Subscriptions,
		clock:   deps.Clock,
		idGen:   deps.IDGen,
		waits:   deps.Waits,
		runner:  wait.NewRunner(deps.Clock),
		metrics: deps.Metrics,
		logger:  deps.Logger.With().Str("component", "quota").Logger(),
	}
	if err := s.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateConfig swaps the hot-reloadable configuration.
// This is thread-safe; in-flight admissions finish with the config they started with.
func (s *QuotaService) UpdateConfig(cfg QuotaConfig) error {
	if cfg.Catalog == nil {
		return errors.New("quota service: catalog is required")
	}
	if cfg.Enforcement == "" {
		cfg.Enforcement = quota.EnforceSoft
	}
	if cfg.Enforcement == quota.EnforceStrict {
		if _, ok := s.ledger.(ports.CappedLedger); !ok {
			return ErrStrictNeedsCappedLedger
		}
	}
	if cfg.NearLimitPct <= 0 {
		cfg.NearLimitPct = usage.NearLimitPct
	}
	s.dynamicCfg.Store(&cfg)
	return nil
}

// Catalog returns the plan catalog currently in force.
func (s *QuotaService) Catalog() *plan.Catalog {
	return s.dynamicCfg.Load().Catalog
}

// Waits returns the registry of per-account wait schedulers.
func (s *QuotaService) Waits() *WaitRegistry {
	return s.waits
}

// ResolvePlan returns the plan governing an account: the plan of its
// in-force subscription, or the catalog default.
func (s *QuotaService) ResolvePlan(ctx context.Context, accountID string) (plan.Plan, error) {
	return s.resolvePlan(ctx, s.dynamicCfg.Load().Catalog, accountID)
}

func (s *QuotaService) resolvePlan(ctx context.Context, catalog *plan.Catalog, accountID string) (plan.Plan, error) {
	if s.subs == nil {
		return catalog.Default(), nil
	}

	sub, err := s.subs.GetByAccount(ctx, accountID)
	if errors.Is(err, ports.ErrNotFound) {
		return catalog.Default(), nil
	}
	if err != nil {
		return plan.Plan{}, fmt.Errorf("lookup subscription: %w", err)
	}
	if !sub.InForce(s.clock.Now()) {
		return catalog.Default(), nil
	}
	return catalog.Resolve(sub.PlanID)
}

// AdmitAndConsume evaluates a request against the account's plan, serves the
// plan's mandatory wait, and records the characters.
//
// Denials are returned as an Admission with Allowed=false and a Reason.
// Errors mean the decision could not be made; nothing was charged.
func (s *QuotaService) AdmitAndConsume(ctx context.Context, req AdmitRequest) (Admission, error) {
	if req.AccountID == "" {
		return Admission{}, ErrMissingAccount
	}
	if req.Characters < 0 {
		return Admission{}, ports.ErrInvalidAmount
	}

	cfg := s.dynamicCfg.Load()
	log := s.logger.With().Str("account_id", req.AccountID).Int64("characters", req.Characters).Logger()

	// 1. Resolve plan (I/O)
	p, err := s.resolvePlan(ctx, cfg.Catalog, req.AccountID)
	if err != nil {
		s.metrics.RecordAdmission("", outcomeError, 0, 0)
		log.Error().Err(err).Msg("plan resolution failed")
		return Admission{}, err
	}
	limits := p.Limits

	// 2. Locate the period (PURE)
	now := s.clock.Now()
	adm := Admission{
		ID:        s.newID(),
		PlanID:    p.ID,
		PeriodKey: period.Key(limits.PeriodKind, now),
		Limit:     limits.PeriodCharacterCap,
		NextReset: period.NextReset(limits.PeriodKind, now),
	}

	// 3. Read usage (I/O)
	rec, err := s.ledger.Read(ctx, req.AccountID, adm.PeriodKey)
	if err != nil {
		return s.failStorage(log, adm, "read", err)
	}

	// 4. Evaluate (PURE)
	d := quota.Evaluate(limits, rec, req.Characters, req.Format)
	adm.Record = rec
	adm.Remaining = d.Remaining
	if !d.Allowed {
		adm.Reason = d.Reason
		s.metrics.RecordAdmission(p.ID, outcomeDenied, req.Characters, 0)
		log.Info().Str("plan_id", p.ID).Str("reason", string(d.Reason)).Int64("used", d.Used).Msg("admission denied")
		return adm, nil
	}
	adm.WaitSeconds = d.WaitSeconds

	// 5. Serve the wait (blocking)
	if d.WaitSeconds > 0 {
		if err := s.serveWait(ctx, req.AccountID, d.WaitSeconds); err != nil {
			adm.Reason = quota.ReasonWaitCancelled
			s.metrics.RecordAdmission(p.ID, outcomeCancelled, req.Characters, d.WaitSeconds)
			log.Info().Str("plan_id", p.ID).Err(err).Msg("wait cancelled")
			return adm, nil
		}
	}

	// 6. Charge (I/O)
	res, err := s.consume(ctx, cfg.Enforcement, req.AccountID, adm.PeriodKey, req.Characters, limits.PeriodCharacterCap)
	if err != nil {
		return s.failStorage(log, adm, "consume", err)
	}
	adm.Record = res.Record
	adm.Remaining = remaining(limits.PeriodCharacterCap, res.Record.CharactersUsed)

	if !res.Accepted {
		adm.Reason = quota.ReasonPeriodLimit
		s.metrics.RecordAdmission(p.ID, outcomeDenied, req.Characters, 0)
		log.Info().Str("plan_id", p.ID).Str("reason", string(adm.Reason)).Msg("capped increment rejected")
		return adm, nil
	}

	adm.Allowed = true
	s.metrics.RecordAdmission(p.ID, outcomeAllowed, req.Characters, d.WaitSeconds)
	log.Debug().
		Str("plan_id", p.ID).
		Str("period_key", adm.PeriodKey).
		Int64("used", res.Record.CharactersUsed).
		Int("wait_seconds", d.WaitSeconds).
		Msg("admission allowed")
	return adm, nil
}

func (s *QuotaService) serveWait(ctx context.Context, accountID string, seconds int) error {
	sched := s.waits.Acquire(accountID)
	defer s.waits.Release(accountID)

	s.metrics.WaitStarted()
	defer s.metrics.WaitFinished()

	return s.runner.Run(ctx, sched, sched.Start(seconds))
}

func (s *QuotaService) consume(ctx context.Context, mode quota.EnforceMode, accountID, periodKey string, chars, limit int64) (ports.ConsumeResult, error) {
	if mode == quota.EnforceStrict {
		if capped, ok := s.ledger.(ports.CappedLedger); ok {
			return capped.TryConsumeWithin(ctx, accountID, periodKey, chars, limit)
		}
	}
	return s.ledger.TryConsume(ctx, accountID, periodKey, chars)
}

func (s *QuotaService) failStorage(log zerolog.Logger, adm Admission, op string, err error) (Admission, error) {
	s.metrics.RecordLedgerError(op)
	s.metrics.RecordAdmission(adm.PlanID, outcomeError, 0, 0)
	log.Error().Err(err).Str("op", op).Str("plan_id", adm.PlanID).Msg("usage ledger failed")
	adm.Allowed = false
	return adm, fmt.Errorf("%s usage: %w", op, err)
}

// UsageSummary reports the account's consumption in its current period.
// A missing ledger row is zero usage; a failing ledger is an error.
func (s *QuotaService) UsageSummary(ctx context.Context, accountID string) (usage.Summary, error) {
	if accountID == "" {
		return usage.Summary{}, ErrMissingAccount
	}

	cfg := s.dynamicCfg.Load()
	p, err := s.resolvePlan(ctx, cfg.Catalog, accountID)
	if err != nil {
		return usage.Summary{}, err
	}

	now := s.clock.Now()
	key := period.Key(p.Limits.PeriodKind, now)
	rec, err := s.ledger.Read(ctx, accountID, key)
	if err != nil {
		s.metrics.RecordLedgerError("read")
		return usage.Summary{}, fmt.Errorf("read usage: %w", err)
	}
	rec.AccountID = accountID

	sum := usage.Summarize(rec, p.Limits.PeriodCharacterCap, p.Limits.PeriodKind, now)
	sum.PlanID = p.ID
	sum.IsNearLimit = sum.UsagePercentage >= cfg.NearLimitPct
	return sum, nil
}

func (s *QuotaService) newID() string {
	if s.idGen == nil {
		return ""
	}
	return s.idGen.New()
}

func remaining(limit, used int64) int64 {
	if used >= limit {
		return 0
	}
	return limit - used
}

type noopMetrics struct{}

func (noopMetrics) RecordAdmission(string, string, int64, int) {}
func (noopMetrics) RecordLedgerError(string)                   {}
func (noopMetrics) WaitStarted()                               {}
func (noopMetrics) WaitFinished()                              {}
