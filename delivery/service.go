package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tunecast/distributor/adapter"
	"github.com/tunecast/distributor/partner"
	"github.com/tunecast/distributor/release"
)

/* Service is the delivery dispatcher: it owns the fan-out of one
 * deliverable to a partner set and the read-side folds over attempt
 * state. Uses pointer semantics as it's an API, not data.
 */

// UseCase defines the orchestration operations exposed to the
// presentation layer
type UseCase interface {
	Dispatch(ctx context.Context, d release.Deliverable, partners []partner.Partner) ([]Attempt, error)
	AggregateStatus(ctx context.Context, releaseID string) (ReleaseStatus, error)
	AttemptDetail(ctx context.Context, releaseID, partnerID string) (Attempt, error)
	RetryFailed(ctx context.Context, releaseID string, partnerIDs []string) ([]Attempt, error)
	Takedown(ctx context.Context, releaseID string, partnerIDs []string) ([]TakedownResult, error)
	ActiveWorkers(ctx context.Context) ([]WorkerHeartbeat, error)
}

// TakedownResult reports one partner's answer to a removal request
type TakedownResult struct {
	PartnerID string `json:"partner_id"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
}

const (
	TakedownRemoved = "removed"
	TakedownFailed  = "failed"
	TakedownNotLive = "not_live"
)

// AggregateState is the folded status of a release across partners
type AggregateState int

const (
	InProgress AggregateState = iota + 1
	AggregateConfirmed
	AggregateFailed
)

// String returns the string representation of the aggregate state
func (s AggregateState) String() string {
	switch s {
	case InProgress:
		return "in_progress"
	case AggregateConfirmed:
		return "confirmed"
	case AggregateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ReleaseStatus is the aggregate view handed to callers
type ReleaseStatus struct {
	ReleaseID string
	State     AggregateState
	Attempts  []Attempt
}

type Service struct {
	Repo Repository
	Log  zerolog.Logger

	// Adapters is required for Takedown; the other operations never
	// talk to a partner directly.
	Adapters *adapter.Registry
}

// NewService creates a new dispatcher service with dependency injection
func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{
		Repo: repo,
		Log:  log,
	}
}

/* Dispatch creates one Pending attempt per partner and enqueues submit
 * work. It is idempotent: a second call with the same deliverable and
 * partner set returns the same attempt ids, and two racing calls for
 * one (deliverable, partner) pair leave exactly one record behind.
 *
 * Partners are independent: a failure for one is collected and
 * reported, siblings proceed. Attempts are persisted before the
 * enqueue; a crash in between is picked up by the recovery sweep.
 */
func (s *Service) Dispatch(ctx context.Context, d release.Deliverable, partners []partner.Partner) ([]Attempt, error) {
	if err := s.Repo.PutDeliverable(ctx, d); err != nil {
		return nil, fmt.Errorf("persisting deliverable: %w", err)
	}

	now := time.Now()
	attempts := make([]Attempt, 0, len(partners))
	var errs []error

	for _, p := range partners {
		key := IdempotencyKey(d.ContentHash, p.ID)

		candidate := Attempt{
			ID:             uuid.New().String(),
			ReleaseID:      d.ReleaseID,
			ContentHash:    d.ContentHash,
			PartnerID:      p.ID,
			Partner:        p,
			IdempotencyKey: key,
			State:          Pending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		attempt, created, err := s.Repo.CreateAttempt(ctx, candidate)
		if err != nil {
			errs = append(errs, fmt.Errorf("creating attempt for partner %s: %w", p.ID, err))
			continue
		}
		attempts = append(attempts, attempt)

		if !created {
			s.Log.Debug().
				Str("release_id", d.ReleaseID).
				Str("partner_id", p.ID).
				Str("attempt_id", attempt.ID).
				Msg("dispatch deduplicated onto existing attempt")
			continue
		}

		if err := s.Repo.EnqueueSubmit(ctx, attempt.ID); err != nil {
			// Attempt is persisted; the sweep will re-drive it
			s.Log.Warn().Err(err).
				Str("attempt_id", attempt.ID).
				Str("partner_id", p.ID).
				Msg("enqueue failed after persist, leaving attempt for recovery sweep")
			continue
		}

		s.Log.Info().
			Str("release_id", d.ReleaseID).
			Str("partner_id", p.ID).
			Str("attempt_id", attempt.ID).
			Msg("delivery attempt dispatched")
	}

	return attempts, errors.Join(errs...)
}

/* AggregateStatus folds all attempt states for a release:
 * every attempt Confirmed -> confirmed; any Rejected or Failed ->
 * failed (any-reject-fails); otherwise in progress.
 */
func (s *Service) AggregateStatus(ctx context.Context, releaseID string) (ReleaseStatus, error) {
	attempts, err := s.Repo.ListByRelease(ctx, releaseID)
	if err != nil {
		return ReleaseStatus{}, fmt.Errorf("listing attempts: %w", err)
	}
	if len(attempts) == 0 {
		return ReleaseStatus{}, fmt.Errorf("release %s: %w", releaseID, ErrAttemptNotFound)
	}

	status := ReleaseStatus{
		ReleaseID: releaseID,
		State:     AggregateConfirmed,
		Attempts:  attempts,
	}
	for _, a := range attempts {
		switch a.State {
		case Rejected, Failed:
			status.State = AggregateFailed
			return status, nil
		case Confirmed:
			// keeps AggregateConfirmed unless a sibling says otherwise
		default:
			status.State = InProgress
		}
	}
	return status, nil
}

// AttemptDetail returns the attempt for one (release, partner) pairing
func (s *Service) AttemptDetail(ctx context.Context, releaseID, partnerID string) (Attempt, error) {
	attempts, err := s.Repo.ListByRelease(ctx, releaseID)
	if err != nil {
		return Attempt{}, fmt.Errorf("listing attempts: %w", err)
	}
	for _, a := range attempts {
		if a.PartnerID == partnerID {
			return a, nil
		}
	}
	return Attempt{}, fmt.Errorf("release %s partner %s: %w", releaseID, partnerID, ErrAttemptNotFound)
}

/* RetryFailed re-opens Failed attempts for a release at operator
 * request, resetting the retry budget. Rejected attempts are not
 * eligible: the partner made a durable decision about the content.
 * An empty partner filter re-drives every Failed attempt.
 */
func (s *Service) RetryFailed(ctx context.Context, releaseID string, partnerIDs []string) ([]Attempt, error) {
	attempts, err := s.Repo.ListByRelease(ctx, releaseID)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}

	filter := make(map[string]bool, len(partnerIDs))
	for _, id := range partnerIDs {
		filter[id] = true
	}

	now := time.Now()
	var reopened []Attempt
	var errs []error
	for _, a := range attempts {
		if a.State != Failed {
			continue
		}
		if len(filter) > 0 && !filter[a.PartnerID] {
			continue
		}

		next, err := Reopen(a, Event{Kind: ManualRetry, NextRetryAt: now, At: now})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.Repo.UpdateAttempt(ctx, next, Failed); err != nil {
			if errors.Is(err, ErrConflict) {
				// Someone else re-drove it first; fine
				continue
			}
			errs = append(errs, fmt.Errorf("reopening attempt %s: %w", a.ID, err))
			continue
		}
		if err := s.Repo.ScheduleRetry(ctx, next.ID, now); err != nil {
			errs = append(errs, fmt.Errorf("scheduling reopened attempt %s: %w", next.ID, err))
			continue
		}
		s.Log.Info().
			Str("attempt_id", next.ID).
			Str("partner_id", next.PartnerID).
			Msg("failed attempt reopened for manual retry")
		reopened = append(reopened, next)
	}
	return reopened, errors.Join(errs...)
}

/* Takedown asks each partner holding a confirmed copy of the release
 * to remove it. Delivery state is untouched: the attempt records stay
 * the audit trail of what went out, and the per-partner results here
 * are the record of what came back down. Attempts that never reached
 * Confirmed have nothing live at the partner and are reported as such.
 * An empty partner filter addresses every partner on the release.
 */
func (s *Service) Takedown(ctx context.Context, releaseID string, partnerIDs []string) ([]TakedownResult, error) {
	attempts, err := s.Repo.ListByRelease(ctx, releaseID)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	if len(attempts) == 0 {
		return nil, fmt.Errorf("release %s: %w", releaseID, ErrAttemptNotFound)
	}

	filter := make(map[string]bool, len(partnerIDs))
	for _, id := range partnerIDs {
		filter[id] = true
	}

	var results []TakedownResult
	for _, a := range attempts {
		if len(filter) > 0 && !filter[a.PartnerID] {
			continue
		}
		if a.State != Confirmed {
			results = append(results, TakedownResult{
				PartnerID: a.PartnerID,
				Status:    TakedownNotLive,
				Detail:    fmt.Sprintf("delivery is %s", a.State),
			})
			continue
		}

		ad, err := s.Adapters.ForPartner(a.Partner)
		if err != nil {
			results = append(results, TakedownResult{PartnerID: a.PartnerID, Status: TakedownFailed, Detail: err.Error()})
			continue
		}
		if err := ad.Takedown(ctx, a.ExternalRef, a.Partner); err != nil {
			s.Log.Warn().Err(err).
				Str("release_id", releaseID).
				Str("partner_id", a.PartnerID).
				Msg("partner takedown failed")
			results = append(results, TakedownResult{PartnerID: a.PartnerID, Status: TakedownFailed, Detail: err.Error()})
			continue
		}

		s.Log.Info().
			Str("release_id", releaseID).
			Str("partner_id", a.PartnerID).
			Str("external_ref", a.ExternalRef).
			Msg("release taken down at partner")
		results = append(results, TakedownResult{PartnerID: a.PartnerID, Status: TakedownRemoved})
	}
	return results, nil
}

// ActiveWorkers reports pool workers with a live heartbeat
func (s *Service) ActiveWorkers(ctx context.Context) ([]WorkerHeartbeat, error) {
	workers, err := s.Repo.ActiveWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active workers: %w", err)
	}
	return workers, nil
}
