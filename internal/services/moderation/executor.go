package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zentra/warden/internal/events"
	"github.com/zentra/warden/internal/models"
	"github.com/zentra/warden/internal/storage"
)

var ErrInvalidRequest = errors.New("invalid moderation request")

type ResultCode string

const (
	CodeSuccess                   ResultCode = "SUCCESS"
	CodeSuccessNotificationFailed ResultCode = "SUCCESS_NOTIFICATION_FAILED"
	CodeEnforcementFailed         ResultCode = "ENFORCEMENT_FAILED"
	CodeLedgerWriteFailed         ResultCode = "LEDGER_WRITE_FAILED"
	CodePermissionDenied          ResultCode = "PERMISSION_DENIED"
	CodeAlreadyReversed           ResultCode = "ALREADY_REVERSED"
	CodeInvalidRequest            ResultCode = "INVALID_REQUEST"
)

// Result is the outcome of Apply, Revoke or Reverse. CaseID is set once a
// ledger entry exists.
type Result struct {
	Code    ResultCode `json:"code"`
	CaseID  uuid.UUID  `json:"caseId"`
	Message string     `json:"message,omitempty"`
	Err     error      `json:"-"`
}

func (r Result) Succeeded() bool {
	return r.Code == CodeSuccess || r.Code == CodeSuccessNotificationFailed
}

// Notifier delivers a direct message to a member.
type Notifier interface {
	SendDirectMessage(ctx context.Context, communityID, userID uuid.UUID, content string) error
}

// Scope is the community context threaded through every call.
type Scope struct {
	CommunityID uuid.UUID
	System      Subject
}

type Request struct {
	Scope    Scope
	Action   models.ActionType
	Actor    Subject
	Target   Subject
	Reason   string
	Duration *time.Duration
	// Force requests an immunity override; only superusers get it.
	Force           bool
	NotifyOnFailure bool
}

type Config struct {
	NotifyTimeout  time.Duration
	EnforceTimeout time.Duration
	// RetryDelay is how long a failed reversal waits before the scheduler
	// picks it up again.
	RetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		NotifyTimeout:  5 * time.Second,
		EnforceTimeout: 10 * time.Second,
		RetryDelay:     5 * time.Minute,
	}
}

type Dependencies struct {
	Ledger      storage.Ledger
	Punishments storage.Punishments
	Platform    Platform
	Notifier    Notifier
	Events      events.Publisher
	Policy      *Policy
}

type Executor struct {
	ledger      storage.Ledger
	punishments storage.Punishments
	platform    Platform
	notifier    Notifier
	events      events.Publisher
	policy      *Policy
	cfg         Config
	now         func() time.Time
}

func NewExecutor(deps Dependencies, cfg Config) *Executor {
	defaults := DefaultConfig()
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaults.NotifyTimeout
	}
	if cfg.EnforceTimeout <= 0 {
		cfg.EnforceTimeout = defaults.EnforceTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	return &Executor{
		ledger:      deps.Ledger,
		punishments: deps.Punishments,
		platform:    deps.Platform,
		notifier:    deps.Notifier,
		events:      deps.Events,
		policy:      deps.Policy,
		cfg:         cfg,
		now:         time.Now,
	}
}

func (e *Executor) Policy() *Policy {
	return e.policy
}

// Check runs the hierarchy check for req without side effects.
func (e *Executor) Check(req Request) Decision {
	return e.policy.Check(CheckRequest{
		Actor:           req.Actor,
		Target:          req.Target,
		System:          req.Scope.System,
		Action:          req.Action,
		NotifyOnFailure: req.NotifyOnFailure,
		Override:        req.Force,
	})
}

// Apply executes a punitive action: hierarchy check, pending ledger entry,
// best-effort DM, platform enforcement, finalize and, for timed actions, the
// active punishment row.
func (e *Executor) Apply(ctx context.Context, req Request) Result {
	// Once started, an action runs to completion; only the notify and
	// enforce calls are bounded, by their own timeouts.
	ctx = context.WithoutCancel(ctx)
	logger := requestLogger(req)

	act, err := validate(req)
	if err != nil {
		return Result{Code: CodeInvalidRequest, Message: err.Error(), Err: err}
	}

	decision := e.Check(req)
	if !decision.Allowed {
		logger.Debug().Str("reason", string(decision.Reason)).Msg("Moderation action denied")
		res := Result{Code: CodePermissionDenied, Err: errors.New(string(decision.Reason))}
		if decision.Surface {
			res.Message = decision.Message
		}
		return res
	}

	entry := &models.ModLogEntry{
		CommunityID: req.Scope.CommunityID,
		SubjectID:   req.Target.ID,
		ActorID:     req.Actor.ID,
		Action:      req.Action,
		Reason:      optionalString(req.Reason),
		Status:      models.CaseStatusPending,
	}
	if req.Duration != nil {
		secs := int64(req.Duration.Seconds())
		entry.Duration = &secs
	}

	caseID, err := e.ledger.Create(ctx, entry)
	if err != nil {
		logger.Error().Err(err).Str("code", string(CodeLedgerWriteFailed)).Msg("Failed to create mod log entry")
		return Result{Code: CodeLedgerWriteFailed, Message: "Failed to record the case; nothing was done.", Err: err}
	}
	logger = logger.With().Str("caseId", caseID.String()).Logger()

	dmSent := e.notify(ctx, req.Scope.CommunityID, req.Target.ID, noticeContent(act.verb, req.Reason, req.Duration))

	// A live timed row of the same punishment is taken out of the
	// scheduler's reach before enforcing, so an expiry cannot undo this case.
	key := models.PunishmentKey{SubjectID: req.Target.ID, CommunityID: req.Scope.CommunityID, Type: req.Action}
	if act.reverses != "" {
		key.Type = act.reverses
	}
	var claimed *models.ActivePunishment
	if act.timed || act.reverses != "" {
		claimed = e.claimTimed(ctx, logger, key)
	}

	en := enforcement{
		CommunityID: req.Scope.CommunityID,
		SubjectID:   req.Target.ID,
		Reason:      req.Reason,
		Duration:    req.Duration,
	}
	if claimed != nil {
		en.Payload = claimed.Payload
	}
	payload, err := e.enforce(ctx, act, en)
	if err != nil {
		if ferr := e.ledger.Finalize(ctx, caseID, models.CaseStatusError); ferr != nil {
			logger.Error().Err(ferr).Msg("Failed to mark case as errored")
		}
		if claimed != nil {
			if _, rerr := e.punishments.Restore(ctx, claimed); rerr != nil {
				logger.Error().Err(rerr).Msg("Failed to restore active punishment")
			}
		}
		logger.Error().Err(err).Str("code", string(CodeEnforcementFailed)).Msg("Moderation enforcement failed")
		return Result{Code: CodeEnforcementFailed, CaseID: caseID, Message: enforcementMessage(err), Err: err}
	}

	if err := e.ledger.Finalize(ctx, caseID, models.CaseStatusSuccess); err != nil {
		logger.Error().Err(err).Msg("Failed to finalize case after enforcement")
	}

	if claimed != nil {
		e.note(ctx, logger, key, claimed.CaseRef, fmt.Sprintf("Superseded by case %s", caseID))
	}
	if act.timed && req.Duration != nil {
		e.track(ctx, logger, &models.ActivePunishment{
			PunishmentKey: key,
			ExpiresAt:     e.now().Add(*req.Duration),
			CaseRef:       caseID,
			Payload:       payload,
		})
	}

	res := Result{Code: CodeSuccess, CaseID: caseID}
	if !dmSent {
		res.Code = CodeSuccessNotificationFailed
		logger.Warn().Str("code", string(res.Code)).Msg("Could not notify member")
	}
	logger.Info().Str("code", string(res.Code)).Msg("Moderation action applied")

	var duration time.Duration
	if req.Duration != nil {
		duration = *req.Duration
	}
	e.publish(ctx, events.Event{
		Type:        events.EventPunishmentApplied,
		CaseID:      caseID,
		CommunityID: req.Scope.CommunityID,
		SubjectID:   req.Target.ID,
		ActorID:     req.Actor.ID,
		Action:      req.Action,
		Reason:      entry.Reason,
		Duration:    duration,
		Result:      string(res.Code),
		DMSent:      dmSent,
	})
	return res
}

// Revoke ends a punishment on request of a moderator. A live timed row goes
// through Reverse so the call races safely with the scheduler; otherwise the
// inverse action is applied directly.
func (e *Executor) Revoke(ctx context.Context, req Request) Result {
	act, ok := actions[req.Action]
	if !ok || act.reverses == "" {
		err := fmt.Errorf("%w: %s is not a revocation", ErrInvalidRequest, req.Action)
		return Result{Code: CodeInvalidRequest, Message: err.Error(), Err: err}
	}
	if req.Duration != nil {
		err := fmt.Errorf("%w: %s does not take a duration", ErrInvalidRequest, req.Action)
		return Result{Code: CodeInvalidRequest, Message: err.Error(), Err: err}
	}

	decision := e.Check(req)
	if !decision.Allowed {
		res := Result{Code: CodePermissionDenied, Err: errors.New(string(decision.Reason))}
		if decision.Surface {
			res.Message = decision.Message
		}
		return res
	}

	key := models.PunishmentKey{SubjectID: req.Target.ID, CommunityID: req.Scope.CommunityID, Type: act.reverses}
	ap, err := e.punishments.Get(ctx, key)
	switch {
	case err == nil:
		return e.Reverse(ctx, ReverseRequest{Punishment: ap, ActorID: req.Actor.ID, Reason: req.Reason})
	case errors.Is(err, storage.ErrAbsent):
		return e.Apply(ctx, req)
	default:
		logger := requestLogger(req)
		logger.Error().Err(err).Msg("Failed to read active punishment")
		return Result{Code: CodeLedgerWriteFailed, Message: "Failed to read the active punishment.", Err: err}
	}
}

func validate(req Request) (action, error) {
	act, ok := actions[req.Action]
	if !ok || act.pseudo {
		return action{}, fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, req.Action)
	}
	if req.Duration != nil {
		if !act.timed {
			return action{}, fmt.Errorf("%w: %s does not take a duration", ErrInvalidRequest, req.Action)
		}
		if *req.Duration < time.Second {
			return action{}, fmt.Errorf("%w: duration must be at least one second", ErrInvalidRequest)
		}
	}
	return act, nil
}

func (e *Executor) enforce(ctx context.Context, act action, en enforcement) (models.PunishmentPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.EnforceTimeout)
	defer cancel()
	return act.enforce(ctx, e.platform, en)
}

// notify sends a DM bounded by the notify timeout and reports delivery.
func (e *Executor) notify(ctx context.Context, communityID, userID uuid.UUID, content string) bool {
	if e.notifier == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.NotifyTimeout)
	defer cancel()
	if err := e.notifier.SendDirectMessage(ctx, communityID, userID, content); err != nil {
		log.Debug().Err(err).Str("subjectId", userID.String()).Msg("Direct message failed")
		return false
	}
	return true
}

// track stores a timed punishment. A live row of the same key is superseded,
// which is recorded with a pseudo note.
func (e *Executor) track(ctx context.Context, logger zerolog.Logger, ap *models.ActivePunishment) {
	superseded, err := e.punishments.Upsert(ctx, ap)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to store active punishment; it will not expire automatically")
		return
	}
	if superseded != nil {
		e.note(ctx, logger, ap.PunishmentKey, *superseded, fmt.Sprintf("Superseded by case %s", ap.CaseRef))
	}
}

// claimTimed removes the live row of key, if any, and returns it so the
// caller can restore it when enforcement fails.
func (e *Executor) claimTimed(ctx context.Context, logger zerolog.Logger, key models.PunishmentKey) *models.ActivePunishment {
	ap, err := e.punishments.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrAbsent) {
			logger.Error().Err(err).Msg("Failed to read active punishment")
		}
		return nil
	}
	payload, err := e.punishments.DeleteIfPresent(ctx, key, ap.CaseRef)
	if err != nil {
		if !errors.Is(err, storage.ErrAbsent) {
			logger.Error().Err(err).Msg("Failed to clear active punishment")
		}
		return nil
	}
	ap.Payload = payload
	return ap
}

func (e *Executor) note(ctx context.Context, logger zerolog.Logger, key models.PunishmentKey, ref uuid.UUID, text string) {
	_, err := e.ledger.Create(ctx, &models.ModLogEntry{
		CommunityID: key.CommunityID,
		SubjectID:   key.SubjectID,
		ActorID:     uuid.Nil,
		Action:      models.ActionNote,
		Reason:      &text,
		Status:      models.CaseStatusSuccess,
		Pseudo:      true,
		RefCaseID:   &ref,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to write supersede note")
	}
}

func (e *Executor) publish(ctx context.Context, event events.Event) {
	if e.events == nil {
		return
	}
	event.OccurredAt = e.now()
	e.events.Publish(ctx, event)
}

func requestLogger(req Request) zerolog.Logger {
	return log.With().
		Str("communityId", req.Scope.CommunityID.String()).
		Str("subjectId", req.Target.ID.String()).
		Str("actorId", req.Actor.ID.String()).
		Str("action", string(req.Action)).
		Logger()
}

func noticeContent(verb, reason string, duration *time.Duration) string {
	var b strings.Builder
	b.WriteString("You have been ")
	b.WriteString(verb)
	if duration != nil {
		fmt.Fprintf(&b, " for %s", *duration)
	}
	b.WriteString(".")
	if reason != "" {
		fmt.Fprintf(&b, " Reason: %s", reason)
	}
	return b.String()
}

func enforcementMessage(err error) string {
	switch {
	case errors.Is(err, ErrMissingPermission):
		return "I am missing the permission to do that."
	case errors.Is(err, ErrTargetNotFound):
		return "That member could not be found."
	case errors.Is(err, context.DeadlineExceeded):
		return "The platform did not respond in time."
	default:
		return "The action failed. The case was recorded as errored."
	}
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
