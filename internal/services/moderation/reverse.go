package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/zentra/warden/internal/events"
	"github.com/zentra/warden/internal/models"
	"github.com/zentra/warden/internal/storage"
)

type ReverseRequest struct {
	Punishment *models.ActivePunishment
	ActorID    uuid.UUID
	Reason     string
	// Automatic marks reversals started by the expiry scheduler.
	Automatic bool
}

// Reverse ends an active punishment. The conditional delete decides the
// winner between a manual revocation and the scheduler: the loser gets
// CodeAlreadyReversed and does nothing else.
func (e *Executor) Reverse(ctx context.Context, req ReverseRequest) Result {
	ctx = context.WithoutCancel(ctx)
	ap := req.Punishment
	logger := log.With().
		Str("communityId", ap.CommunityID.String()).
		Str("subjectId", ap.SubjectID.String()).
		Str("refCaseId", ap.CaseRef.String()).
		Str("action", string(ap.Type)).
		Logger()

	act, ok := actions[ap.Type]
	if !ok || act.inverse == "" {
		err := fmt.Errorf("%w: %s cannot be reversed", ErrInvalidRequest, ap.Type)
		return Result{Code: CodeInvalidRequest, Message: err.Error(), Err: err}
	}
	inverse := actions[act.inverse]

	payload, err := e.punishments.DeleteIfPresent(ctx, ap.PunishmentKey, ap.CaseRef)
	if errors.Is(err, storage.ErrAbsent) {
		logger.Debug().Str("code", string(CodeAlreadyReversed)).Msg("Punishment already reversed")
		return Result{Code: CodeAlreadyReversed, Message: "That punishment has already ended."}
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to remove active punishment")
		return Result{Code: CodeLedgerWriteFailed, Message: "Failed to update the active punishment.", Err: err}
	}

	ref := ap.CaseRef
	entry := &models.ModLogEntry{
		CommunityID: ap.CommunityID,
		SubjectID:   ap.SubjectID,
		ActorID:     req.ActorID,
		Action:      act.inverse,
		Reason:      optionalString(req.Reason),
		Status:      models.CaseStatusPending,
		RefCaseID:   &ref,
	}
	caseID, err := e.ledger.Create(ctx, entry)
	if err != nil {
		// Put the row back untouched so the reversal is retried.
		if _, rerr := e.punishments.Restore(ctx, ap); rerr != nil {
			logger.Error().Err(rerr).Msg("Failed to restore active punishment")
		}
		logger.Error().Err(err).Str("code", string(CodeLedgerWriteFailed)).Msg("Failed to create reversal case")
		return Result{Code: CodeLedgerWriteFailed, Message: "Failed to record the case; nothing was done.", Err: err}
	}
	logger = logger.With().Str("caseId", caseID.String()).Logger()

	_, err = e.enforce(ctx, inverse, enforcement{
		CommunityID: ap.CommunityID,
		SubjectID:   ap.SubjectID,
		Reason:      req.Reason,
		Payload:     payload,
	})
	if err != nil && !errors.Is(err, ErrTargetNotFound) {
		if ferr := e.ledger.Finalize(ctx, caseID, models.CaseStatusError); ferr != nil {
			logger.Error().Err(ferr).Msg("Failed to mark case as errored")
		}
		retry := *ap
		retry.ExpiresAt = e.now().Add(e.cfg.RetryDelay)
		if _, rerr := e.punishments.Restore(ctx, &retry); rerr != nil {
			logger.Error().Err(rerr).Msg("Failed to reschedule reversal")
		}
		logger.Error().Err(err).Str("code", string(CodeEnforcementFailed)).Msg("Reversal enforcement failed")
		return Result{Code: CodeEnforcementFailed, CaseID: caseID, Message: enforcementMessage(err), Err: err}
	}
	if err != nil {
		logger.Debug().Err(err).Msg("Member gone; treating punishment as reversed")
	}

	if err := e.ledger.Finalize(ctx, caseID, models.CaseStatusSuccess); err != nil {
		logger.Error().Err(err).Msg("Failed to finalize reversal case")
	}

	dmSent := e.notify(ctx, ap.CommunityID, ap.SubjectID, noticeContent(inverse.verb, req.Reason, nil))

	res := Result{Code: CodeSuccess, CaseID: caseID}
	if !dmSent {
		res.Code = CodeSuccessNotificationFailed
	}
	logger.Info().Str("code", string(res.Code)).Bool("automatic", req.Automatic).Msg("Punishment reversed")

	e.publish(ctx, events.Event{
		Type:        events.EventPunishmentReversed,
		CaseID:      caseID,
		RefCaseID:   &ref,
		CommunityID: ap.CommunityID,
		SubjectID:   ap.SubjectID,
		ActorID:     req.ActorID,
		Action:      act.inverse,
		Reason:      entry.Reason,
		Result:      string(res.Code),
		DMSent:      dmSent,
		Automatic:   req.Automatic,
	})
	return res
}
