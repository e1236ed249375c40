package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zentra/warden/internal/models"
)

// Event types
const (
	EventPunishmentApplied  = "PUNISHMENT_APPLIED"
	EventPunishmentReversed = "PUNISHMENT_REVERSED"
)

type Event struct {
	Type        string            `json:"type"`
	CaseID      uuid.UUID         `json:"caseId"`
	RefCaseID   *uuid.UUID        `json:"refCaseId,omitempty"`
	CommunityID uuid.UUID         `json:"communityId"`
	SubjectID   uuid.UUID         `json:"subjectId"`
	ActorID     uuid.UUID         `json:"actorId"`
	Action      models.ActionType `json:"action"`
	Reason      *string           `json:"reason,omitempty"`
	Duration    time.Duration     `json:"duration,omitempty"`
	Result      string            `json:"result"`
	DMSent      bool              `json:"dmSent"`
	Automatic   bool              `json:"automatic,omitempty"`
	OccurredAt  time.Time         `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type Handler func(ctx context.Context, event Event)

// Bus fans events out to every subscriber in registration order. The
// publisher does not know who is listening.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *Bus) Publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, event)
	}
}
