package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/zentra/warden/internal/models"
	"github.com/zentra/warden/pkg/database"
)

const EventTypeNotification = "NOTIFICATION"

var ErrUnknownUser = errors.New("notification recipient does not exist")

// HubInterface is the subset of the websocket hub needed for delivery.
type HubInterface interface {
	SendUserEvent(ctx context.Context, userID uuid.UUID, eventType string, data any) error
}

// Service persists moderation notices and pushes them to the recipient's
// live connections.
type Service struct {
	db  *pgxpool.Pool
	hub HubInterface
}

func NewService(db *pgxpool.Pool, hub HubInterface) *Service {
	return &Service{db: db, hub: hub}
}

// SendDirectMessage stores a moderation notice for userID and pushes it to the
// gateway. The notice is kept even when the push fails, so the member sees it
// on their next login, but the failure is still reported.
func (s *Service) SendDirectMessage(ctx context.Context, communityID, userID uuid.UUID, content string) error {
	n := models.Notification{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        models.NotificationTypeModeration,
		Title:       "Moderation notice",
		Body:        strPtr(truncate(content, 2000)),
		CommunityID: uuidPtr(communityID),
		CreatedAt:   time.Now(),
	}

	if err := s.create(ctx, &n); err != nil {
		return err
	}
	if s.hub == nil {
		return nil
	}
	if err := s.hub.SendUserEvent(ctx, userID, EventTypeNotification, &n); err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	return nil
}

func (s *Service) create(ctx context.Context, n *models.Notification) error {
	metaJSON, _ := json.Marshal(n.Metadata)

	err := s.db.QueryRow(ctx, `
		INSERT INTO notifications
			(id, user_id, type, title, body, community_id, metadata, is_read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7::jsonb,$8,$9)
		RETURNING id, created_at`,
		n.ID, n.UserID, n.Type, n.Title, n.Body, n.CommunityID,
		string(metaJSON), n.IsRead, n.CreatedAt,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrUnknownUser
		}
		log.Error().Err(err).Str("userId", n.UserID.String()).Msg("Failed to insert notification")
		return err
	}
	return nil
}

// RedisHub forwards user events to the gateway's websocket hub over redis.
type RedisHub struct {
	client *redis.Client
}

func NewRedisHub(client *redis.Client) *RedisHub {
	return &RedisHub{client: client}
}

type userEvent struct {
	UserID string `json:"userId"`
	Event  struct {
		Type string `json:"type"`
		Data any    `json:"data"`
	} `json:"event"`
}

func userEventMessage(userID uuid.UUID, eventType string, data any) ([]byte, error) {
	var msg userEvent
	msg.UserID = userID.String()
	msg.Event.Type = eventType
	msg.Event.Data = data
	return json.Marshal(msg)
}

func (h *RedisHub) SendUserEvent(ctx context.Context, userID uuid.UUID, eventType string, data any) error {
	payload, err := userEventMessage(userID, eventType, data)
	if err != nil {
		return err
	}
	return database.Publish(ctx, h.client, database.ChannelUserEvents, payload)
}

// ---------- Micro-helpers ----------

func strPtr(s string) *string         { return &s }
func uuidPtr(id uuid.UUID) *uuid.UUID { return &id }
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
