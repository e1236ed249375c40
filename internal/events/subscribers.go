package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/zentra/warden/internal/models"
)

// Label is the mod log heading for an event, e.g. "Temp Mute" or "Perm Ban".
func Label(event Event) string {
	switch event.Action {
	case models.ActionMute, models.ActionBan:
		kind := "Perm"
		if event.Duration > 0 {
			kind = "Temp"
		}
		return kind + " " + titleCase(string(event.Action))
	default:
		return titleCase(string(event.Action))
	}
}

// Summary renders the one-line mod log message for an event.
func Summary(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s | user %s | moderator %s", Label(event), event.SubjectID, event.ActorID)
	if event.Automatic {
		b.WriteString(" (automatic)")
	}
	reason := "[No Reason Provided]"
	if event.Reason != nil && *event.Reason != "" {
		reason = *event.Reason
	}
	fmt.Fprintf(&b, " | reason: %s", reason)
	if event.Duration > 0 {
		fmt.Fprintf(&b, " | duration: %s", event.Duration)
	}
	if !event.DMSent {
		b.WriteString(" | Could not dm user.")
	}
	fmt.Fprintf(&b, " | case %s", event.CaseID)
	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// LogSubscriber writes every moderation event to the process log.
func LogSubscriber(ctx context.Context, event Event) {
	log.Info().
		Str("event", event.Type).
		Str("caseId", event.CaseID.String()).
		Str("communityId", event.CommunityID.String()).
		Str("subjectId", event.SubjectID.String()).
		Str("action", string(event.Action)).
		Str("result", event.Result).
		Msg(Summary(event))
}

// RedisForwarder republishes events on a redis channel for other processes
// (the gateway hub, log channel bots).
type RedisForwarder struct {
	client  *redis.Client
	channel string
}

func NewRedisForwarder(client *redis.Client, channel string) *RedisForwarder {
	return &RedisForwarder{client: client, channel: channel}
}

type forwardedEvent struct {
	Event
	Summary string `json:"summary"`
}

func (f *RedisForwarder) Handle(ctx context.Context, event Event) {
	data, err := json.Marshal(forwardedEvent{Event: event, Summary: Summary(event)})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal moderation event")
		return
	}
	if err := f.client.Publish(ctx, f.channel, data).Err(); err != nil {
		log.Error().Err(err).Str("channel", f.channel).Msg("Failed to publish moderation event to Redis")
	}
}
