package notification

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserEventMessage(t *testing.T) {
	userID := uuid.New()
	payload, err := userEventMessage(userID, EventTypeNotification, map[string]string{"title": "Moderation notice"})
	require.NoError(t, err)

	var decoded struct {
		UserID string `json:"userId"`
		Event  struct {
			Type string            `json:"type"`
			Data map[string]string `json:"data"`
		} `json:"event"`
	}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, userID.String(), decoded.UserID)
	assert.Equal(t, EventTypeNotification, decoded.Event.Type)
	assert.Equal(t, "Moderation notice", decoded.Event.Data["title"])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	long := strings.Repeat("a", 20)
	assert.Equal(t, strings.Repeat("a", 10)+"…", truncate(long, 10))
}
