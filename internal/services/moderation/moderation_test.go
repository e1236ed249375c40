package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zentra/warden/internal/events"
	"github.com/zentra/warden/internal/models"
	"github.com/zentra/warden/internal/storage"
	"github.com/zentra/warden/internal/storage/sqlite"
)

type fakePlatform struct {
	mu       sync.Mutex
	calls    []string
	muteRole uuid.UUID
	failures map[string]error
	hooks    map[string]func(ctx context.Context) error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		muteRole: uuid.New(),
		failures: map[string]error{},
		hooks:    map[string]func(ctx context.Context) error{},
	}
}

func (p *fakePlatform) record(ctx context.Context, call string) error {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	err, hook := p.failures[call], p.hooks[call]
	p.mu.Unlock()

	if hook != nil {
		if herr := hook(ctx); herr != nil {
			return herr
		}
	}
	return err
}

// on runs fn inside every call named call; a non-nil result is returned to the
// executor.
func (p *fakePlatform) on(call string, fn func(ctx context.Context) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks[call] = fn
}

func hang(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakePlatform) failOn(call string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[call] = err
}

func (p *fakePlatform) count(call string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (p *fakePlatform) Kick(ctx context.Context, communityID, userID uuid.UUID, reason string) error {
	return p.record(ctx, "kick")
}

func (p *fakePlatform) Ban(ctx context.Context, communityID, userID uuid.UUID, reason string, duration *time.Duration) error {
	return p.record(ctx, "ban")
}

func (p *fakePlatform) Unban(ctx context.Context, communityID, userID uuid.UUID, reason string) error {
	return p.record(ctx, "unban")
}

func (p *fakePlatform) AssignRole(ctx context.Context, communityID, userID, roleID uuid.UUID) error {
	return p.record(ctx, "assignRole")
}

func (p *fakePlatform) RemoveRole(ctx context.Context, communityID, userID, roleID uuid.UUID) error {
	return p.record(ctx, "removeRole")
}

func (p *fakePlatform) MuteRole(ctx context.Context, communityID uuid.UUID) (uuid.UUID, error) {
	return p.muteRole, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
	hang bool
}

func (n *fakeNotifier) SendDirectMessage(ctx context.Context, communityID, userID uuid.UUID, content string) error {
	if n.hang {
		return hang(ctx)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, content)
	return nil
}

type failingLedger struct {
	storage.Ledger
}

func (failingLedger) Create(context.Context, *models.ModLogEntry) (uuid.UUID, error) {
	return uuid.Nil, errors.New("database is gone")
}

type unreadablePunishments struct {
	storage.Punishments
}

func (unreadablePunishments) Get(context.Context, models.PunishmentKey) (*models.ActivePunishment, error) {
	return nil, errors.New("connection reset")
}

type testEnv struct {
	exec        *Executor
	ledger      *sqlite.Ledger
	punishments *sqlite.Punishments
	platform    *fakePlatform
	notifier    *fakeNotifier
	now         time.Time
	scope       Scope

	mu        sync.Mutex
	published []events.Event
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sqlite.Open(fmt.Sprintf("file:moderation_%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestEnv(t *testing.T, policy *Policy) *testEnv {
	t.Helper()
	db := testDB(t)
	env := &testEnv{
		ledger:      sqlite.NewLedger(db),
		punishments: sqlite.NewPunishments(db),
		platform:    newFakePlatform(),
		notifier:    &fakeNotifier{},
		now:         time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		scope: Scope{
			CommunityID: uuid.New(),
			System:      Subject{ID: uuid.New(), Rank: models.Rank{Position: 100}},
		},
	}

	bus := events.NewBus()
	bus.Subscribe(func(ctx context.Context, e events.Event) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.published = append(env.published, e)
	})

	env.exec = NewExecutor(Dependencies{
		Ledger:      env.ledger,
		Punishments: env.punishments,
		Platform:    env.platform,
		Notifier:    env.notifier,
		Events:      bus,
		Policy:      policy,
	}, Config{RetryDelay: 5 * time.Minute})
	env.exec.now = func() time.Time { return env.now }
	return env
}

func (env *testEnv) publishedEvents() []events.Event {
	env.mu.Lock()
	defer env.mu.Unlock()
	return append([]events.Event(nil), env.published...)
}

func (env *testEnv) entries(t *testing.T) []*models.ModLogEntry {
	t.Helper()
	entries, err := env.ledger.List(context.Background(), models.ModLogFilter{
		CommunityID:   env.scope.CommunityID,
		IncludeHidden: true,
		Limit:         100,
	})
	require.NoError(t, err)
	return entries
}

func member(position int) Subject {
	return Subject{ID: uuid.New(), Rank: models.Rank{Position: position}}
}

func hours(n int) *time.Duration {
	d := time.Duration(n) * time.Hour
	return &d
}
