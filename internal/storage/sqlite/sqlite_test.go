package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zentra/warden/internal/models"
	"github.com/zentra/warden/internal/storage"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newEntry(community uuid.UUID, action models.ActionType) *models.ModLogEntry {
	return &models.ModLogEntry{
		CommunityID: community,
		SubjectID:   uuid.New(),
		ActorID:     uuid.New(),
		Action:      action,
	}
}

func TestLedgerCreateAssignsUniqueCaseIDs(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	ledger := NewLedger(testDB(t))
	community := uuid.New()

	seen := map[uuid.UUID]bool{}
	for i := 0; i < 20; i++ {
		id, err := ledger.Create(ctx, newEntry(community, models.ActionWarn))
		assert.NoError(err)
		assert.Equal(uuid.Version(4), id.Version())
		assert.False(seen[id], "case id reused")
		seen[id] = true
	}

	entry, err := ledger.Find(ctx, uuid.New())
	assert.Nil(entry)
	assert.ErrorIs(err, storage.ErrCaseNotFound)
}

func TestLedgerCreateRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(testDB(t))

	entry := newEntry(uuid.New(), models.ActionKick)
	id, err := ledger.Create(ctx, entry)
	require.NoError(t, err)

	dup := newEntry(uuid.New(), models.ActionBan)
	dup.ID = id
	_, err = ledger.Create(ctx, dup)
	assert.Error(t, err)

	found, err := ledger.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ActionKick, found.Action)
}

func TestLedgerFinalize(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	ledger := NewLedger(testDB(t))

	id, err := ledger.Create(ctx, newEntry(uuid.New(), models.ActionBan))
	assert.NoError(err)

	found, err := ledger.Find(ctx, id)
	assert.NoError(err)
	assert.Equal(models.CaseStatusPending, found.Status)

	assert.NoError(ledger.Finalize(ctx, id, models.CaseStatusSuccess))
	assert.ErrorIs(ledger.Finalize(ctx, id, models.CaseStatusError), storage.ErrCaseNotPending)
	assert.ErrorIs(ledger.Finalize(ctx, uuid.New(), models.CaseStatusError), storage.ErrCaseNotFound)

	found, err = ledger.Find(ctx, id)
	assert.NoError(err)
	assert.Equal(models.CaseStatusSuccess, found.Status)
}

func TestLedgerToggleHidden(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(testDB(t))
	community := uuid.New()

	id, err := ledger.Create(ctx, newEntry(community, models.ActionMute))
	require.NoError(t, err)

	t.Run("toggles back and forth", func(t *testing.T) {
		hidden, err := ledger.ToggleHidden(ctx, id, community)
		require.NoError(t, err)
		assert.True(t, hidden)

		hidden, err = ledger.ToggleHidden(ctx, id, community)
		require.NoError(t, err)
		assert.False(t, hidden)
	})

	t.Run("other community", func(t *testing.T) {
		_, err := ledger.ToggleHidden(ctx, id, uuid.New())
		assert.ErrorIs(t, err, storage.ErrCaseNotFound)
	})

	t.Run("unknown case", func(t *testing.T) {
		_, err := ledger.ToggleHidden(ctx, uuid.New(), community)
		assert.ErrorIs(t, err, storage.ErrCaseNotFound)
	})

	t.Run("pseudo entry", func(t *testing.T) {
		note := newEntry(community, models.ActionNote)
		note.Pseudo = true
		noteID, err := ledger.Create(ctx, note)
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			_, err = ledger.ToggleHidden(ctx, noteID, community)
			assert.ErrorIs(t, err, storage.ErrCaseNotFound)
		}
		found, err := ledger.Find(ctx, noteID)
		require.NoError(t, err)
		assert.False(t, found.Hidden)
	})

	t.Run("status untouched", func(t *testing.T) {
		found, err := ledger.Find(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.CaseStatusPending, found.Status)
	})
}

func TestLookupRejectsPseudoAndForeignCases(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(testDB(t))
	community := uuid.New()

	id, err := ledger.Create(ctx, newEntry(community, models.ActionWarn))
	require.NoError(t, err)
	note := newEntry(community, models.ActionNote)
	note.Pseudo = true
	noteID, err := ledger.Create(ctx, note)
	require.NoError(t, err)

	entry, err := storage.Lookup(ctx, ledger, id, community)
	require.NoError(t, err)
	assert.Equal(t, id, entry.ID)

	_, err = storage.Lookup(ctx, ledger, id, uuid.New())
	assert.ErrorIs(t, err, storage.ErrCaseNotFound)

	_, err = storage.Lookup(ctx, ledger, noteID, community)
	assert.ErrorIs(t, err, storage.ErrCaseNotFound)
}

func TestLedgerList(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	ledger := NewLedger(testDB(t))
	community := uuid.New()
	subject := uuid.New()

	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	var ids []uuid.UUID
	for _, action := range []models.ActionType{models.ActionWarn, models.ActionMute, models.ActionUnmute} {
		e := newEntry(community, action)
		e.SubjectID = subject
		id, err := ledger.Create(ctx, e)
		assert.NoError(err)
		ids = append(ids, id)
	}
	_, err := ledger.Create(ctx, newEntry(community, models.ActionKick))
	assert.NoError(err)
	_, err = ledger.Create(ctx, newEntry(uuid.New(), models.ActionKick))
	assert.NoError(err)

	_, err = ledger.ToggleHidden(ctx, ids[1], community)
	assert.NoError(err)

	entries, err := ledger.List(ctx, models.ModLogFilter{CommunityID: community, SubjectID: &subject})
	assert.NoError(err)
	if assert.Len(entries, 2) {
		assert.Equal(ids[2], entries[0].ID)
		assert.Equal(ids[0], entries[1].ID)
	}

	entries, err = ledger.List(ctx, models.ModLogFilter{CommunityID: community, SubjectID: &subject, IncludeHidden: true})
	assert.NoError(err)
	assert.Len(entries, 3)

	entries, err = ledger.List(ctx, models.ModLogFilter{CommunityID: community, IncludeHidden: true, Limit: 2})
	assert.NoError(err)
	assert.Len(entries, 2)
}

func punishment(community uuid.UUID, expires time.Time, caseRef uuid.UUID) *models.ActivePunishment {
	return &models.ActivePunishment{
		PunishmentKey: models.PunishmentKey{
			SubjectID:   uuid.New(),
			CommunityID: community,
			Type:        models.ActionMute,
		},
		ExpiresAt: expires,
		CaseRef:   caseRef,
	}
}

func TestPunishmentsUpsertSupersedes(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := NewPunishments(testDB(t))
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	role := uuid.New()

	first := punishment(uuid.New(), now.Add(time.Hour), uuid.New())
	first.Payload.RoleID = &role
	superseded, err := store.Upsert(ctx, first)
	assert.NoError(err)
	assert.Nil(superseded)

	second := *first
	second.CaseRef = uuid.New()
	second.ExpiresAt = now.Add(2 * time.Hour)
	superseded, err = store.Upsert(ctx, &second)
	assert.NoError(err)
	if assert.NotNil(superseded) {
		assert.Equal(first.CaseRef, *superseded)
	}

	got, err := store.Get(ctx, first.PunishmentKey)
	assert.NoError(err)
	assert.Equal(second.CaseRef, got.CaseRef)
	assert.True(second.ExpiresAt.Equal(got.ExpiresAt))
	if assert.NotNil(got.Payload.RoleID) {
		assert.Equal(role, *got.Payload.RoleID)
	}

	var count int64
	assert.NoError(store.db.Model(&activePunishmentRow{}).Count(&count).Error)
	assert.EqualValues(1, count)

	// the superseded case no longer matches the live row
	_, err = store.DeleteIfPresent(ctx, first.PunishmentKey, first.CaseRef)
	assert.ErrorIs(err, storage.ErrAbsent)
}

func TestPunishmentsRestore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := NewPunishments(testDB(t))
	now := time.Now()

	p := punishment(uuid.New(), now, uuid.New())
	ok, err := store.Restore(ctx, p)
	assert.NoError(err)
	assert.True(ok)

	other := *p
	other.CaseRef = uuid.New()
	ok, err = store.Restore(ctx, &other)
	assert.NoError(err)
	assert.False(ok)

	got, err := store.Get(ctx, p.PunishmentKey)
	assert.NoError(err)
	assert.Equal(p.CaseRef, got.CaseRef)
}

func TestPunishmentsDeleteIfPresentIsExclusive(t *testing.T) {
	ctx := context.Background()
	store := NewPunishments(testDB(t))

	p := punishment(uuid.New(), time.Now(), uuid.New())
	_, err := store.Upsert(ctx, p)
	require.NoError(t, err)

	const callers = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		won    int
		absent int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.DeleteIfPresent(ctx, p.PunishmentKey, p.CaseRef)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, storage.ErrAbsent):
				absent++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, callers-1, absent)

	_, err = store.Get(ctx, p.PunishmentKey)
	assert.ErrorIs(t, err, storage.ErrAbsent)
}

func TestPunishmentsListDue(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := NewPunishments(testDB(t))
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	community := uuid.New()

	var due []uuid.UUID
	for i := 0; i < dueBatchSize+5; i++ {
		p := punishment(community, now.Add(-time.Duration(i)*time.Second), uuid.New())
		_, err := store.Upsert(ctx, p)
		assert.NoError(err)
		due = append(due, p.CaseRef)
	}
	future := punishment(community, now.Add(time.Second), uuid.New())
	_, err := store.Upsert(ctx, future)
	assert.NoError(err)

	collect := func() []uuid.UUID {
		var refs []uuid.UUID
		for p, err := range store.ListDue(ctx, now) {
			assert.NoError(err)
			assert.True(p.Due(now))
			refs = append(refs, p.CaseRef)
		}
		return refs
	}

	assert.ElementsMatch(due, collect())
	// restartable: a second scan sees the same rows
	assert.ElementsMatch(due, collect())

	// deleting while iterating does not break the scan
	seen := 0
	for p, err := range store.ListDue(ctx, now) {
		assert.NoError(err)
		_, err = store.DeleteIfPresent(ctx, p.PunishmentKey, p.CaseRef)
		assert.NoError(err)
		seen++
	}
	assert.Equal(len(due), seen)
	assert.Empty(collect())

	// early break stops cleanly
	_, err = store.Upsert(ctx, punishment(community, now, uuid.New()))
	assert.NoError(err)
	_, err = store.Upsert(ctx, punishment(community, now, uuid.New()))
	assert.NoError(err)
	for range store.ListDue(ctx, now) {
		break
	}
	assert.Len(collect(), 2)
}
