package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collaborative-codehub/internal/domain"
	"collaborative-codehub/internal/infra/judge0"
	redisstate "collaborative-codehub/internal/infra/state/redis"
	"collaborative-codehub/internal/service"
)

const testDebounce = 40 * time.Millisecond

var (
	hostID  = domain.Identity{UID: "host", Name: "Hana", Email: "hana@example.com"}
	guestID = domain.Identity{UID: "guest", Name: "Gus"}
)

func seededStore(t *testing.T) *redisstate.RedisRoomStore {
	t.Helper()
	store := newRedisStore(t)
	require.NoError(t, store.Create(context.Background(), sampleRoom()))
	return store
}

func openSession(t *testing.T, deps service.SessionDeps, roomID string, id domain.Identity) *service.RoomSession {
	t.Helper()
	if deps.Debounce == 0 {
		deps.Debounce = testDebounce
	}
	s := service.OpenSession(context.Background(), deps, roomID, id)
	t.Cleanup(s.Close)
	return s
}

func waitView(t *testing.T, s *service.RoomSession, pred func(v *service.SessionView) bool) *service.SessionView {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			require.True(t, ok, "session events closed while waiting for view")
			if ev.Type == service.EventView && pred(ev.View) {
				return ev.View
			}
		case <-deadline:
			t.Fatal("timed out waiting for session view")
			return nil
		}
	}
}

func waitNotice(t *testing.T, s *service.RoomSession, level string) *service.Notice {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			require.True(t, ok, "session events closed while waiting for notice")
			if ev.Type == service.EventNotice && ev.Notice.Level == level {
				return ev.Notice
			}
		case <-deadline:
			t.Fatal("timed out waiting for notice")
			return nil
		}
	}
}

func active(v *service.SessionView) bool { return v.Status == service.StatusActive }

func currentSnapshot(t *testing.T, store *redisstate.RedisRoomStore) *domain.Snapshot {
	t.Helper()
	snap, err := store.Get(context.Background(), "room-1")
	require.NoError(t, err)
	return snap
}

func TestRoomSession_DerivesRoleFlags(t *testing.T) {
	store := seededStore(t)

	host := openSession(t, service.SessionDeps{Store: store}, "room-1", hostID)
	v := waitView(t, host, active)
	assert.True(t, v.IsHost)
	assert.True(t, v.IsCurrentEditor)
	assert.Equal(t, domain.LanguageTemplate("javascript"), v.Code)

	guest := openSession(t, service.SessionDeps{Store: store}, "room-1", guestID)
	v = waitView(t, guest, active)
	assert.False(t, v.IsHost)
	assert.False(t, v.IsCurrentEditor)
	assert.Len(t, v.Participants, 3)
}

func TestRoomSession_EditorWritesLastValueAfterQuietPeriod(t *testing.T) {
	store := seededStore(t)
	s := openSession(t, service.SessionDeps{Store: store}, "room-1", hostID)
	waitView(t, s, active)

	for _, code := range []string{"c", "co", "con", "console.log(42)"} {
		require.NoError(t, s.Edit(code))
	}

	assert.Eventually(t, func() bool {
		return currentSnapshot(t, store).Record.CurrentCode == "console.log(42)"
	}, 2*time.Second, 10*time.Millisecond)

	snap := currentSnapshot(t, store)
	assert.Equal(t, uint64(2), snap.Version, "a burst of keystrokes produces one write")
	assert.Equal(t, "host", snap.Record.LastUpdatedBy)
}

func TestRoomSession_NonEditorNeverWrites(t *testing.T) {
	store := seededStore(t)
	s := openSession(t, service.SessionDeps{Store: store}, "room-1", guestID)
	waitView(t, s, active)

	require.NoError(t, s.Edit("sneaky edit"))
	time.Sleep(4 * testDebounce)

	snap := currentSnapshot(t, store)
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, domain.LanguageTemplate("javascript"), snap.Record.CurrentCode)
}

func TestRoomSession_AutoEnrollIsIdempotent(t *testing.T) {
	store := seededStore(t)
	newcomer := domain.Identity{UID: "newcomer", Name: "Nia", Email: "nia@example.com"}

	s := openSession(t, service.SessionDeps{Store: store}, "room-1", newcomer)
	v := waitView(t, s, func(v *service.SessionView) bool { _, ok := v.Participants["newcomer"]; return ok })
	p := v.Participants["newcomer"]
	assert.Equal(t, "Nia", p.Name)
	assert.Equal(t, domain.RoleParticipant, p.Role)
	assert.False(t, p.Muted)
	s.Close()

	again := openSession(t, service.SessionDeps{Store: store}, "room-1", newcomer)
	waitView(t, again, active)
	time.Sleep(50 * time.Millisecond)

	snap := currentSnapshot(t, store)
	assert.Len(t, snap.Record.Participants, 4)
	assert.True(t, p.JoinedAt.Equal(snap.Record.Participants["newcomer"].JoinedAt), "rejoin must not reset joinedAt")
}

func TestRoomSession_MissingRoomIsNotFound(t *testing.T) {
	store := newRedisStore(t)
	s := openSession(t, service.SessionDeps{Store: store}, "ghost", guestID)

	v := waitView(t, s, func(v *service.SessionView) bool { return v.Status != service.StatusLoading })
	assert.Equal(t, service.StatusNotFound, v.Status)

	require.NoError(t, s.Edit("x"))
	_, err := store.Get(context.Background(), "ghost")
	assert.Error(t, err, "a not-found session never creates the room")
}

func TestRoomSession_HostTransfersAuthority(t *testing.T) {
	store := seededStore(t)
	host := openSession(t, service.SessionDeps{Store: store}, "room-1", hostID)
	guest := openSession(t, service.SessionDeps{Store: store}, "room-1", guestID)
	waitView(t, host, active)
	waitView(t, guest, active)

	require.NoError(t, host.TransferEditor("guest"))
	n := waitNotice(t, host, service.NoticeSuccess)
	assert.Contains(t, n.Message, "Gus")

	v := waitView(t, guest, func(v *service.SessionView) bool { return v.IsCurrentEditor })
	assert.Equal(t, "guest", v.CurrentEditor)

	// 新的编辑者可以写入，原编辑者不再可以
	require.NoError(t, guest.Edit("print('guest')"))
	assert.Eventually(t, func() bool {
		return currentSnapshot(t, store).Record.CurrentCode == "print('guest')"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRoomSession_NonHostTransferRejected(t *testing.T) {
	store := seededStore(t)
	guest := openSession(t, service.SessionDeps{Store: store}, "room-1", guestID)
	waitView(t, guest, active)

	require.NoError(t, guest.TransferEditor("guest"))
	waitNotice(t, guest, service.NoticeError)
	assert.Equal(t, "host", currentSnapshot(t, store).Record.CurrentEditor)
}

func TestRoomSession_MuteTouchesOnlyTarget(t *testing.T) {
	store := seededStore(t)
	host := openSession(t, service.SessionDeps{Store: store}, "room-1", hostID)
	waitView(t, host, active)

	require.NoError(t, host.SetMuted("guest", true))
	waitNotice(t, host, service.NoticeSuccess)
	require.NoError(t, host.SetMuted("guest", true))
	waitNotice(t, host, service.NoticeSuccess)

	snap := currentSnapshot(t, store)
	assert.True(t, snap.Record.Participants["guest"].Muted)
	assert.False(t, snap.Record.Participants["other"].Muted)
	assert.Equal(t, "Gus", snap.Record.Participants["guest"].Name)
}

func TestRoomSession_LanguageChangeResetsBufferForEveryone(t *testing.T) {
	store := seededStore(t)
	host := openSession(t, service.SessionDeps{Store: store}, "room-1", hostID)
	guest := openSession(t, service.SessionDeps{Store: store}, "room-1", guestID)
	waitView(t, host, active)
	waitView(t, guest, active)

	require.NoError(t, host.ChangeLanguage("python"))
	v := waitView(t, host, func(v *service.SessionView) bool { return v.Language == "python" })
	assert.Equal(t, domain.LanguageTemplate("python"), v.Code)

	gv := waitView(t, guest, func(v *service.SessionView) bool { return v.Language == "python" })
	assert.Equal(t, domain.LanguageTemplate("python"), gv.Code)

	snap := currentSnapshot(t, store)
	assert.Equal(t, "python", snap.Record.CurrentLanguage)
	assert.Equal(t, domain.LanguageTemplate("python"), snap.Record.CurrentCode)
}

func TestRoomSession_RunPublishesOutputToObservers(t *testing.T) {
	store := seededStore(t)
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, mock.MatchedBy(func(sub judge0.Submission) bool {
		return sub.LanguageID == 63 && sub.SourceCode == `console.log("Hello, World!")`
	})).Return(&judge0.Result{Stdout: strPtr("Hello, World!\n"), Status: &judge0.Status{ID: 3, Description: "Accepted"}}, nil).Once()

	deps := service.SessionDeps{Store: store, Dispatcher: service.NewExecutionDispatcher(store, exec, nil)}
	host := openSession(t, deps, "room-1", hostID)
	guest := openSession(t, deps, "room-1", guestID)
	waitView(t, host, active)
	waitView(t, guest, active)

	require.NoError(t, host.Edit(`console.log("Hello, World!")`))
	require.NoError(t, host.Run(""))
	waitNotice(t, host, service.NoticeSuccess)

	v := waitView(t, guest, func(v *service.SessionView) bool { return v.LastExecution != nil })
	assert.Equal(t, "Hello, World!\n", v.LastExecution.Output)
	assert.Equal(t, "Hana", v.LastExecution.ExecutedBy)
	exec.AssertExpectations(t)
}

func TestRoomSession_GuestRunIsRejected(t *testing.T) {
	store := seededStore(t)
	exec := new(mockExecutor)
	deps := service.SessionDeps{Store: store, Dispatcher: service.NewExecutionDispatcher(store, exec, nil)}
	guest := openSession(t, deps, "room-1", guestID)
	waitView(t, guest, active)

	require.NoError(t, guest.Run(""))
	waitNotice(t, guest, service.NoticeError)
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestRoomSession_CloseIsIdempotent(t *testing.T) {
	store := seededStore(t)
	s := service.OpenSession(context.Background(), service.SessionDeps{Store: store, Debounce: testDebounce}, "room-1", hostID)
	waitView(t, s, active)

	s.Close()
	s.Close()
	assert.ErrorIs(t, s.Edit("late"), service.ErrSessionClosed)

	var last *service.SessionView
	for ev := range s.Events() {
		if ev.Type == service.EventView {
			last = ev.View
		}
	}
	require.NotNil(t, last)
	assert.Equal(t, service.StatusClosed, last.Status)
}

func TestRoomSession_PendingEditFlushedOnClose(t *testing.T) {
	store := seededStore(t)
	s := service.OpenSession(context.Background(), service.SessionDeps{Store: store, Debounce: time.Hour}, "room-1", hostID)
	waitView(t, s, active)

	require.NoError(t, s.Edit("unsaved"))
	// 等待意图被事件循环处理
	time.Sleep(20 * time.Millisecond)
	s.Close()

	assert.Equal(t, "unsaved", currentSnapshot(t, store).Record.CurrentCode)
}
