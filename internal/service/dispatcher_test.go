package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collaborative-codehub/internal/domain"
	"collaborative-codehub/internal/infra/judge0"
	redisstate "collaborative-codehub/internal/infra/state/redis"
	"collaborative-codehub/internal/repository/mocks"
	"collaborative-codehub/internal/service"
)

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, sub judge0.Submission) (*judge0.Result, error) {
	args := m.Called(ctx, sub)
	var res *judge0.Result
	if args.Get(0) != nil {
		res = args.Get(0).(*judge0.Result)
	}
	return res, args.Error(1)
}

func strPtr(s string) *string { return &s }

func newRedisStore(t *testing.T) *redisstate.RedisRoomStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstate.NewRedisRoomStore(client, "svc:")
}

func TestExecutionDispatcher_RejectsBeforeNetworkCall(t *testing.T) {
	store := new(mocks.RoomStore)
	exec := new(mockExecutor)
	d := service.NewExecutionDispatcher(store, exec, nil)
	ctx := context.Background()
	room := sampleRoom()
	host := domain.Identity{UID: "host", Name: "Hana"}

	tests := []struct {
		name string
		req  service.RunRequest
		want error
	}{
		{"empty code", service.RunRequest{Room: room, Actor: host, Code: ""}, service.ErrEmptyCode},
		{"whitespace code", service.RunRequest{Room: room, Actor: host, Code: "  \n\t"}, service.ErrEmptyCode},
		{"not current editor", service.RunRequest{Room: room, Actor: domain.Identity{UID: "guest"}, Code: "print(1)"}, service.ErrPermissionDenied},
		{"unsupported language", service.RunRequest{Room: room, Actor: host, Code: "x", Language: "brainfuck"}, service.ErrUnsupportedLanguage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Run(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecutionDispatcher_BackendFailureWritesNothing(t *testing.T) {
	store := new(mocks.RoomStore)
	exec := new(mockExecutor)
	d := service.NewExecutionDispatcher(store, exec, nil)

	exec.On("Execute", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused")).Once()

	_, err := d.Run(context.Background(), service.RunRequest{Room: sampleRoom(), Actor: domain.Identity{UID: "host"}, Code: "console.log(1)"})
	assert.ErrorIs(t, err, service.ErrExecutionFailed)
	store.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecutionOutput_FallbackOrder(t *testing.T) {
	tests := []struct {
		name string
		res  judge0.Result
		want string
	}{
		{"stdout wins", judge0.Result{Stdout: strPtr("out"), Stderr: strPtr("err"), CompileOutput: strPtr("cc")}, "out"},
		{"stderr next", judge0.Result{Stderr: strPtr("err"), CompileOutput: strPtr("cc")}, "err"},
		{"compile output next", judge0.Result{Stdout: strPtr(""), CompileOutput: strPtr("main.c:1: error")}, "main.c:1: error"},
		{"nothing at all", judge0.Result{Message: strPtr("ignored")}, service.NoOutput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, service.ExecutionOutput(&tt.res))
		})
	}
}

func TestExecutionDispatcher_HelloWorldRoundTrip(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	room := sampleRoom()
	require.NoError(t, store.Create(ctx, room))

	exec := new(mockExecutor)
	events := new(mocks.EventPublisher)
	code := `console.log("Hello, World!")`
	exec.On("Execute", mock.Anything, judge0.Submission{SourceCode: code, LanguageID: 63}).
		Return(&judge0.Result{Stdout: strPtr("Hello, World!\n"), Status: &judge0.Status{ID: 3, Description: "Accepted"}}, nil).Once()
	events.On("Publish", mock.Anything, mock.MatchedBy(func(ev domain.RoomEvent) bool {
		return ev.Type == domain.EventExecutionCompleted && ev.RoomID == room.ID
	})).Return(nil).Once()

	// 另一个观察者在运行前订阅
	sub, err := store.Subscribe(ctx, room.ID)
	require.NoError(t, err)
	defer sub.Close()
	<-sub.Events()

	d := service.NewExecutionDispatcher(store, exec, events)
	got, err := d.Run(ctx, service.RunRequest{Room: room, Actor: domain.Identity{UID: "host", Name: "Hana"}, Code: code})
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!\n", got.Output)
	assert.Equal(t, "Hana", got.ExecutedBy)
	assert.Equal(t, "javascript", got.Language)

	select {
	case ev := <-sub.Events():
		require.NoError(t, ev.Err)
		require.NotNil(t, ev.Snapshot.Record.LastExecution)
		assert.Equal(t, "Hello, World!\n", ev.Snapshot.Record.LastExecution.Output)
		assert.Equal(t, "Hana", ev.Snapshot.Record.LastExecution.ExecutedBy)
	case <-time.After(2 * time.Second):
		t.Fatal("observer did not see the execution result")
	}
	exec.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestExecutionDispatcher_SoftTimeoutPublishesLastResult(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	room := sampleRoom()
	require.NoError(t, store.Create(ctx, room))

	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, mock.Anything).
		Return(&judge0.Result{Status: &judge0.Status{ID: 2, Description: "Processing"}}, nil).Once()

	d := service.NewExecutionDispatcher(store, exec, nil)
	got, err := d.Run(ctx, service.RunRequest{Room: room, Actor: domain.Identity{UID: "host", Email: "hana@example.com"}, Code: "while(true){}"})
	require.NoError(t, err)
	assert.Equal(t, service.NoOutput, got.Output)
	assert.Equal(t, "hana@example.com", got.ExecutedBy)

	snap, err := store.Get(ctx, room.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.Record.LastExecution)
	assert.Equal(t, service.NoOutput, snap.Record.LastExecution.Output)
}

func TestExecutionDispatcher_Evaluate(t *testing.T) {
	exec := new(mockExecutor)
	d := service.NewExecutionDispatcher(new(mocks.RoomStore), exec, nil)
	ctx := context.Background()

	exec.On("Execute", ctx, judge0.Submission{SourceCode: "int main(){", LanguageID: 50, Stdin: "in"}).
		Return(&judge0.Result{CompileOutput: strPtr("syntax error"), Message: strPtr("Exited"), Status: &judge0.Status{ID: 6, Description: "Compilation Error"}}, nil).Once()

	out, err := d.Evaluate(ctx, "int main(){", 50, "in")
	require.NoError(t, err)
	assert.Equal(t, "", out.Output)
	assert.Equal(t, "syntax error", out.Error)
	assert.Equal(t, "Compilation Error", out.Status)

	_, err = d.Evaluate(ctx, "x", 999, "")
	assert.ErrorIs(t, err, service.ErrUnsupportedLanguage)
}
