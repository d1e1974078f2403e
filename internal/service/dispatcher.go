package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"collaborative-codehub/internal/domain"
	"collaborative-codehub/internal/infra/judge0"
	"collaborative-codehub/internal/repository"
)

// NoOutput 是运行结果没有任何输出时的占位文本。
const NoOutput = "No output"

// Executor 提交一段代码并等待结果 (由 judge0.Client 实现)。
type Executor interface {
	Execute(ctx context.Context, sub judge0.Submission) (*judge0.Result, error)
}

// RunRequest 是房间内的一次运行请求。
type RunRequest struct {
	Room  *domain.RoomRecord
	Actor domain.Identity
	Code  string
	// Language 为空时使用房间当前语言
	Language string
	Stdin    string
}

// RunOutcome 是 /api/run 的结果形状。
type RunOutcome struct {
	Output string
	Error  string
	Status string
}

// ExecutionDispatcher 把当前缓冲提交到执行后端，并把结果写回房间。
type ExecutionDispatcher struct {
	store    repository.RoomStore
	executor Executor
	events   repository.EventPublisher
	now      func() time.Time
}

// NewExecutionDispatcher 创建 ExecutionDispatcher 实例。events 可以为 nil。
func NewExecutionDispatcher(store repository.RoomStore, executor Executor, events repository.EventPublisher) *ExecutionDispatcher {
	if store == nil || executor == nil {
		panic("RoomStore and Executor cannot be nil for ExecutionDispatcher")
	}
	if events == nil {
		events = repository.NopPublisher{}
	}
	return &ExecutionDispatcher{store: store, executor: executor, events: events, now: time.Now}
}

// Run 执行一次房间内运行。空代码、非编辑者和未知语言在任何网络调用之前被拒绝。
// 后端失败时返回 ErrExecutionFailed，房间记录不被写入。
func (d *ExecutionDispatcher) Run(ctx context.Context, req RunRequest) (*domain.Execution, error) {
	if req.Room == nil {
		return nil, ErrRoomNotFound
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, ErrEmptyCode
	}
	if !req.Room.IsCurrentEditor(req.Actor.UID) {
		return nil, ErrPermissionDenied
	}
	language := req.Language
	if language == "" {
		language = req.Room.CurrentLanguage
	}
	lang, ok := domain.LookupLanguage(language)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}

	logCtx := logrus.WithFields(logrus.Fields{"room_id": req.Room.ID, "user_id": req.Actor.UID, "language": lang.Key, "operation": "run"})
	logCtx.Info("Dispatching code execution")

	result, err := d.executor.Execute(ctx, judge0.Submission{SourceCode: req.Code, LanguageID: lang.BackendID, Stdin: req.Stdin})
	if err != nil {
		logCtx.WithError(err).Warn("Code execution failed")
		return nil, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: backend returned no result", ErrExecutionFailed)
	}

	exec := domain.Execution{
		Output:     ExecutionOutput(result),
		ExecutedBy: req.Actor.DisplayLabel(),
		Timestamp:  d.now(),
		Language:   lang.Key,
	}
	version, err := d.store.Update(ctx, req.Room.ID, domain.ExecutionFields(exec))
	if err != nil {
		logCtx.WithError(err).Error("Failed to publish execution result")
		return nil, fmt.Errorf("publish execution result: %w", mapStoreError(err))
	}
	logCtx.WithFields(logrus.Fields{"version": version, "status": result.StatusDescription()}).Info("Execution result published")

	publishEvent(ctx, d.events, domain.RoomEvent{
		Type:      domain.EventExecutionCompleted,
		RoomID:    req.Room.ID,
		ActorUID:  req.Actor.UID,
		Version:   version,
		Data:      map[string]string{"language": lang.Key, "status": result.StatusDescription()},
		Timestamp: exec.Timestamp,
	})
	return &exec, nil
}

// Evaluate 不经过房间直接运行一段代码，供 /api/run 使用。
// languageID 必须是语言表中的后端 ID。
func (d *ExecutionDispatcher) Evaluate(ctx context.Context, code string, languageID int, stdin string) (*RunOutcome, error) {
	if _, ok := domain.LookupLanguageByBackendID(languageID); !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnsupportedLanguage, languageID)
	}
	result, err := d.executor.Execute(ctx, judge0.Submission{SourceCode: code, LanguageID: languageID, Stdin: stdin})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: backend returned no result", ErrExecutionFailed)
	}
	return &RunOutcome{
		Output: result.StdoutText(),
		Error:  firstNonEmpty(result.StderrText(), result.CompileOutputText(), result.MessageText()),
		Status: result.StatusDescription(),
	}, nil
}

// ExecutionOutput 把后端结果映射为一段输出：stdout，其次 stderr，其次编译输出。
func ExecutionOutput(r *judge0.Result) string {
	if out := firstNonEmpty(r.StdoutText(), r.StderrText(), r.CompileOutputText()); out != "" {
		return out
	}
	return NoOutput
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
