package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"collaborative-codehub/internal/domain"
	"collaborative-codehub/internal/repository"
)

// DefaultDebounce 是代码写入的静默期。
const DefaultDebounce = 300 * time.Millisecond

// SessionStatus 是会话的加载状态。
type SessionStatus string

const (
	StatusLoading  SessionStatus = "loading"
	StatusActive   SessionStatus = "active"
	StatusNotFound SessionStatus = "not_found"
	StatusError    SessionStatus = "error"
	StatusClosed   SessionStatus = "closed"
)

// 会话事件类型
const (
	EventView   = "view"
	EventNotice = "notice"
)

// 提示级别
const (
	NoticeSuccess = "success"
	NoticeError   = "error"
	NoticeInfo    = "info"
)

// SessionView 是某一时刻会话的本地视图。Code 是本地缓冲，不一定等于已存储的值。
type SessionView struct {
	RoomID          string                        `json:"roomId"`
	Status          SessionStatus                 `json:"status"`
	Version         uint64                        `json:"version"`
	Title           string                        `json:"title"`
	Description     string                        `json:"description"`
	HostID          string                        `json:"hostId"`
	CurrentEditor   string                        `json:"currentEditor"`
	IsHost          bool                          `json:"isHost"`
	IsCurrentEditor bool                          `json:"isCurrentEditor"`
	Code            string                        `json:"code"`
	Language        string                        `json:"language"`
	Participants    map[string]domain.Participant `json:"participants"`
	LastExecution   *domain.Execution             `json:"lastExecution,omitempty"`
	Running         bool                          `json:"running"`
	Error           string                        `json:"error,omitempty"`
}

// Notice 是给用户的一次性提示。
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// SessionEvent 是会话发给界面层的事件：view 或 notice。
type SessionEvent struct {
	Type   string       `json:"type"`
	View   *SessionView `json:"view,omitempty"`
	Notice *Notice      `json:"notice,omitempty"`
}

// SessionDeps 是会话依赖的组件。
type SessionDeps struct {
	Store      repository.RoomStore
	Authority  *AuthorityManager
	Dispatcher *ExecutionDispatcher
	Events     repository.EventPublisher
	Debounce   time.Duration
	Now        func() time.Time
}

type intentKind int

const (
	intentEdit intentKind = iota
	intentLanguage
	intentTransfer
	intentMute
	intentRun
)

type intent struct {
	kind     intentKind
	code     string
	language string
	target   string
	muted    bool
	stdin    string
}

// writeJob 由写入 goroutine 按 FIFO 顺序执行，done 回到事件循环中执行。
type writeJob struct {
	name string
	run  func(ctx context.Context) error
	done func(err error)
}

type loopResult struct {
	done func(err error)
	err  error
}

// RoomSession 是一个连接在一个房间中的会话控制器。
// 所有房间逻辑都在单个事件循环 goroutine 中执行；写入和运行在后台完成，
// 结果以事件的形式回到循环。
type RoomSession struct {
	deps     SessionDeps
	roomID   string
	identity domain.Identity
	log      *logrus.Entry

	intents chan intent
	writes  chan writeJob
	results chan loopResult
	events  chan SessionEvent

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}

	// 以下字段只在事件循环中访问
	sub       repository.RoomSubscription
	codeSync  *CodeSync
	record    *domain.RoomRecord
	version   uint64
	status    SessionStatus
	lastErr   string
	running   bool
	enrolled  bool
	debounce  *time.Timer
	debounceC <-chan time.Time
}

// OpenSession 订阅房间并启动事件循环。订阅失败时会话直接进入 error 状态。
func OpenSession(ctx context.Context, deps SessionDeps, roomID string, identity domain.Identity) *RoomSession {
	if deps.Store == nil {
		panic("RoomStore cannot be nil for RoomSession")
	}
	if deps.Events == nil {
		deps.Events = repository.NopPublisher{}
	}
	if deps.Authority == nil {
		deps.Authority = NewAuthorityManager(deps.Store, deps.Events)
	}
	if deps.Debounce <= 0 {
		deps.Debounce = DefaultDebounce
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	sessCtx, cancel := context.WithCancel(ctx)
	s := &RoomSession{
		deps:     deps,
		roomID:   roomID,
		identity: identity,
		log:      logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": identity.UID, "component": "room_session"}),
		intents:  make(chan intent, 32),
		writes:   make(chan writeJob, 64),
		results:  make(chan loopResult, 64),
		events:   make(chan SessionEvent, 64),
		ctx:      sessCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		codeSync: NewCodeSync(),
		status:   StatusLoading,
	}

	sub, err := deps.Store.Subscribe(sessCtx, roomID)
	if err != nil {
		s.log.WithError(err).Error("Failed to subscribe to room")
		s.status = StatusError
		s.lastErr = err.Error()
	} else {
		s.sub = sub
	}

	go s.writer()
	go s.loop()
	return s
}

// Events 返回会话事件通道。会话关闭后通道被关闭。
func (s *RoomSession) Events() <-chan SessionEvent { return s.events }

func (s *RoomSession) RoomID() string            { return s.roomID }
func (s *RoomSession) Identity() domain.Identity { return s.identity }

// Edit 提交一次本地按键后的完整缓冲。
func (s *RoomSession) Edit(code string) error {
	return s.submit(intent{kind: intentEdit, code: code})
}

// ChangeLanguage 切换语言并重置缓冲为语言模板。
func (s *RoomSession) ChangeLanguage(language string) error {
	return s.submit(intent{kind: intentLanguage, language: language})
}

// TransferEditor 请求把编辑权交给 target (仅房主)。
func (s *RoomSession) TransferEditor(target string) error {
	return s.submit(intent{kind: intentTransfer, target: target})
}

// SetMuted 请求修改 target 的静音标记 (仅房主)。
func (s *RoomSession) SetMuted(target string, muted bool) error {
	return s.submit(intent{kind: intentMute, target: target, muted: muted})
}

// Run 运行当前缓冲。
func (s *RoomSession) Run(stdin string) error {
	return s.submit(intent{kind: intentRun, stdin: stdin})
}

// Close 结束会话并取消订阅。可以重复调用。
func (s *RoomSession) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *RoomSession) submit(in intent) error {
	select {
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
	}
	select {
	case s.intents <- in:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

func (s *RoomSession) loop() {
	defer close(s.done)
	defer close(s.events)
	defer s.teardown()

	var subEvents <-chan repository.RoomEvent
	if s.sub != nil {
		subEvents = s.sub.Events()
	} else {
		s.emitView()
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-subEvents:
			if !ok {
				subEvents = nil
				if s.status == StatusActive || s.status == StatusLoading {
					s.fail(ErrSubscriptionEnded)
				}
				continue
			}
			if ev.Err != nil {
				s.handleSubscriptionError(ev.Err)
				continue
			}
			s.applySnapshot(ev.Snapshot)
		case in := <-s.intents:
			s.handleIntent(in)
		case <-s.debounceC:
			s.debounceC = nil
			s.flush()
		case r := <-s.results:
			if r.done != nil {
				r.done(r.err)
			}
		}
	}
}

func (s *RoomSession) teardown() {
	s.stopDebounce()
	// 已排队的按键先并入缓冲，其他意图丢弃
	for drained := false; !drained; {
		select {
		case in := <-s.intents:
			if in.kind == intentEdit && s.status == StatusActive && s.record != nil {
				s.codeSync.LocalEdit(in.code)
			}
		default:
			drained = true
		}
	}
	// 关闭前写出尚未到期的缓冲
	if code, ok := s.codeSync.Flush(); ok && s.status == StatusActive {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if _, err := s.deps.Store.Update(ctx, s.roomID, s.codeFields(code)); err != nil {
			s.log.WithError(err).Warn("Failed to flush pending edit on close")
		}
		cancel()
	}
	if s.sub != nil {
		if err := s.sub.Close(); err != nil {
			s.log.WithError(err).Debug("Error closing room subscription")
		}
	}
	s.status = StatusClosed
	s.emitView()
	s.log.Info("Room session closed")
}

func (s *RoomSession) handleSubscriptionError(err error) {
	if errors.Is(err, repository.ErrRoomNotFound) {
		if s.status == StatusLoading {
			s.log.Warn("Room not found")
			s.status = StatusNotFound
			s.emitView()
			return
		}
		// 房间在会话期间被删除
		s.log.Warn("Room disappeared while session was active")
	}
	s.fail(err)
}

func (s *RoomSession) fail(err error) {
	s.log.WithError(err).Error("Room subscription failed")
	s.stopDebounce()
	s.status = StatusError
	s.lastErr = err.Error()
	s.emitView()
}

func (s *RoomSession) applySnapshot(snap *domain.Snapshot) {
	if snap == nil || snap.Record == nil {
		return
	}
	rec := snap.Record
	s.record = rec
	s.version = snap.Version
	s.status = StatusActive
	s.lastErr = ""

	if dropped := s.codeSync.SetEditor(rec.IsCurrentEditor(s.identity.UID)); dropped {
		s.stopDebounce()
		s.log.Info("Editor authority lost, pending edit discarded")
	}
	s.noteRemote(s.codeSync.ApplyRemote(snap.Version, rec.CurrentCode, rec.CurrentLanguage))

	if !s.enrolled {
		s.enrolled = true
		if !rec.HasParticipant(s.identity.UID) {
			s.enroll()
		}
	}
	s.emitView()
}

// noteRemote 处理远端值对本地缓冲的影响，返回视图是否变化。
func (s *RoomSession) noteRemote(res RemoteResult) bool {
	if res.DroppedPending {
		s.stopDebounce()
		s.log.WithField("version", s.version).Warn("Pending local edit overwritten by a concurrent remote write")
	}
	return res.ViewReplaced || res.LanguageChanged
}

// enroll 把当前用户加入参与者列表。并发或重复加入由存储层保证只生效一次。
func (s *RoomSession) enroll() {
	p := domain.NewParticipant(s.identity, domain.RoleParticipant, s.deps.Now())
	var added bool
	s.enqueue(writeJob{
		name: "add_participant",
		run: func(ctx context.Context) error {
			var err error
			added, err = s.deps.Store.AddParticipant(ctx, s.roomID, s.identity.UID, p)
			return err
		},
		done: func(err error) {
			if err != nil {
				s.log.WithError(err).Error("Failed to join room")
				s.notice(NoticeError, "Failed to join room")
				return
			}
			if added {
				s.log.Info("Joined room as participant")
				publishEvent(s.ctx, s.deps.Events, domain.RoomEvent{
					Type:      domain.EventParticipantJoined,
					RoomID:    s.roomID,
					ActorUID:  s.identity.UID,
					Timestamp: p.JoinedAt,
				})
			}
		},
	})
}

func (s *RoomSession) handleIntent(in intent) {
	if s.status != StatusActive || s.record == nil {
		if in.kind != intentEdit {
			s.notice(NoticeError, "Room is not available")
		}
		return
	}
	switch in.kind {
	case intentEdit:
		if s.codeSync.LocalEdit(in.code) {
			s.armDebounce()
		}
	case intentLanguage:
		s.changeLanguage(in.language)
	case intentTransfer:
		s.transferEditor(in.target)
	case intentMute:
		s.setMuted(in.target, in.muted)
	case intentRun:
		s.run(in.stdin)
	}
}

func (s *RoomSession) codeFields(code string) domain.Fields {
	return domain.Fields{
		domain.FieldCurrentCode:   code,
		domain.FieldLastUpdated:   domain.FormatTime(s.deps.Now()),
		domain.FieldLastUpdatedBy: s.identity.UID,
	}
}

func (s *RoomSession) flush() {
	code, ok := s.codeSync.Flush()
	if !ok {
		return
	}
	fields := s.codeFields(code)
	var version uint64
	s.enqueue(writeJob{
		name: "write_code",
		run: func(ctx context.Context) (err error) {
			version, err = s.deps.Store.Update(ctx, s.roomID, fields)
			return err
		},
		done: func(err error) {
			if err != nil {
				s.log.WithError(err).Error("Failed to save code")
				if s.noteRemote(s.codeSync.WriteFailed(code)) {
					s.emitView()
				}
				s.notice(NoticeError, "Failed to save code")
				return
			}
			if s.noteRemote(s.codeSync.WriteAcked(version)) {
				s.emitView()
			}
		},
	})
}

func (s *RoomSession) changeLanguage(language string) {
	template, err := s.codeSync.ChangeLanguage(language)
	if err != nil {
		s.notice(NoticeError, userMessage(err))
		return
	}
	s.stopDebounce()
	fields := s.codeFields(template)
	fields[domain.FieldCurrentLanguage] = language
	var version uint64
	s.enqueue(writeJob{
		name: "change_language",
		run: func(ctx context.Context) (err error) {
			version, err = s.deps.Store.Update(ctx, s.roomID, fields)
			return err
		},
		done: func(err error) {
			if err != nil {
				s.log.WithError(err).Error("Failed to change language")
				if s.noteRemote(s.codeSync.WriteFailed(template)) {
					s.emitView()
				}
				s.notice(NoticeError, "Failed to change language")
				return
			}
			if s.noteRemote(s.codeSync.WriteAcked(version)) {
				s.emitView()
			}
		},
	})
	// 本地视图已同步切换为模板
	s.emitView()
}

func (s *RoomSession) transferEditor(target string) {
	room := s.record.Clone()
	s.enqueue(writeJob{
		name: "transfer_editor",
		run: func(ctx context.Context) error {
			return s.deps.Authority.TransferEditor(ctx, room, s.identity.UID, target)
		},
		done: func(err error) {
			if err != nil {
				s.notice(NoticeError, userMessage(err))
				return
			}
			name := target
			if p, ok := room.Participants[target]; ok && p.Name != "" {
				name = p.Name
			}
			s.notice(NoticeSuccess, fmt.Sprintf("Editor control transferred to %s", name))
		},
	})
}

func (s *RoomSession) setMuted(target string, muted bool) {
	room := s.record.Clone()
	s.enqueue(writeJob{
		name: "set_muted",
		run: func(ctx context.Context) error {
			return s.deps.Authority.SetMuted(ctx, room, s.identity.UID, target, muted)
		},
		done: func(err error) {
			if err != nil {
				s.notice(NoticeError, userMessage(err))
				return
			}
			verb := "unmuted"
			if muted {
				verb = "muted"
			}
			s.notice(NoticeSuccess, fmt.Sprintf("Participant %s", verb))
		},
	})
}

// run 在独立 goroutine 中执行，不占用写入队列。
func (s *RoomSession) run(stdin string) {
	if s.deps.Dispatcher == nil {
		s.notice(NoticeError, "Code execution is not configured")
		return
	}
	req := RunRequest{
		Room:     s.record.Clone(),
		Actor:    s.identity,
		Code:     s.codeSync.View(),
		Language: s.codeSync.Language(),
		Stdin:    stdin,
	}
	s.running = true
	s.emitView()

	go func() {
		_, err := s.deps.Dispatcher.Run(s.ctx, req)
		s.post(loopResult{err: err, done: func(err error) {
			s.running = false
			if err != nil {
				s.notice(NoticeError, userMessage(err))
			} else {
				s.notice(NoticeSuccess, "Code executed successfully")
			}
			s.emitView()
		}})
	}()
}

func (s *RoomSession) enqueue(job writeJob) {
	select {
	case s.writes <- job:
	default:
		s.log.WithField("write", job.name).Error("Write queue full, dropping write")
		if job.done != nil {
			job.done(fmt.Errorf("write queue full"))
		}
	}
}

func (s *RoomSession) post(r loopResult) {
	select {
	case s.results <- r:
	case <-s.ctx.Done():
	}
}

// writer 串行执行写入，保证同一会话的写入按提交顺序到达存储层。
func (s *RoomSession) writer() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.writes:
			err := job.run(s.ctx)
			if err != nil && s.ctx.Err() != nil {
				return
			}
			s.post(loopResult{done: job.done, err: err})
		}
	}
}

func (s *RoomSession) armDebounce() {
	if s.debounce == nil {
		s.debounce = time.NewTimer(s.deps.Debounce)
	} else {
		if !s.debounce.Stop() {
			select {
			case <-s.debounce.C:
			default:
			}
		}
		s.debounce.Reset(s.deps.Debounce)
	}
	s.debounceC = s.debounce.C
}

func (s *RoomSession) stopDebounce() {
	if s.debounce != nil && !s.debounce.Stop() {
		select {
		case <-s.debounce.C:
		default:
		}
	}
	s.debounceC = nil
}

func (s *RoomSession) view() *SessionView {
	v := &SessionView{
		RoomID:          s.roomID,
		Status:          s.status,
		Version:         s.version,
		IsCurrentEditor: s.codeSync.IsEditor(),
		Code:            s.codeSync.View(),
		Language:        s.codeSync.Language(),
		Running:         s.running,
		Error:           s.lastErr,
	}
	if s.record != nil {
		rec := s.record.Clone()
		v.Title = rec.Title
		v.Description = rec.Description
		v.HostID = rec.HostID
		v.CurrentEditor = rec.CurrentEditor
		v.IsHost = rec.IsHost(s.identity.UID)
		v.Participants = rec.Participants
		v.LastExecution = rec.LastExecution
	}
	return v
}

func (s *RoomSession) emitView() {
	s.emit(SessionEvent{Type: EventView, View: s.view()})
}

func (s *RoomSession) notice(level, message string) {
	s.emit(SessionEvent{Type: EventNotice, Notice: &Notice{Level: level, Message: message}})
}

// emit 非阻塞发送，消费方跟不上时丢弃事件。
func (s *RoomSession) emit(ev SessionEvent) {
	select {
	case s.events <- ev:
	default:
		s.log.WithField("event", ev.Type).Warn("Session event buffer full, dropping event")
	}
}

// userMessage 把服务层错误转换为提示文本。
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "You do not have permission to do that"
	case errors.Is(err, ErrNotParticipant):
		return "That user is not in this room"
	case errors.Is(err, ErrEmptyCode):
		return "Please write some code first"
	case errors.Is(err, ErrUnsupportedLanguage):
		return "Unsupported language"
	case errors.Is(err, ErrExecutionFailed):
		return "Failed to execute code"
	case errors.Is(err, ErrRoomNotFound):
		return "Room not found"
	default:
		return "Something went wrong"
	}
}
