package service

import "collaborative-codehub/internal/domain"

// SyncState 是代码同步通道的状态。
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncPendingWrite
	SyncApplyingRemote
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncPendingWrite:
		return "pending_write"
	case SyncApplyingRemote:
		return "applying_remote"
	default:
		return "unknown"
	}
}

// RemoteResult 描述一次远端快照对本地视图的影响。
type RemoteResult struct {
	ViewReplaced    bool
	LanguageChanged bool
	// DroppedPending 表示未写出的本地缓冲被远端值覆盖 (后写者胜)。
	DroppedPending bool
}

// CodeSync 是单个会话内 currentCode/currentLanguage 的同步状态机。
// 不是并发安全的，只能在会话事件循环中使用。定时器由调用方持有。
//
// 编辑者每次写出代码 (Flush / ChangeLanguage) 都记为一次在途写入，
// 写入被存储接受后调用 WriteAcked 传回版本号。持有编辑权时，
// 版本不高于自己最后一次写入的快照，以及在途写入期间到达的快照，
// 都不会覆盖本地视图：它们不可能比自己的写入更新。
type CodeSync struct {
	state    SyncState
	isEditor bool

	view     string
	language string

	lastLocal   string
	lastWritten string
	hasWritten  bool
	lastApplied string
	hasApplied  bool

	inFlight   int
	ownVersion uint64
	hasOwn     bool
	deferred   *remoteValue
}

type remoteValue struct {
	version  uint64
	code     string
	language string
}

func NewCodeSync() *CodeSync {
	return &CodeSync{state: SyncIdle}
}

func (c *CodeSync) State() SyncState { return c.state }
func (c *CodeSync) View() string     { return c.view }
func (c *CodeSync) Language() string { return c.language }
func (c *CodeSync) IsEditor() bool   { return c.isEditor }

// SetEditor 更新编辑权。失去编辑权时丢弃待写缓冲，返回是否有缓冲被丢弃。
func (c *CodeSync) SetEditor(isEditor bool) (dropped bool) {
	c.isEditor = isEditor
	if !isEditor && c.state == SyncPendingWrite {
		c.state = SyncIdle
		return true
	}
	return false
}

// LocalEdit 记录一次本地按键。返回 true 时调用方需要 (重新) 启动防抖定时器。
// 非编辑者只更新本地视图，永远不会产生写入。
func (c *CodeSync) LocalEdit(code string) (arm bool) {
	c.view = code
	c.lastLocal = code
	if !c.isEditor {
		return false
	}
	c.state = SyncPendingWrite
	return true
}

// Flush 在静默期结束时调用，返回需要写出的值。
// 与上次写出的值相同则跳过。返回 true 时调用方必须以 WriteAcked 或 WriteFailed 结束这次写入。
func (c *CodeSync) Flush() (string, bool) {
	if c.state != SyncPendingWrite || !c.isEditor {
		return "", false
	}
	c.state = SyncIdle
	if c.hasWritten && c.lastLocal == c.lastWritten {
		return "", false
	}
	c.lastWritten = c.lastLocal
	c.hasWritten = true
	c.inFlight++
	return c.lastLocal, true
}

// WriteAcked 在一次写入被存储接受后调用，version 是该写入产生的版本。
// 若在途期间推迟的快照比这次写入更新，它会在此时被应用。
func (c *CodeSync) WriteAcked(version uint64) RemoteResult {
	if !c.hasOwn || version > c.ownVersion {
		c.ownVersion = version
		c.hasOwn = true
	}
	return c.settle()
}

// WriteFailed 在写入 code 失败后调用，撤销 lastWritten 标记，
// 下次编辑时同样的值仍会被写出。
func (c *CodeSync) WriteFailed(code string) RemoteResult {
	if c.hasWritten && c.lastWritten == code {
		c.hasWritten = false
		c.lastWritten = ""
	}
	return c.settle()
}

func (c *CodeSync) settle() RemoteResult {
	if c.inFlight > 0 {
		c.inFlight--
	}
	if c.inFlight > 0 || c.deferred == nil {
		return RemoteResult{}
	}
	d := c.deferred
	c.deferred = nil
	if c.hasOwn && d.version <= c.ownVersion {
		return RemoteResult{}
	}
	return c.apply(d.code, d.language)
}

// ChangeLanguage 切换语言：本地视图同步置为模板，丢弃待写缓冲。
// 调用方需立即把 currentLanguage 和 currentCode 一起写出，并像 Flush 一样结束这次写入。
func (c *CodeSync) ChangeLanguage(language string) (string, error) {
	if !c.isEditor {
		return "", ErrPermissionDenied
	}
	if _, ok := domain.LookupLanguage(language); !ok {
		return "", ErrUnsupportedLanguage
	}
	template := domain.LanguageTemplate(language)
	c.state = SyncIdle
	c.language = language
	c.view = template
	c.lastLocal = template
	c.lastWritten = template
	c.hasWritten = true
	c.inFlight++
	return template, nil
}

// ApplyRemote 应用版本为 version 的远端快照。
// 持有编辑权时，早于或等于自己最后一次写入的快照被忽略，在途写入期间的快照被推迟。
// 其余情况下，只有当远端代码既不是本会话上次写出的值，
// 也不是上次应用过的值时才替换本地视图。语言变化不改动缓冲。
func (c *CodeSync) ApplyRemote(version uint64, code, language string) RemoteResult {
	if c.isEditor {
		if c.hasOwn && version <= c.ownVersion {
			return RemoteResult{}
		}
		if c.inFlight > 0 {
			c.deferred = &remoteValue{version: version, code: code, language: language}
			return RemoteResult{}
		}
	}
	c.deferred = nil
	return c.apply(code, language)
}

func (c *CodeSync) apply(code, language string) RemoteResult {
	var res RemoteResult
	if language != c.language {
		c.language = language
		res.LanguageChanged = true
	}
	if c.hasWritten && code == c.lastWritten {
		return res
	}
	if c.hasApplied && code == c.lastApplied {
		return res
	}

	prev := c.state
	c.state = SyncApplyingRemote
	c.view = code
	c.lastLocal = code
	c.lastApplied = code
	c.hasApplied = true
	// 远端值已取代本会话的最后一次写入
	c.hasWritten = false
	c.lastWritten = ""
	c.state = SyncIdle

	res.ViewReplaced = true
	res.DroppedPending = prev == SyncPendingWrite
	return res
}
