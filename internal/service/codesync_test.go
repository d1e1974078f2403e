package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collaborative-codehub/internal/domain"
)

func editorSync(t *testing.T) *CodeSync {
	t.Helper()
	c := NewCodeSync()
	c.SetEditor(true)
	res := c.ApplyRemote(1, "start", "javascript")
	require.True(t, res.ViewReplaced)
	return c
}

func TestCodeSync_NonEditorNeverWrites(t *testing.T) {
	c := NewCodeSync()
	c.ApplyRemote(1, "start", "javascript")

	for _, code := range []string{"a", "ab", "abc"} {
		assert.False(t, c.LocalEdit(code), "non-editor must not arm the debounce")
	}
	assert.Equal(t, "abc", c.View())
	_, ok := c.Flush()
	assert.False(t, ok)
	assert.Equal(t, SyncIdle, c.State())

	_, err := c.ChangeLanguage("python")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestCodeSync_FlushWritesLastLocalValue(t *testing.T) {
	c := editorSync(t)

	assert.True(t, c.LocalEdit("h"))
	assert.True(t, c.LocalEdit("he"))
	assert.True(t, c.LocalEdit("hey"))
	assert.Equal(t, SyncPendingWrite, c.State())

	code, ok := c.Flush()
	require.True(t, ok)
	assert.Equal(t, "hey", code)
	assert.Equal(t, SyncIdle, c.State())

	_, ok = c.Flush()
	assert.False(t, ok, "nothing pending after a flush")
}

func TestCodeSync_FlushSkipsValueAlreadyWritten(t *testing.T) {
	c := editorSync(t)

	c.LocalEdit("v1")
	_, ok := c.Flush()
	require.True(t, ok)

	// 编辑后又撤销回已同步的值
	c.LocalEdit("v1x")
	c.LocalEdit("v1")
	_, ok = c.Flush()
	assert.False(t, ok)
}

func TestCodeSync_SelfEchoDoesNotReplaceView(t *testing.T) {
	c := editorSync(t)

	c.LocalEdit("abc")
	code, ok := c.Flush()
	require.True(t, ok)

	// 写出后继续输入，此时自己的回声到达
	c.LocalEdit("abcdef")
	res := c.ApplyRemote(2, code, "javascript")
	assert.False(t, res.ViewReplaced)
	assert.False(t, res.DroppedPending)
	assert.Equal(t, "abcdef", c.View(), "in-flight typing must survive the echo")
	assert.Equal(t, SyncPendingWrite, c.State())
}

func TestCodeSync_UnrelatedSnapshotKeepsPendingWrite(t *testing.T) {
	c := editorSync(t)
	c.LocalEdit("typing")

	// 例如静音变更产生的快照，代码仍是上次应用的值
	res := c.ApplyRemote(2, "start", "javascript")
	assert.False(t, res.ViewReplaced)
	assert.Equal(t, SyncPendingWrite, c.State())

	code, ok := c.Flush()
	require.True(t, ok)
	assert.Equal(t, "typing", code)
}

func TestCodeSync_ForeignValueDropsPendingBuffer(t *testing.T) {
	c := editorSync(t)
	c.LocalEdit("mine, unflushed")

	// 另一个自认为持有编辑权的客户端先写入：后写者胜，本地缓冲丢失
	res := c.ApplyRemote(2, "theirs", "javascript")
	assert.True(t, res.ViewReplaced)
	assert.True(t, res.DroppedPending)
	assert.Equal(t, "theirs", c.View())
	_, ok := c.Flush()
	assert.False(t, ok)
}

func TestCodeSync_RemoteLanguageDoesNotTouchBuffer(t *testing.T) {
	c := NewCodeSync()
	c.ApplyRemote(1, "print(1)", "javascript")

	res := c.ApplyRemote(2, "print(1)", "python")
	assert.True(t, res.LanguageChanged)
	assert.False(t, res.ViewReplaced)
	assert.Equal(t, "python", c.Language())
	assert.Equal(t, "print(1)", c.View())
}

func TestCodeSync_ChangeLanguageResetsBufferAndDiscardsPending(t *testing.T) {
	c := editorSync(t)
	c.LocalEdit("half typed")

	template, err := c.ChangeLanguage("python")
	require.NoError(t, err)
	assert.Equal(t, domain.LanguageTemplate("python"), template)
	assert.Equal(t, template, c.View())
	assert.Equal(t, "python", c.Language())
	assert.Equal(t, SyncIdle, c.State())

	_, ok := c.Flush()
	assert.False(t, ok, "pending debounce is discarded by a language change")

	// 语言切换写入的回声不替换视图
	res := c.ApplyRemote(2, template, "python")
	assert.False(t, res.ViewReplaced)

	_, err = c.ChangeLanguage("cobol")
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
}

func TestCodeSync_LosingAuthorityDropsPending(t *testing.T) {
	c := editorSync(t)
	c.LocalEdit("draft")

	assert.True(t, c.SetEditor(false))
	_, ok := c.Flush()
	assert.False(t, ok)
	assert.False(t, c.LocalEdit("more"), "former editor no longer writes")
}

func TestCodeSync_WriteFailedAllowsRetry(t *testing.T) {
	c := editorSync(t)
	c.LocalEdit("v1")
	code, ok := c.Flush()
	require.True(t, ok)

	c.WriteFailed(code)
	c.LocalEdit("v1")
	code, ok = c.Flush()
	assert.True(t, ok)
	assert.Equal(t, "v1", code)
}

func TestCodeSync_ConcurrentWritesConvergeOnStoredValue(t *testing.T) {
	c := editorSync(t)
	c.LocalEdit("mine")
	_, ok := c.Flush()
	require.True(t, ok)

	// 自己的写入在 v2，外来写入在 v3：在途期间两个快照都被推迟
	assert.False(t, c.ApplyRemote(2, "mine", "javascript").ViewReplaced)
	assert.False(t, c.ApplyRemote(3, "theirs", "javascript").ViewReplaced)
	assert.Equal(t, "mine", c.View())

	res := c.WriteAcked(2)
	assert.True(t, res.ViewReplaced, "a newer foreign value is applied once the write settles")
	assert.Equal(t, "theirs", c.View())
}

func TestCodeSync_OwnWriteOvertakingForeignValueWins(t *testing.T) {
	c := editorSync(t)
	c.LocalEdit("mine")
	_, ok := c.Flush()
	require.True(t, ok)

	// 外来写入在 v2，自己的写入随后在 v3 被接受
	c.ApplyRemote(2, "theirs", "javascript")
	c.ApplyRemote(3, "mine", "javascript")
	res := c.WriteAcked(3)

	assert.False(t, res.ViewReplaced)
	assert.Equal(t, "mine", c.View())
}

func TestCodeSync_StaleOwnWriteKeepsTyping(t *testing.T) {
	c := editorSync(t)

	c.LocalEdit("W")
	_, ok := c.Flush()
	require.True(t, ok)
	c.WriteAcked(2)
	c.ApplyRemote(2, "W", "javascript")

	c.LocalEdit("WX")
	code, ok := c.Flush()
	require.True(t, ok)
	require.Equal(t, "WX", code)
	c.LocalEdit("WXY")

	// 例如一次加入操作在 WX 提交前读到的快照
	res := c.ApplyRemote(3, "W", "javascript")
	assert.False(t, res.ViewReplaced)
	assert.False(t, res.DroppedPending)
	assert.Equal(t, "WXY", c.View())

	res = c.WriteAcked(4)
	assert.False(t, res.ViewReplaced, "the deferred snapshot is older than the acknowledged write")
	c.ApplyRemote(4, "WX", "javascript")
	assert.Equal(t, "WXY", c.View())
	assert.Equal(t, SyncPendingWrite, c.State())

	code, ok = c.Flush()
	require.True(t, ok)
	assert.Equal(t, "WXY", code)
}

func TestCodeSync_SnapshotOlderThanAckedWriteIsIgnored(t *testing.T) {
	c := editorSync(t)
	c.LocalEdit("W")
	_, ok := c.Flush()
	require.True(t, ok)
	c.WriteAcked(5)

	c.LocalEdit("WX")
	res := c.ApplyRemote(4, "older", "javascript")
	assert.False(t, res.ViewReplaced)
	assert.Equal(t, "WX", c.View())
	assert.Equal(t, SyncPendingWrite, c.State())
}

func TestCodeSync_ChangeLanguageNotRevertedByStaleSnapshot(t *testing.T) {
	c := editorSync(t)
	template, err := c.ChangeLanguage("python")
	require.NoError(t, err)

	// 切换写入在途时到达的旧快照仍是 javascript
	res := c.ApplyRemote(2, "start", "javascript")
	assert.False(t, res.LanguageChanged)
	assert.Equal(t, "python", c.Language())
	assert.Equal(t, template, c.View())

	res = c.WriteAcked(3)
	assert.False(t, res.LanguageChanged)
	assert.Equal(t, "python", c.Language())
}

func TestCodeSync_FailedWriteReleasesDeferredSnapshot(t *testing.T) {
	c := editorSync(t)
	c.LocalEdit("mine")
	code, ok := c.Flush()
	require.True(t, ok)

	c.ApplyRemote(2, "theirs", "javascript")
	res := c.WriteFailed(code)
	assert.True(t, res.ViewReplaced)
	assert.Equal(t, "theirs", c.View())
}
