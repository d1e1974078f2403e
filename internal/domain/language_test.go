package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLanguageTable(t *testing.T) {
	want := map[string]int{
		"javascript": 63,
		"python":     71,
		"java":       62,
		"cpp":        54,
		"c":          50,
		"csharp":     51,
	}
	assert.Len(t, Languages(), len(want))
	for key, id := range want {
		l, ok := LookupLanguage(key)
		if assert.True(t, ok, key) {
			assert.Equal(t, id, l.BackendID, key)
			assert.NotEmpty(t, l.Template, key)
		}
		back, ok := LookupLanguageByBackendID(id)
		assert.True(t, ok)
		assert.Equal(t, key, back.Key)
	}

	_, ok := LookupLanguage("ruby")
	assert.False(t, ok)
	assert.Equal(t, "", LanguageTemplate("ruby"))
	assert.Contains(t, LanguageTemplate("python"), `print("Hello, World!")`)
}

func TestIdentity_DisplayLabel(t *testing.T) {
	assert.Equal(t, "Ada", Identity{Name: "Ada", Email: "ada@example.com"}.DisplayLabel())
	assert.Equal(t, "ada@example.com", Identity{Email: "ada@example.com"}.DisplayLabel())

	u := &User{ID: 3, Username: "ada"}
	assert.Equal(t, Identity{UID: "3", Name: "ada"}, u.Identity())
}
