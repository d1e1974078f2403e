package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"

	"collaborative-codehub/internal/domain"
)

type fakeParser map[string]domain.Identity

func (f fakeParser) ParseToken(token string) (domain.Identity, error) {
	if id, ok := f[token]; ok {
		return id, nil
	}
	return domain.Identity{}, errors.New("bad token")
}

func init() {
	gin.SetMode(gin.TestMode)
}

func authRouter(allowQuery bool) *gin.Engine {
	r := gin.New()
	parser := fakeParser{"good": {UID: "7", Name: "Ada"}}
	r.GET("/me", Auth(parser, allowQuery), func(c *gin.Context) {
		id, ok := CurrentIdentity(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id.UID+":"+id.Name)
	})
	return r
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name       string
		allowQuery bool
		header     string
		query      string
		wantCode   int
		wantBody   string
	}{
		{name: "bearer header", header: "Bearer good", wantCode: http.StatusOK, wantBody: "7:Ada"},
		{name: "case-insensitive scheme", header: "bearer good", wantCode: http.StatusOK, wantBody: "7:Ada"},
		{name: "missing header", wantCode: http.StatusUnauthorized},
		{name: "malformed header", header: "Token good", wantCode: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer bad", wantCode: http.StatusUnauthorized},
		{name: "query ignored when not allowed", query: "good", wantCode: http.StatusUnauthorized},
		{name: "query fallback", allowQuery: true, query: "good", wantCode: http.StatusOK, wantBody: "7:Ada"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/me"
			if tt.query != "" {
				url += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			authRouter(tt.allowQuery).ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	r := gin.New()
	r.GET("/ping", RateLimit(client, "test:", 2, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		return w
	}

	assert.Equal(t, http.StatusOK, do().Code)
	w := do()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusTooManyRequests, do().Code)

	// 窗口过期后计数重置
	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusOK, do().Code)
}

func TestRateLimit_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	r := gin.New()
	r.GET("/ping", RateLimit(client, "test:", 2, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
