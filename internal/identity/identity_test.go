package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	operator  string
	session   string
	generated bool
}

func serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, captured) {
	t.Helper()
	var got captured
	h := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = captured{
			operator:  OperatorFromContext(r.Context()),
			session:   SessionIDFromContext(r.Context()),
			generated: SessionIDGenerated(r.Context()),
		}
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, got
}

func TestMiddlewareIssuesOperatorCookie(t *testing.T) {
	rec, got := serve(t, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Regexp(t, `^op_[a-f0-9]{32}$`, got.operator)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, OperatorCookieName, cookies[0].Name)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	_, again := serve(t, req)
	assert.Equal(t, got.operator, again.operator)
}

func TestMiddlewareSessionID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?session_id=from-query", nil)
	req.Header.Set(SessionHeaderName, "tab-1")
	rec, got := serve(t, req)
	assert.Equal(t, "tab-1", got.session)
	assert.False(t, got.generated)
	assert.Equal(t, "tab-1", rec.Header().Get(SessionHeaderName))

	_, got = serve(t, httptest.NewRequest(http.MethodGet, "/?session_id=from-query", nil))
	assert.Equal(t, "from-query", got.session)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SessionHeaderName, "bad id with spaces")
	rec, got = serve(t, req)
	assert.True(t, got.generated)
	assert.NotEqual(t, "bad id with spaces", got.session)
	assert.Equal(t, got.session, rec.Header().Get(SessionHeaderName))
}
