package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raffle/internal/services"
	"raffle/internal/store"
	"raffle/internal/tiktok"
)

type testServer struct {
	router        *gin.Engine
	upstreamCalls atomic.Int32
	cookie        *http.Cookie
}

// newTestServer wires the handlers to a real TikTok client pointed at a fake
// upstream that knows ann1, bo2 and h1-h3.
func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{}
	known := map[string]string{"ann1": "Ann", "bo2": "Bo", "h1": "Host One", "h2": "Host Two", "h3": "Host Three"}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.upstreamCalls.Add(1)
		id := r.URL.Query().Get("uniqueId")
		name, ok := known[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"status_code":0,"userInfo":{"stats":{"followerCount":42},"user":{"uniqueId":%q,"nickname":%q,"avatarThumb":"t.jpg"}}}`, id, name)
	}))
	t.Cleanup(upstream.Close)

	clock := clockwork.NewRealClock()
	client := tiktok.NewClient(tiktok.Config{
		APIKey:  apiKey,
		APIHost: "tiktok-api23.p.rapidapi.com",
		BaseURL: upstream.URL,
		Timeout: 2 * time.Second,
	})
	profiles := services.NewProfileService(store.NewMemoryStore(), client, clock, 24*time.Hour)
	raffle := services.NewRaffleService(services.NewDrawEngine(clock), profiles, clock, time.Hour)
	h := NewHTTPHandler(raffle, profiles, 7*time.Second)

	r := gin.New()
	h.RegisterPublicRoutes(r)
	tenant := r.Group("/")
	tenant.Use(h.TenantMiddleware())
	h.RegisterTenantRoutes(tenant)
	ts.router = r
	return ts
}

// do sends a request, carrying the tenant cookie across calls.
func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if ts.cookie != nil {
		req.AddCookie(ts.cookie)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == tenantCookie {
			ts.cookie = c
		}
	}
	return w
}

func (ts *testServer) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return ts.do(t, req)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestGetProfile_MissThenHit(t *testing.T) {
	ts := newTestServer(t, "key")

	w := ts.doJSON(t, http.MethodGet, "/profile/@Ann1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	body := decode(t, w)
	assert.Equal(t, "@ann1", body["username"])
	assert.Equal(t, "Ann", body["displayName"])
	assert.Equal(t, "TikTok Creator", body["bio"])

	w = ts.doJSON(t, http.MethodGet, "/profile/ann1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.Equal(t, "0", w.Header().Get("X-Cache-Age"))
	assert.Empty(t, w.Header().Get("X-Cache-Stale"))
	assert.Equal(t, int32(1), ts.upstreamCalls.Load())
}

func TestGetProfile_Errors(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		path       string
		wantStatus int
		wantKind   string
	}{
		{"unknown user", "key", "/profile/ghost", http.StatusNotFound, "NOT_FOUND"},
		{"blank identifier", "key", "/profile/@", http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"missing api key", "", "/profile/ann1", http.StatusInternalServerError, "CONFIGURATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.apiKey)
			w := ts.doJSON(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantKind, decode(t, w)["kind"])
		})
	}
}

func TestRefreshProfile(t *testing.T) {
	ts := newTestServer(t, "key")
	ts.doJSON(t, http.MethodGet, "/profile/ann1", nil)

	w := ts.doJSON(t, http.MethodPost, "/profile/ann1/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "REFRESH", w.Header().Get("X-Cache"))
	assert.Equal(t, int32(2), ts.upstreamCalls.Load())
}

func TestCacheStatsAndPurge(t *testing.T) {
	ts := newTestServer(t, "key")
	ts.doJSON(t, http.MethodGet, "/profile/bo2", nil)
	ts.doJSON(t, http.MethodGet, "/profile/ann1", nil)

	w := ts.doJSON(t, http.MethodGet, "/cache/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"totalEntries": 2,
		"cachedKeys": ["ann1", "bo2"],
		"storageDescription": "in-memory (cleared on restart)",
		"freshnessWindow": "24h0m0s"
	}`, w.Body.String())

	w = ts.doJSON(t, http.MethodPost, "/cache/purge", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 2, body["removedEntries"])
	assert.EqualValues(t, 0, body["remainingEntries"])

	w = ts.doJSON(t, http.MethodGet, "/cache/stats", nil)
	assert.EqualValues(t, 0, decode(t, w)["totalEntries"])
}

func TestTenantMiddleware_IssuesAndKeepsCookie(t *testing.T) {
	ts := newTestServer(t, "key")

	w := ts.doJSON(t, http.MethodPost, "/participants", []map[string]string{{"name": "Ann", "username": "ann1"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, ts.cookie)
	first := ts.cookie.Value

	w = ts.doJSON(t, http.MethodGet, "/participants", nil)
	assert.Len(t, decode(t, w)["participants"], 1)
	assert.Equal(t, first, ts.cookie.Value)

	// A different browser sees its own empty session.
	other := &testServer{router: ts.router}
	w = other.doJSON(t, http.MethodGet, "/participants", nil)
	assert.Empty(t, decode(t, w)["participants"])
	assert.NotEqual(t, first, other.cookie.Value)
}

func TestListParticipants_Search(t *testing.T) {
	ts := newTestServer(t, "key")
	ts.doJSON(t, http.MethodPost, "/participants", []map[string]string{
		{"name": "Ann Lee", "username": "ann1"},
		{"name": "Bo", "username": "annie_b"},
		{"name": "Cy", "username": "cy3"},
	})

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"Ann Lee", "Bo", "Cy"}},
		{"ANN", []string{"Ann Lee", "Bo"}},
		{"lee", []string{"Ann Lee"}},
		{"  cy3 ", []string{"Cy"}},
		{"zed", []string{}},
	}
	for _, tt := range tests {
		t.Run("q="+tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/participants?q="+url.QueryEscape(tt.query), nil)
			w := ts.do(t, req)
			require.Equal(t, http.StatusOK, w.Code)

			body := decode(t, w)
			assert.EqualValues(t, 3, body["total"])
			names := []string{}
			for _, p := range body["participants"].([]any) {
				names = append(names, p.(map[string]any)["name"].(string))
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestUploadParticipantsCSV(t *testing.T) {
	ts := newTestServer(t, "key")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("participantCSV", "participants.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("name,username\nAnn,ann1\nBo,bo2\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload-participants-csv", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := ts.do(t, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode(t, w)["participants"], 2)

	t.Run("blank id next to an explicit one", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("participantCSV", "participants.csv")
		require.NoError(t, err)
		_, err = part.Write([]byte("id,name,username\n2,Ann,ann1\n,Bo,bo2\n"))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/upload-participants-csv", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := ts.do(t, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		list := decode(t, w)["participants"].([]any)
		require.Len(t, list, 2)
		assert.Equal(t, "2", list[0].(map[string]any)["id"])
		assert.Equal(t, "3", list[1].(map[string]any)["id"])
	})

	t.Run("missing file", func(t *testing.T) {
		w := ts.doJSON(t, http.MethodPost, "/upload-participants-csv", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHosts(t *testing.T) {
	ts := newTestServer(t, "key")

	w := ts.doJSON(t, http.MethodPost, "/hosts", map[string][]string{"usernames": {"h1", "h2"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode(t, w)["hosts"], 2)

	w = ts.doJSON(t, http.MethodPost, "/hosts", map[string][]string{"usernames": {"@H1"}})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DUPLICATE_HOST", decode(t, w)["kind"])

	w = ts.doJSON(t, http.MethodPost, "/hosts", map[string][]string{"usernames": {"h3", "ann1"}})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "HOST_LIMIT", decode(t, w)["kind"])

	w = ts.doJSON(t, http.MethodPost, "/hosts", map[string][]string{"usernames": {}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.doJSON(t, http.MethodDelete, "/hosts/0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hosts := decode(t, w)["hosts"].([]any)
	require.Len(t, hosts, 1)
	assert.Equal(t, "@h2", hosts[0].(map[string]any)["username"])

	w = ts.doJSON(t, http.MethodDelete, "/hosts/x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.doJSON(t, http.MethodGet, "/hosts", nil)
	assert.Len(t, decode(t, w)["hosts"], 1)
}

func TestDrawAndExport(t *testing.T) {
	ts := newTestServer(t, "key")

	w := ts.doJSON(t, http.MethodPost, "/draw", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "no participants yet")

	ts.doJSON(t, http.MethodPost, "/participants", []map[string]string{
		{"name": "Ann", "username": "ann1"},
		{"name": "Bo", "username": "bo2"},
	})

	w = ts.doJSON(t, http.MethodPost, "/draw", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode(t, w)
	winner := result["winner"].(map[string]any)
	assert.Contains(t, []any{"ann1", "bo2"}, winner["username"])
	assert.NotNil(t, result["profile"])

	w = ts.doJSON(t, http.MethodGet, "/draw", nil)
	status := decode(t, w)
	assert.Equal(t, "winner_selected", status["state"])
	assert.EqualValues(t, 2, status["participants"])

	w = ts.doJSON(t, http.MethodGet, "/results", nil)
	assert.Len(t, decode(t, w)["results"], 1)

	w = ts.doJSON(t, http.MethodGet, "/export-results-csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "\xef\xbb\xbfdrawn_at,id,name,username,display_name,followers", lines[0])
	assert.Contains(t, lines[1], ",42")

	w = ts.doJSON(t, http.MethodPost, "/draw/reset", nil)
	assert.Equal(t, "idle", decode(t, w)["state"])

	w = ts.doJSON(t, http.MethodPost, "/draw/cancel", nil)
	assert.Equal(t, false, decode(t, w)["cancelled"])
}

func TestStreamDraw(t *testing.T) {
	ts := newTestServer(t, "key")
	ts.doJSON(t, http.MethodPost, "/participants", []map[string]string{
		{"name": "Ann", "username": "ann1"},
		{"name": "Bo", "username": "bo2"},
	})

	// Below the minimum, so the suspense phase is clamped to one second.
	w := ts.doJSON(t, http.MethodGet, "/draw/stream?duration=100ms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream"), w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Equal(t, int(time.Second/services.HighlightInterval), strings.Count(body, "event:highlight"))
	assert.Equal(t, 1, strings.Count(body, "event:winner"))
	assert.Less(t, strings.LastIndex(body, "event:highlight"), strings.Index(body, "event:winner"))

	t.Run("draw already running", func(t *testing.T) {
		cookie := ts.cookie
		running := make(chan *httptest.ResponseRecorder, 1)
		go func() {
			req := httptest.NewRequest(http.MethodGet, "/draw/stream?duration=30s", nil)
			req.AddCookie(cookie)
			rec := httptest.NewRecorder()
			ts.router.ServeHTTP(rec, req)
			running <- rec
		}()
		require.Eventually(t, func() bool {
			return decode(t, ts.doJSON(t, http.MethodGet, "/draw", nil))["state"] == "suspense"
		}, 2*time.Second, 10*time.Millisecond)

		w := ts.doJSON(t, http.MethodGet, "/draw/stream?duration=1s", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "DRAW_IN_PROGRESS", decode(t, w)["kind"])

		w = ts.doJSON(t, http.MethodPost, "/draw/cancel", nil)
		assert.Equal(t, true, decode(t, w)["cancelled"])

		rec := <-running
		assert.Contains(t, rec.Body.String(), "event:error")
		assert.Contains(t, rec.Body.String(), "DRAW_CANCELLED")
		assert.NotContains(t, rec.Body.String(), "event:winner")
	})

	t.Run("no participants", func(t *testing.T) {
		ts.doJSON(t, http.MethodDelete, "/participants", nil)
		w := ts.doJSON(t, http.MethodGet, "/draw/stream?duration=1s", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_ARGUMENT", decode(t, w)["kind"])
		assert.NotContains(t, w.Body.String(), "event:")
	})

	t.Run("bad duration", func(t *testing.T) {
		w := ts.doJSON(t, http.MethodGet, "/draw/stream?duration=soon", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSpinDuration(t *testing.T) {
	h := &HTTPHandler{defaultSpin: 7 * time.Second}
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", 7 * time.Second},
		{"3s", 3 * time.Second},
		{"12", 12 * time.Second},
		{"90", 60 * time.Second},
		{"0", time.Second},
		{"250ms", time.Second},
	}
	for _, tt := range tests {
		got, err := h.spinDuration(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	_, err := h.spinDuration("-")
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "key")
	w := ts.doJSON(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, ts.cookie, "public routes do not issue a tenant cookie")
}
