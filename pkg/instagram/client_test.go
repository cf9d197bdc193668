package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "instasave/pkg/errors"
	"instasave/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(Options{
		BaseURL:   server.URL,
		UserAgent: "instasave-test",
		Timeout:   5 * time.Second,
		Logger:    logger.NewTestLogger(),
	})
	return client, server
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLoginStoresCookiesAndUser(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, LoginEndpoint, r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "alice", r.PostForm.Get("username"))
		assert.Equal(t, "instasave-test", r.Header.Get("User-Agent"))

		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "abc123"})
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "tok"})
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"logged_in_user": map[string]interface{}{"pk": 42, "username": "alice"},
			"status":         "ok",
		})
	})

	require.NoError(t, client.Login(context.Background(), "alice", "secret"))
	assert.Equal(t, "alice", client.Username())

	blob, err := client.DumpSession()
	require.NoError(t, err)

	var s Session
	require.NoError(t, json.Unmarshal(blob, &s))
	assert.Equal(t, "abc123", s.Cookies["sessionid"])
	assert.Equal(t, int64(42), s.UserID)
}

func TestLoginBadPasswordIsAuthError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"message": "The password you entered is incorrect.",
			"status":  "fail",
		})
	})

	err := client.Login(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrAuth)
}

func TestLoginChallengeIsForbidden(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"message": "challenge_required",
			"status":  "fail",
		})
	})

	err := client.Login(context.Background(), "alice", "secret")
	assert.ErrorIs(t, err, errs.ErrForbidden)
}

func TestLoginBySessionID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie("sessionid")
		if err != nil || ck.Value != "good" {
			writeJSON(w, http.StatusForbidden, map[string]string{"message": "login_required", "status": "fail"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"user":   map[string]interface{}{"pk": 7, "username": "bob"},
			"status": "ok",
		})
	})

	err := client.LoginBySessionID(context.Background(), "bad")
	assert.ErrorIs(t, err, errs.ErrForbidden)
	assert.Equal(t, "", client.Username())

	require.NoError(t, client.LoginBySessionID(context.Background(), " good\n"))
	assert.Equal(t, "bob", client.Username())
}

func TestLoadSessionRoundTrip(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie("sessionid")
		require.NoError(t, err)
		assert.Equal(t, "restored", ck.Value)
		writeJSON(w, http.StatusOK, map[string]interface{}{"user": map[string]interface{}{"pk": 1, "username": "carol"}})
	})

	blob, _ := json.Marshal(Session{Cookies: map[string]string{"sessionid": "restored"}})
	require.NoError(t, client.LoadSession(blob))

	u, err := client.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "carol", u.Username)

	assert.Error(t, client.LoadSession([]byte(`{"cookies":{}}`)))
	assert.Error(t, client.LoadSession([]byte(`not json`)))
}

func TestSavedMediaPagination(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, SavedFeedEndpoint, r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("count"))

		if r.URL.Query().Get("max_id") == "" {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"items": []map[string]interface{}{
					{"media": map[string]interface{}{"pk": 101, "code": "AAA", "taken_at": 1700000000, "media_type": 1}},
				},
				"more_available": true,
				"next_max_id":    "cursor-2",
			})
			return
		}
		assert.Equal(t, "cursor-2", r.URL.Query().Get("max_id"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": []interface{}{}, "more_available": false})
	})

	page, err := client.SavedMedia(context.Background(), "", 25)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "101", page.Items[0].Media.Identifier())
	assert.True(t, page.MoreAvailable)

	page, err = client.SavedMedia(context.Background(), page.NextMaxID, 25)
	require.NoError(t, err)
	assert.False(t, page.MoreAvailable)
}

func TestCheckResponseClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected errs.ErrorType
	}{
		{"rate limited", http.StatusTooManyRequests, `{"message":"Please wait a few minutes"}`, errs.ErrorTypeRateLimit},
		{"server error", http.StatusBadGateway, ``, errs.ErrorTypeServerError},
		{"not found", http.StatusNotFound, ``, errs.ErrorTypeNotFound},
		{"forced logout", http.StatusForbidden, `{"message":"login_required","status":"fail"}`, errs.ErrorTypeForbidden},
		{"checkpoint", http.StatusBadRequest, `{"message":"checkpoint_required"}`, errs.ErrorTypeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.CurrentUser(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.expected, errs.TypeOf(err))
		})
	}
}

func TestDownload(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/media/ok.jpg":
			_, _ = w.Write([]byte("jpeg-bytes"))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})

	var buf bytes.Buffer
	n, err := client.Download(context.Background(), server.URL+"/media/ok.jpg", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Equal(t, "jpeg-bytes", buf.String())

	_, err = client.Download(context.Background(), server.URL+"/media/broken.jpg", &buf)
	assert.True(t, errs.IsTransient(err))
}

func TestDownloadCancelledContext(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("late"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Download(ctx, server.URL+"/x.jpg", &bytes.Buffer{})
	require.Error(t, err)
	assert.False(t, errs.IsTransient(err))
}

func TestMediaAccessors(t *testing.T) {
	m := Media{
		ID:             "3_1",
		ImageVersions2: &ImageVersions{Candidates: []MediaVersion{{URL: "https://cdn/large.jpg"}, {URL: "https://cdn/small.jpg"}}},
		VideoVersions:  []MediaVersion{{URL: "https://cdn/v.mp4"}},
	}
	assert.Equal(t, "3_1", m.Identifier())
	assert.Equal(t, "https://cdn/large.jpg", m.ThumbnailURL())
	assert.Equal(t, "https://cdn/v.mp4", m.VideoURL())
	assert.Equal(t, "", m.CaptionText())

	assert.Equal(t, "https://www.instagram.com/p/AbC/", PostURL("AbC"))
	assert.Equal(t, "", PostURL(""))
}
