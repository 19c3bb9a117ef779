package bungie

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uayebforever/clan-stats/internal/model"
)

func envelopeJSON(t *testing.T, code PlatformErrorCode, status string, response any) []byte {
	t.Helper()
	raw, err := json.Marshal(response)
	require.NoError(t, err)
	data, err := json.Marshal(Envelope{Response: raw, ErrorCode: code, ErrorStatus: status, Message: status})
	require.NoError(t, err)
	return data
}

func TestClientSendsAPIKeyAndUnwrapsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		assert.Equal(t, "/GroupV2/42/", r.URL.Path)
		_, _ = w.Write(envelopeJSON(t, CodeSuccess, "Success", GroupResponse{Detail: GroupV2{GroupID: 42, Name: "Clan"}}))
	}))
	defer srv.Close()

	api := NewAPI(NewClient("secret", WithBaseURL(srv.URL)))
	group, err := api.GetGroup(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "Clan", group.Detail.Name)
	assert.Equal(t, ID(42), group.Detail.GroupID)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("try later"))
			return
		}
		_, _ = w.Write(envelopeJSON(t, CodeSuccess, "Success", map[string]int{"answer": 42}))
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL), WithRetryDelay(time.Millisecond))
	raw, err := c.Do(context.Background(), Request{Endpoint: "anything"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":42}`, string(raw))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClientGivesUpAfterMaxRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL), WithRetryDelay(time.Millisecond))
	_, err := c.Do(context.Background(), Request{Endpoint: "anything"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClientMapsPrivacyErrorToForbidden(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		_, _ = w.Write(envelopeJSON(t, CodeDestinyPrivacyRestriction, "DestinyPrivacyRestriction", nil))
	}))
	defer srv.Close()

	api := NewAPI(NewClient("k", WithBaseURL(srv.URL)))
	_, err := api.GetActivityHistory(context.Background(), model.Membership{ID: 1, Type: model.MembershipSteam}, 2, model.GameModeNone, 0, 10)
	require.ErrorIs(t, err, ErrAccessForbidden)
	assert.Equal(t, int32(1), attempts.Load(), "platform errors are not retried")
}

func TestClientPostsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"displayNamePrefix":"guard"}`, string(body))
		_, _ = w.Write(envelopeJSON(t, CodeSuccess, "Success", UserSearchResponse{Page: 0}))
	}))
	defer srv.Close()

	api := NewAPI(NewClient("k", WithBaseURL(srv.URL)))
	_, err := api.SearchByGlobalName(context.Background(), "guard", 0)
	require.NoError(t, err)
}

func TestClientHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	c := NewClient("k", WithBaseURL(srv.URL), WithRetryDelay(time.Hour))
	_, err := c.Do(ctx, Request{Endpoint: "anything"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestIDAcceptsStringsAndNumbers(t *testing.T) {
	var v struct {
		A ID `json:"a"`
		B ID `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"4611686018467284386","b":12}`), &v))
	assert.Equal(t, ID(4611686018467284386), v.A)
	assert.Equal(t, ID(12), v.B)

	out, err := json.Marshal(v.A)
	require.NoError(t, err)
	assert.Equal(t, `"4611686018467284386"`, string(out))
}

func TestGlobalName(t *testing.T) {
	card := UserInfoCard{DisplayName: "old", BungieGlobalDisplayName: "Guardian", BungieGlobalDisplayNameCode: 42}
	assert.Equal(t, "Guardian#0042", card.GlobalName())
	assert.Equal(t, "old", UserInfoCard{DisplayName: "old"}.GlobalName())
}
