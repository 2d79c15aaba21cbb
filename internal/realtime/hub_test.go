package realtime

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jimclydegm/logotoanythingapp/internal/auth"
)

func TestPublishRoutesByProfile(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	mine, unsubMine := h.Subscribe("u1")
	defer unsubMine()
	other, unsubOther := h.Subscribe("u2")
	defer unsubOther()

	h.Publish(`{"id":"u1","remaining_credits":42,"subscription_status":"active","subscription_plan":"pro","subscription_period_end":null}`)

	select {
	case c := <-mine:
		assert.Equal(t, 42, c.RemainingCredits)
		require.NotNil(t, c.SubscriptionPlan)
		assert.Equal(t, "pro", *c.SubscriptionPlan)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
	select {
	case c := <-other:
		t.Fatalf("unexpected change for other profile: %+v", c)
	default:
	}
}

func TestPublishIgnoresGarbage(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	ch, unsub := h.Subscribe("u1")
	defer unsub()

	h.Publish("not json")
	h.Publish(`{"remaining_credits":1}`)
	assert.Len(t, ch, 0)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	ch, unsub := h.Subscribe("u1")
	defer unsub()

	for i := 0; i < subscriberBuffer*3; i++ {
		h.Publish(`{"id":"u1","remaining_credits":1}`)
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestUnsubscribe(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	ch, unsub := h.Subscribe("u1")
	assert.Equal(t, 1, h.Subscribers("u1"))

	unsub()
	unsub()
	assert.Equal(t, 0, h.Subscribers("u1"))
	_, open := <-ch
	assert.False(t, open)
}

func TestRunDeliversNotifications(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	ch, unsub := h.Subscribe("u1")
	defer unsub()

	notify := make(chan *pq.Notification, 2)
	notify <- nil
	notify <- &pq.Notification{Channel: Channel, Extra: `{"id":"u1","remaining_credits":7}`}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, notify, nil)
		close(done)
	}()

	select {
	case c := <-ch:
		assert.Equal(t, 7, c.RemainingCredits)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
	cancel()
	<-done
}

func TestStreamHandler(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	handler := h.StreamHandler(time.Hour)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(w, r.WithContext(auth.WithUser(r.Context(), auth.User{ID: "u1"})))
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Eventually(t, func() bool { return h.Subscribers("u1") == 1 }, time.Second, 10*time.Millisecond)

	h.Publish(`{"id":"u2","remaining_credits":99}`)
	h.Publish(`{"id":"u1","remaining_credits":5}`)

	reader := bufio.NewReader(resp.Body)
	var event, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	assert.Equal(t, "profile", event)
	assert.JSONEq(t, `{"id":"u1","remaining_credits":5,"subscription_status":null,"subscription_plan":null,"subscription_period_end":null}`, data)
}

func TestStreamHandlerRequiresUser(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHub(nil).StreamHandler(0)(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCloseEndsStreams(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	handler := h.StreamHandler(time.Hour)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(w, r.WithContext(auth.WithUser(r.Context(), auth.User{ID: "u1"})))
	}))
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Eventually(t, func() bool { return h.Subscribers("u1") == 1 }, time.Second, 10*time.Millisecond)

	h.Close()
	h.Close()

	require.Eventually(t, func() bool { return h.Subscribers("u1") == 0 }, time.Second, 10*time.Millisecond)
}
