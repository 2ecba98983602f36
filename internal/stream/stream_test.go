package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func receive(t *testing.T, ch <-chan schemas.StreamEvent) schemas.StreamEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return schemas.StreamEvent{}
	}
}

func gauge(t *testing.T, m *observability.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestHubFanOut(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	a, cancelA := h.Subscribe("r-1")
	defer cancelA()
	b, cancelB := h.Subscribe("r-1")
	defer cancelB()
	other, cancelOther := h.Subscribe("r-2")
	defer cancelOther()

	h.Publish(Output("r-1", "Step 1"))

	evA := receive(t, a)
	evB := receive(t, b)
	assert.Equal(t, schemas.EventOutput, evA.Type)
	assert.Equal(t, "Step 1", evA.Payload)
	assert.NotEmpty(t, evA.ID)
	assert.False(t, evA.Timestamp.IsZero())
	assert.Equal(t, evA.ID, evB.ID)
	assert.Empty(t, other)
	assert.Equal(t, 2, h.Subscribers("r-1"))
}

func TestHubNoReplay(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	h.Publish(Status("r-1", schemas.ReportRunning, nil))

	ch, cancel := h.Subscribe("r-1")
	defer cancel()
	assert.Empty(t, ch)

	code := 0
	h.Publish(Status("r-1", schemas.ReportCompleted, &code))
	ev := receive(t, ch)
	payload, ok := ev.Payload.(schemas.StatusPayload)
	require.True(t, ok)
	assert.Equal(t, schemas.ReportCompleted, payload.Status)
	assert.Equal(t, 0, *payload.ExitCode)
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	ch, cancel := h.Subscribe("r-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			h.Publish(Error("r-1", "line"))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Len(t, ch, subscriberBuffer)
	cancel()
}

func TestHubCancelAndClose(t *testing.T) {
	metrics := observability.NewMetrics()
	h := NewHub(zaptest.NewLogger(t), metrics)

	ch, cancel := h.Subscribe("r-1")
	_, cancel2 := h.Subscribe("r-1")
	defer cancel2()
	assert.Equal(t, 2.0, gauge(t, metrics, "flowreplay_stream_subscribers"))

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 1, h.Subscribers("r-1"))

	h.Close()
	assert.Equal(t, 0, h.Subscribers("r-1"))
	assert.Equal(t, 0.0, gauge(t, metrics, "flowreplay_stream_subscribers"))

	late, lateCancel := h.Subscribe("r-1")
	defer lateCancel()
	_, ok = <-late
	assert.False(t, ok)
}

func TestServeReport(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeReport(w, r, "r-1")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Subscribers("r-1") == 1 }, 2*time.Second, 10*time.Millisecond)
	h.Publish(Output("r-1", "Scenario started."))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev schemas.StreamEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, schemas.EventOutput, ev.Type)
	assert.Equal(t, "r-1", ev.ReportID)
	assert.Equal(t, "Scenario started.", ev.Payload)

	t.Run("hub close ends the feed", func(t *testing.T) {
		h.Close()
		_, _, err := conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
	})

	require.Eventually(t, func() bool { return h.Subscribers("r-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}
