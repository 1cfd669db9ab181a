package observer

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	name   string
	mu     sync.Mutex
	events []RecognitionEvent
}

func (o *recordingObserver) OnEvent(_ context.Context, e RecognitionEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) GetObserverName() string { return o.name }

type panickingObserver struct{}

func (panickingObserver) OnEvent(context.Context, RecognitionEvent) { panic("boom") }
func (panickingObserver) GetObserverName() string                   { return "panics" }

func TestEventPublisher_DeliversAndSurvivesPanics(t *testing.T) {
	p := NewEventPublisher()
	rec := &recordingObserver{name: "rec"}
	p.Subscribe(panickingObserver{})
	p.Subscribe(rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.NotifyObservers(ctx, RecognitionEvent{EventType: RecognitionCompleted, Backend: "fake"})
	p.Flush()

	require.Len(t, rec.events, 1)
	assert.False(t, rec.events[0].Timestamp.IsZero())

	p.Unsubscribe(rec)
	p.NotifyObservers(context.Background(), RecognitionEvent{EventType: RecognitionFailed})
	p.Flush()
	assert.Len(t, rec.events, 1)
}

func TestLoggingObserver_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)

	o := NewLoggingObserver(log)
	o.OnEvent(context.Background(), RecognitionEvent{EventType: RecognitionStarted, Backend: "b"})
	assert.Empty(t, buf.String(), "started events are debug level")

	o.OnEvent(context.Background(), RecognitionEvent{
		EventType:    RecognitionFailed,
		Backend:      "b",
		ErrorMessage: "bad gateway",
		Metadata:     map[string]interface{}{"max_length": 512},
	})
	out := buf.String()
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"error":"bad gateway"`)
	assert.Contains(t, out, `"max_length":512`)
}

func TestMetricsObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := NewMetricsObserver(reg)
	ctx := context.Background()

	o.OnEvent(ctx, RecognitionEvent{EventType: RecognitionStarted, Backend: "hf-inference"})
	assert.Equal(t, 1.0, testutil.ToFloat64(o.inFlight))

	o.OnEvent(ctx, RecognitionEvent{EventType: RecognitionCompleted, Backend: "hf-inference", Outcome: "success", ProcessingTime: time.Second})
	o.OnEvent(ctx, RecognitionEvent{EventType: RecognitionStarted, Backend: "hf-inference"})
	o.OnEvent(ctx, RecognitionEvent{EventType: RecognitionDegraded, Backend: "hf-inference", Outcome: "degraded"})
	o.OnEvent(ctx, RecognitionEvent{EventType: ImageFetchFailed})

	assert.Equal(t, 0.0, testutil.ToFloat64(o.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.recognitionsTotal.WithLabelValues("hf-inference", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.recognitionsTotal.WithLabelValues("hf-inference", "degraded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.fetchFailuresTotal))
}

func TestHTTPMetrics_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/health", "/health", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/health", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "unmatched", "404")))
}
