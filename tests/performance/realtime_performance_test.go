package performance_test

import (
	"bufio"
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/learnify/assess-api/internal/dto"
	"github.com/learnify/assess-api/internal/handler"
	"github.com/learnify/assess-api/internal/middleware"
)

func TestProctoringWatchWebsocketP95Under250ms(t *testing.T) {
	app := fiber.New()
	app.Use(middleware.CorrelationID())

	watchHandler := handler.NewProctoringWatchHandler(&stubWatchService{}, zerolog.Nop())

	watchGroup := app.Group("/api/v1/assignments", func(c *fiber.Ctx) error {
		c.Locals("user_id", uint(9))
		c.Locals("user_role", "teacher")
		return c.Next()
	})
	watchHandler.Register(watchGroup)

	baseURL, shutdown := startFiberServer(t, app)
	defer shutdown()

	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/v1/assignments/3/proctoring/watch"
	clients := 500
	durations := make([]time.Duration, 0, clients)

	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}

	for i := 0; i < clients; i++ {
		start := time.Now()
		conn, resp, err := dialer.Dial(url, http.Header{"X-Correlation-ID": {"perf-" + strconv.Itoa(i)}})
		if err != nil {
			t.Fatalf("websocket dial failed: %v", err)
		}
		if resp != nil {
			_ = resp.Body.Close()
		}

		var notice dto.ViolationNotice
		if err := conn.ReadJSON(&notice); err != nil {
			t.Fatalf("failed to read violation notice: %v", err)
		}
		_ = conn.Close()

		durations = append(durations, time.Since(start))
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	p95 := percentile(durations, 0.95)

	if p95 > 250*time.Millisecond {
		t.Fatalf("expected websocket P95 <= 250ms, got %s", p95)
	}
}

func TestSubmissionFeedSSEP95Under300ms(t *testing.T) {
	app := fiber.New()
	app.Use(middleware.CorrelationID())

	feedHandler := handler.NewSubmissionFeedHandler(&stubFeedService{}, 30*time.Second, zerolog.Nop())

	feedGroup := app.Group("/api/v1/assignments", func(c *fiber.Ctx) error {
		c.Locals("user_id", uint(9))
		c.Locals("user_role", "teacher")
		return c.Next()
	})
	feedHandler.Register(feedGroup)

	baseURL, shutdown := startFiberServer(t, app)
	defer shutdown()

	client := &http.Client{Timeout: 5 * time.Second}
	clients := 200
	durations := make([]time.Duration, 0, clients)

	for i := 0; i < clients; i++ {
		req, err := http.NewRequest(http.MethodGet, baseURL+"/api/v1/assignments/3/submissions/stream", nil)
		if err != nil {
			t.Fatalf("build request failed: %v", err)
		}

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("sse request failed: %v", err)
		}

		reader := bufio.NewReader(resp.Body)
		deadline := time.Now().Add(2 * time.Second)

		for {
			if time.Now().After(deadline) {
				t.Fatalf("sse response timed out for client %d", i)
			}
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("failed to read sse line: %v", err)
			}
			if strings.HasPrefix(line, "data:") {
				durations = append(durations, time.Since(start))
				break
			}
		}

		resp.Body.Close()
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	p95 := percentile(durations, 0.95)

	if p95 > 300*time.Millisecond {
		t.Fatalf("expected SSE P95 <= 300ms, got %s", p95)
	}
}

func percentile(values []time.Duration, pct float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	index := int(math.Ceil(pct*float64(len(values)))) - 1
	if index < 0 {
		index = 0
	}
	if index >= len(values) {
		index = len(values) - 1
	}
	return values[index]
}

func startFiberServer(t *testing.T, app *fiber.App) (string, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	shutdown := func() {
		_ = app.Shutdown()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}

	return "http://" + listener.Addr().String(), shutdown
}

type stubWatchService struct{}

func (s *stubWatchService) IsBlocked(context.Context, uint, time.Time) (bool, error) {
	return false, nil
}

func (s *stubWatchService) Attach(uint, uint, uint) {}

func (s *stubWatchService) Detach(uint) {}

func (s *stubWatchService) Start(context.Context) {}

func (s *stubWatchService) Report(context.Context, uint, uint, dto.ProctoringEventRequest) error {
	return nil
}

func (s *stubWatchService) Watch(assignmentID uint) (<-chan dto.ViolationNotice, func()) {
	ch := make(chan dto.ViolationNotice, 1)
	ch <- dto.ViolationNotice{
		SubmissionID:   7,
		AssignmentID:   assignmentID,
		StudentID:      42,
		EventType:      "tab_switch",
		ViolationCount: 1,
		OccurredAt:     time.Now().UTC(),
	}
	cleanup := func() { close(ch) }
	return ch, cleanup
}

type stubFeedService struct{}

func (s *stubFeedService) PublishSubmission(context.Context, dto.SubmissionEvent) error {
	return nil
}

func (s *stubFeedService) Subscribe(uint) (<-chan dto.SubmissionEvent, func()) {
	ch := make(chan dto.SubmissionEvent, 1)
	ch <- dto.SubmissionEvent{
		Type:       dto.SubmissionEventFinalized,
		Submission: dto.SubmissionResponse{ID: 7, AssignmentID: 3, StudentID: 42, Status: "submitted"},
		OccurredAt: time.Now().UTC(),
	}
	cleanup := func() { close(ch) }
	return ch, cleanup
}

func (s *stubFeedService) Start(context.Context) {}
