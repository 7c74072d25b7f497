// ABOUTME: Tests for the worker client: request handling, response correlation,
// ABOUTME: event dispatch, and in-flight call failure when the channel ends.

package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agent-relay/internal/wire"
)

// mockStream implements wire.ChannelClientStream. Host-to-worker envelopes are
// scripted on recvCh; worker sends are recorded.
type mockStream struct {
	ctx    context.Context
	recvCh chan *wire.Envelope

	mu   sync.Mutex
	sent []*wire.Envelope
}

func newMockStream() *mockStream {
	return &mockStream{
		ctx:    context.Background(),
		recvCh: make(chan *wire.Envelope),
	}
}

func (m *mockStream) Send(env *wire.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, env)
	return nil
}

func (m *mockStream) Recv() (*wire.Envelope, error) {
	env, ok := <-m.recvCh
	if !ok {
		return nil, io.EOF
	}
	return env, nil
}

func (m *mockStream) CloseSend() error {
	return nil
}

func (m *mockStream) Context() context.Context {
	return m.ctx
}

func (m *mockStream) sentEnvelopes() []*wire.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*wire.Envelope, len(m.sent))
	copy(result, m.sent)
	return result
}

func waitForSent(t *testing.T, s *mockStream, n int) []*wire.Envelope {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.sentEnvelopes()) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return s.sentEnvelopes()
}

// newTestWorker builds a worker wired to a mock stream. The underlying gRPC
// connection is lazy, so no relay host needs to be listening.
func newTestWorker(t *testing.T) (*Worker, *mockStream) {
	t.Helper()
	rpc, err := wire.Dial("localhost:1", "test-worker")
	require.NoError(t, err)
	t.Cleanup(func() { rpc.Close() })

	w := NewWorker(rpc, slog.Default())
	stream := newMockStream()
	w.stream = stream
	return w, stream
}

func installHandler(w *Worker, agentType string, handler Handler) {
	w.mu.Lock()
	w.handlers[agentType] = handler
	w.mu.Unlock()
}

func runWorker(t *testing.T, w *Worker) chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	return done
}

func waitForRun(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the stream ended")
	}
}

func TestRunDispatchesRequestToHandler(t *testing.T) {
	w, stream := newTestWorker(t)
	installHandler(w, "Echo", func(ctx context.Context, req *wire.Request) ([]byte, error) {
		return []byte(`{"echoed":true}`), nil
	})

	done := runWorker(t, w)
	stream.recvCh <- &wire.Envelope{Request: &wire.Request{
		RequestID: "req-1",
		Target:    "Echo",
		Payload:   json.RawMessage(`{"text":"hi"}`),
	}}

	envs := waitForSent(t, stream, 1)
	require.Equal(t, wire.KindResponse, envs[0].Kind())
	assert.Equal(t, "req-1", envs[0].Response.RequestID)
	assert.JSONEq(t, `{"echoed":true}`, string(envs[0].Response.Payload))
	assert.False(t, envs[0].Response.IsError())

	close(stream.recvCh)
	waitForRun(t, done)
}

func TestRunAnswersHandlerError(t *testing.T) {
	w, stream := newTestWorker(t)
	installHandler(w, "Echo", func(ctx context.Context, req *wire.Request) ([]byte, error) {
		return nil, errors.New("boom")
	})

	done := runWorker(t, w)
	stream.recvCh <- &wire.Envelope{Request: &wire.Request{RequestID: "req-1", Target: "Echo"}}

	envs := waitForSent(t, stream, 1)
	require.Equal(t, wire.KindResponse, envs[0].Kind())
	assert.Equal(t, "boom", envs[0].Response.Error)

	close(stream.recvCh)
	waitForRun(t, done)
}

func TestRunAnswersUnknownTargetWithError(t *testing.T) {
	w, stream := newTestWorker(t)

	done := runWorker(t, w)
	stream.recvCh <- &wire.Envelope{Request: &wire.Request{RequestID: "req-1", Target: "Nobody"}}

	envs := waitForSent(t, stream, 1)
	require.Equal(t, wire.KindResponse, envs[0].Kind())
	assert.Contains(t, envs[0].Response.Error, "no handler")

	close(stream.recvCh)
	waitForRun(t, done)
}

func TestSendRequestCorrelatesResponse(t *testing.T) {
	w, stream := newTestWorker(t)
	done := runWorker(t, w)

	result := make(chan []byte, 1)
	errCh := make(chan error, 1)
	go func() {
		payload, err := w.SendRequest(context.Background(), "Echo", []byte(`{"text":"hi"}`))
		result <- payload
		errCh <- err
	}()

	envs := waitForSent(t, stream, 1)
	require.Equal(t, wire.KindRequest, envs[0].Kind())
	requestID := envs[0].Request.RequestID
	require.NotEmpty(t, requestID)

	stream.recvCh <- &wire.Envelope{Response: &wire.Response{
		RequestID: requestID,
		Payload:   json.RawMessage(`{"text":"hello"}`),
	}}

	select {
	case payload := <-result:
		require.NoError(t, <-errCh)
		assert.JSONEq(t, `{"text":"hello"}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("SendRequest did not return after the response arrived")
	}

	close(stream.recvCh)
	waitForRun(t, done)
}

func TestSendRequestReturnsRequestError(t *testing.T) {
	w, stream := newTestWorker(t)
	done := runWorker(t, w)

	errCh := make(chan error, 1)
	go func() {
		_, err := w.SendRequest(context.Background(), "Ghost", nil)
		errCh <- err
	}()

	envs := waitForSent(t, stream, 1)
	requestID := envs[0].Request.RequestID

	stream.recvCh <- &wire.Envelope{Response: &wire.Response{
		RequestID: requestID,
		Error:     "agent type not registered",
		ErrorCode: wire.ErrorCodeNoTarget,
	}}

	select {
	case err := <-errCh:
		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, wire.ErrorCodeNoTarget, reqErr.Code)
		assert.Equal(t, "agent type not registered", reqErr.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("SendRequest did not return after the error response arrived")
	}

	close(stream.recvCh)
	waitForRun(t, done)
}

func TestSendRequestHonorsContextCancel(t *testing.T) {
	w, _ := newTestWorker(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.SendRequest(ctx, "Echo", nil)
	assert.ErrorIs(t, err, context.Canceled)

	w.mu.Lock()
	assert.Empty(t, w.pending, "cancelled request must not leak a pending entry")
	w.mu.Unlock()
}

func TestChannelCloseFailsInFlightRequests(t *testing.T) {
	w, stream := newTestWorker(t)
	done := runWorker(t, w)

	errCh := make(chan error, 1)
	go func() {
		_, err := w.SendRequest(context.Background(), "Echo", nil)
		errCh <- err
	}()
	waitForSent(t, stream, 1)

	// The stream ends before any response arrives.
	close(stream.recvCh)
	waitForRun(t, done)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight SendRequest did not fail after the channel closed")
	}
}

func TestRunDispatchesEvents(t *testing.T) {
	w, stream := newTestWorker(t)

	received := make(chan *wire.Event, 1)
	w.OnEvent(func(ctx context.Context, ev *wire.Event) {
		received <- ev
	})

	done := runWorker(t, w)
	stream.recvCh <- &wire.Envelope{Event: &wire.Event{
		TopicType:   "metrics.cpu",
		TopicSource: "node-1",
		Payload:     json.RawMessage(`{"load":0.7}`),
	}}

	select {
	case ev := <-received:
		assert.Equal(t, "metrics.cpu", ev.TopicType)
		assert.Equal(t, "node-1", ev.TopicSource)
	case <-time.After(2 * time.Second):
		t.Fatal("event handler was not invoked")
	}

	close(stream.recvCh)
	waitForRun(t, done)
}

func TestRunIgnoresMalformedAndUnknownEnvelopes(t *testing.T) {
	w, stream := newTestWorker(t)
	done := runWorker(t, w)

	// Neither of these is fatal to the run loop.
	stream.recvCh <- &wire.Envelope{}
	stream.recvCh <- &wire.Envelope{Response: &wire.Response{RequestID: "never-sent"}}

	close(stream.recvCh)
	waitForRun(t, done)
	assert.Empty(t, stream.sentEnvelopes())
}

func TestPublishSendsEventEnvelope(t *testing.T) {
	w, stream := newTestWorker(t)

	require.NoError(t, w.Publish("audit", "worker-1", []byte(`{"action":"login"}`)))

	envs := stream.sentEnvelopes()
	require.Len(t, envs, 1)
	require.Equal(t, wire.KindEvent, envs[0].Kind())
	assert.Equal(t, "audit", envs[0].Event.TopicType)
	assert.Equal(t, "worker-1", envs[0].Event.TopicSource)
}

func TestRequestErrorFormatting(t *testing.T) {
	assert.Equal(t, "timed_out: request timed out", (&RequestError{Code: "timed_out", Message: "request timed out"}).Error())
	assert.Equal(t, "plain failure", (&RequestError{Message: "plain failure"}).Error())
}
