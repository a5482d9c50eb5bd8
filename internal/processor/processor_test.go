package processor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docstream/internal/broker"
	"github.com/nikhilbhutani/docstream/internal/dispatch"
	"github.com/nikhilbhutani/docstream/internal/envelope"
	"github.com/nikhilbhutani/docstream/internal/llm"
	"github.com/nikhilbhutani/docstream/internal/worker"
)

type stubCompleter struct {
	mu     sync.Mutex
	system string
	user   string
	model  string
	calls  int
	err    error
}

func (s *stubCompleter) Complete(_ context.Context, system, user, model string) (string, llm.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.system, s.user, s.model = system, user, model
	s.calls++
	if s.err != nil {
		return "", llm.Usage{}, s.err
	}
	content := strings.TrimPrefix(user, "Please summarize the following document:\n\n")
	return strings.ToUpper(content), llm.Usage{Model: model, InputTokens: 2, OutputTokens: 2}, nil
}

type memResponder struct {
	mu    sync.Mutex
	kinds []envelope.Kind
	resps []*envelope.Response
	err   error
}

func (m *memResponder) Respond(_ context.Context, kind envelope.Kind, resp *envelope.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.kinds = append(m.kinds, kind)
	m.resps = append(m.resps, resp)
	return nil
}

type usageLog struct {
	records []llm.Usage
	err     error
}

func (u *usageLog) RecordUsage(_ context.Context, _ envelope.Kind, _ string, usage llm.Usage) error {
	u.records = append(u.records, usage)
	return u.err
}

func TestSummarize(t *testing.T) {
	c := &stubCompleter{}
	r := &memResponder{}
	u := &usageLog{}
	h := NewHandler(envelope.KindSummarize, c, r, WithUsageRecorder(u))

	err := h.Handle(context.Background(), &envelope.Request{
		RequestID:  "r1",
		DocumentID: "doc1",
		Content:    "hello world",
		ModelID:    "stub-model",
	})
	require.NoError(t, err)

	assert.Equal(t, summarySystemPrompt, c.system)
	assert.Equal(t, "Please summarize the following document:\n\nhello world", c.user)
	assert.Equal(t, "stub-model", c.model)

	require.Len(t, r.resps, 1)
	assert.Equal(t, envelope.KindSummarize, r.kinds[0])
	resp := r.resps[0]
	assert.Equal(t, "r1", resp.RequestID)
	assert.Equal(t, "HELLO WORLD", resp.Result)
	assert.Empty(t, resp.Error)
	assert.Equal(t, envelope.Cost{ModelID: "stub-model", InputTokens: 2, OutputTokens: 2}, resp.Cost)
	assert.Len(t, u.records, 1)
}

func TestAnswerQuestionPrompt(t *testing.T) {
	c := &stubCompleter{}
	r := &memResponder{}
	h := NewHandler(envelope.KindAnswerQuestion, c, r)

	require.NoError(t, h.Handle(context.Background(), &envelope.Request{
		RequestID: "r1",
		Content:   "The sky is blue.",
		Question:  "What color is the sky?",
		ModelID:   "stub-model",
	}))

	assert.Equal(t, qaSystemPrompt, c.system)
	assert.Equal(t, "Document:\n\nThe sky is blue.\n\nQuestion: What color is the sky?\n\nAnswer:", c.user)
	require.Len(t, r.resps, 1)
	assert.Equal(t, envelope.KindAnswerQuestion, r.kinds[0])
}

func TestModelFailureStillResponds(t *testing.T) {
	tests := []struct {
		kind envelope.Kind
		want string
	}{
		{envelope.KindSummarize, "Unable to generate summary due to an error."},
		{envelope.KindAnswerQuestion, "Unable to answer the question due to an error."},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			r := &memResponder{}
			u := &usageLog{}
			h := NewHandler(tt.kind, &stubCompleter{err: errors.New("rate limited")}, r, WithUsageRecorder(u))

			err := h.Handle(context.Background(), &envelope.Request{RequestID: "r1", Question: "q", ModelID: "m"})
			require.NoError(t, err)

			require.Len(t, r.resps, 1)
			resp := r.resps[0]
			assert.Equal(t, tt.want, resp.Result)
			assert.Equal(t, envelope.ZeroCost("m"), resp.Cost)
			assert.Equal(t, "rate limited", resp.Error)
			assert.Empty(t, u.records)
		})
	}
}

func TestMissingQuestion(t *testing.T) {
	c := &stubCompleter{}
	r := &memResponder{}
	h := NewHandler(envelope.KindAnswerQuestion, c, r)

	require.NoError(t, h.Handle(context.Background(), &envelope.Request{RequestID: "r1", Content: "doc"}))
	assert.Zero(t, c.calls)
	require.Len(t, r.resps, 1)
	assert.Equal(t, answerUnavailable, r.resps[0].Result)
	assert.Equal(t, errMissingQuestion.Error(), r.resps[0].Error)
}

func TestShutdownDuringCallLeavesRequestPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &memResponder{}
	h := NewHandler(envelope.KindSummarize, &stubCompleter{err: context.Canceled}, r)

	err := h.Handle(ctx, &envelope.Request{RequestID: "r1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.resps)
}

func TestRespondFailureIsReturned(t *testing.T) {
	h := NewHandler(envelope.KindSummarize, &stubCompleter{}, &memResponder{err: errors.New("broker down")})
	err := h.Handle(context.Background(), &envelope.Request{RequestID: "r1", Content: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestUsageFailureDoesNotFailRequest(t *testing.T) {
	r := &memResponder{}
	h := NewHandler(envelope.KindSummarize, &stubCompleter{}, r, WithUsageRecorder(&usageLog{err: errors.New("db down")}))
	require.NoError(t, h.Handle(context.Background(), &envelope.Request{RequestID: "r1", Content: "x"}))
	assert.Len(t, r.resps, 1)
}

// A summarize request travels through the broker, a worker loop and back to
// the waiting caller.
func TestSummarizeEndToEnd(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr(), ContextTimeoutEnabled: true})
	t.Cleanup(func() { _ = client.Close() })
	b := broker.NewRedisBroker(client)

	pub := dispatch.NewPublisher(b)
	h := NewHandler(envelope.KindSummarize, &stubCompleter{}, pub)
	loop := worker.NewLoop(b, envelope.KindSummarize, "summarize-worker-test", h,
		worker.WithBlock(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	caller := dispatch.NewClient(pub,
		dispatch.NewWaiter(b, dispatch.WithScanBlock(100*time.Millisecond), dispatch.WithPollInterval(20*time.Millisecond)),
		5*time.Second)

	start := time.Now()
	requestID, resp, err := caller.Call(context.Background(), envelope.KindSummarize, dispatch.PublishRequest{
		DocumentID: "doc1",
		Content:    "hello world",
		ModelID:    "stub-model",
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, requestID, resp.RequestID)
	assert.Equal(t, "HELLO WORLD", resp.Result)
	assert.Equal(t, envelope.Cost{ModelID: "stub-model", InputTokens: 2, OutputTokens: 2}, resp.Cost)

	require.Eventually(t, func() bool {
		p, err := client.XPending(context.Background(), "summary-requests", "summary-processors").Result()
		return err == nil && p.Count == 0
	}, time.Second, 10*time.Millisecond)
}
