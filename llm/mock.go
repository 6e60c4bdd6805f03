package llm

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/docutag/interlinker/textnorm"
)

// Mock is a scripted Generator and a deterministic bag-of-words Embedder.
// It backs the "mock" provider and tests.
type Mock struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     []MockCall

	// Respond, when set, computes the reply instead of the script
	Respond func(system, user string) (string, error)
	// EmbedErr, when set, fails every Embed call
	EmbedErr error
}

// MockCall records one Generate invocation
type MockCall struct {
	System string
	User   string
}

// NewMock returns a mock that replies with responses in order, then repeats the last
func NewMock(responses ...string) *Mock {
	return &Mock{responses: responses}
}

// FailNext queues errors returned before any scripted response
func (m *Mock) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
}

// Calls returns the recorded Generate invocations
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// Generate implements Generator
func (m *Mock) Generate(ctx context.Context, system, user string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{System: system, User: user})

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	if m.Respond != nil {
		return m.Respond(system, user)
	}
	if len(m.responses) == 0 {
		return "", errors.New("mock: no scripted response")
	}
	r := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return r, nil
}

const mockDims = 64

// Embed hashes each token into a fixed-size count vector, so texts sharing
// vocabulary score a higher cosine similarity.
func (m *Mock) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, mockDims)
		for _, tok := range textnorm.Tokens(t) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tok))
			vec[h.Sum32()%mockDims]++
		}
		out[i] = vec
	}
	return out, nil
}
