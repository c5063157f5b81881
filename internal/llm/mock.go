// ABOUTME: Scripted Executor for tests
// ABOUTME: Returns queued replies or errors in order and records every call

package llm

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/2389/orchat-gateway/internal/store"
)

// Call is one recorded Complete invocation.
type Call struct {
	Model    string
	Messages []store.ContextMessage
}

type scripted struct {
	reply string
	err   error
}

// MockExecutor returns scripted results. With an empty script it echoes the
// last message back.
type MockExecutor struct {
	mu     sync.Mutex
	script []scripted
	calls  []Call
}

// NewMockExecutor creates a MockExecutor with an empty script.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

// Reply queues a successful assistant reply.
func (m *MockExecutor) Reply(content string) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scripted{reply: content})
	return m
}

// Fail queues a failure.
func (m *MockExecutor) Fail(err error) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scripted{err: err})
	return m
}

// Calls returns the recorded invocations.
func (m *MockExecutor) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// Complete implements Executor.
func (m *MockExecutor) Complete(ctx context.Context, model string, messages []store.ContextMessage) (store.ContextMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Model: model, Messages: slices.Clone(messages)})

	if err := ctx.Err(); err != nil {
		return store.ContextMessage{}, err
	}

	if len(m.script) == 0 {
		if len(messages) == 0 {
			return store.ContextMessage{}, errors.New("mock executor: no messages")
		}
		return store.ContextMessage{Role: store.RoleAssistant, Content: messages[len(messages)-1].Content}, nil
	}

	next := m.script[0]
	m.script = m.script[1:]
	if next.err != nil {
		return store.ContextMessage{}, next.err
	}
	return store.ContextMessage{Role: store.RoleAssistant, Content: next.reply}, nil
}

var (
	_ Executor = (*MockExecutor)(nil)
	_ Executor = (*OpenRouter)(nil)
)
