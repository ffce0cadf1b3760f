package generation

import (
	"context"
	"fmt"
	"sync"
)

// ScriptProvider replays a fixed sequence of responses. Used in tests
// and in dev mode when no completion API key is configured, so the
// orchestrator can be exercised end to end without an external service.
type ScriptProvider struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
}

// NewScriptProvider creates a provider that returns responses in order.
// After the script is exhausted it keeps producing synthetic lines.
func NewScriptProvider(responses ...string) *ScriptProvider {
	return &ScriptProvider{responses: responses}
}

// FailWith appends an error step to the script: the call at that
// position fails instead of producing text.
func (p *ScriptProvider) FailWith(errs ...error) *ScriptProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, errs...)
	return p
}

// Calls returns how many completion calls were made.
func (p *ScriptProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Complete returns the next scripted response or error.
func (p *ScriptProvider) Complete(_ context.Context, _ Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++

	if i < len(p.errs) && p.errs[i] != nil {
		return "", p.errs[i]
	}
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	return fmt.Sprintf("scripted response %d", i), nil
}
