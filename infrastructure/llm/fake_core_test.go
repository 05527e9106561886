package llm

import (
	"context"
	"sync"
)

type ctxKey string

const testContextKey ctxKey = "test-key"

type fakeResult struct {
	response string
	err      error
}

// fakeCore replays scripted results; once the script is exhausted it
// answers "ok" with fixed token counts.
type fakeCore struct {
	mu      sync.Mutex
	model   string
	script  []fakeResult
	calls   int
	block   bool
	lastCtx context.Context
	lastOpt map[string]any
}

func newFakeCore(script ...fakeResult) *fakeCore {
	return &fakeCore{model: "fake-model", script: script}
}

func (f *fakeCore) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	f.mu.Lock()
	f.calls++
	f.lastCtx = ctx
	f.lastOpt = opts
	var res fakeResult
	scripted := len(f.script) > 0
	if scripted {
		res, f.script = f.script[0], f.script[1:]
	}
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", 0, 0, ctx.Err()
	}
	if !scripted {
		return "ok", 10, 20, nil
	}
	if res.err != nil {
		return "", 0, 0, res.err
	}
	return res.response, 10, 20, nil
}

func (f *fakeCore) GetModel() string { return f.model }

func (f *fakeCore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func serverError() error {
	return NewProviderError("fake", ErrorTypeServerError, 503, "unavailable", nil)
}

func badRequest() error {
	return NewProviderError("fake", ErrorTypeBadRequest, 400, "bad", nil)
}
