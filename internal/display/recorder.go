package display

import (
	"context"
	"sync"

	"github.com/saaga0h/circadianlight/internal/circadian"
)

// Applied is one call recorded by a Recorder
type Applied struct {
	Output string
	Gamma  circadian.Triple
}

// Recorder is an in-memory Applier backing `apply --dry-run`
type Recorder struct {
	mu       sync.Mutex
	outputs  []string
	applied  []Applied
	ApplyErr error
}

// NewRecorder creates a recorder that lists the given outputs
func NewRecorder(outputs ...string) *Recorder {
	return &Recorder{outputs: outputs}
}

func (r *Recorder) Outputs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outputs...), nil
}

func (r *Recorder) Apply(ctx context.Context, output string, gamma circadian.Triple) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ApplyErr != nil {
		return r.ApplyErr
	}
	r.applied = append(r.applied, Applied{Output: output, Gamma: gamma})
	return nil
}

// Applied returns a copy of every successful Apply call
func (r *Recorder) Applied() []Applied {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Applied(nil), r.applied...)
}

// Last returns the most recent successful Apply call
func (r *Recorder) Last() (Applied, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.applied) == 0 {
		return Applied{}, false
	}
	return r.applied[len(r.applied)-1], true
}
