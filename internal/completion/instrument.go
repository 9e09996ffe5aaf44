package completion

import (
	"context"
	"time"

	"github.com/ent0n29/chatmemory/internal/window"
)

// Recorder receives the outcome of each completion call.
type Recorder interface {
	ObserveCompletion(result string, latency time.Duration)
}

type instrumented struct {
	next     Completer
	recorder Recorder
}

// Instrument reports every call made through next to recorder.
func Instrument(next Completer, recorder Recorder) Completer {
	if recorder == nil {
		return next
	}
	return &instrumented{next: next, recorder: recorder}
}

func (c *instrumented) Complete(ctx context.Context, messages []window.Message) (string, error) {
	start := time.Now()
	text, err := c.next.Complete(ctx, messages)
	c.recorder.ObserveCompletion(Classify(err), time.Since(start))
	return text, err
}
