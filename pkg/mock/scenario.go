package mock

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ReplySilent denotes a step during which the scale does not answer at all
const ReplySilent = "silent"

// Step denotes a reply served for a fixed duration
type Step struct {
	Reply    string
	Duration time.Duration
}

// ParseSequence parses a comma separated list of <reply>:<duration> steps. A
// reply is either a weight in kg, "ES", "silent" or any raw string without commas
// (e.g. "0:2s,12.345:5s,ES:500ms,12.345:5s")
func ParseSequence(seq string) ([]Step, error) {
	var steps []Step
	for _, item := range strings.Split(seq, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		idx := strings.LastIndex(item, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid step %q: missing duration", item)
		}
		d, err := time.ParseDuration(item[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("invalid step %q: %w", item, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid step %q: duration must be positive", item)
		}

		reply := item[:idx]
		if kg, err := strconv.ParseFloat(reply, 64); err == nil {
			reply = FormatWeight(kg)
		}
		steps = append(steps, Step{Reply: reply, Duration: d})
	}

	if len(steps) == 0 {
		return nil, fmt.Errorf("empty sequence")
	}

	return steps, nil
}

// Play serves the steps one after another, repeating them if requested, until
// the context is cancelled or the (non-repeating) sequence is complete
func (m *Mock) Play(ctx context.Context, steps []Step, repeat bool) error {
	for {
		for _, step := range steps {
			m.apply(step)

			timer := time.NewTimer(step.Duration)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if !repeat {
			return nil
		}
	}
}

////////////////////////////////////////////////////////////////////////////////

func (m *Mock) apply(step Step) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.silent = step.Reply == ReplySilent
	if !m.silent {
		m.current = step.Reply
	}
	m.logger.Debugf("serving %q for %v", step.Reply, step.Duration)
}
