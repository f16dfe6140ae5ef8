package agent

import (
	"encoding/json"
	"fmt"
)

// RepeatDetector remembers the most recent dispatches and reports when the
// same call keeps being made. Argument maps are compared in canonical JSON,
// so key order does not matter.
type RepeatDetector struct {
	limit int
	ring  []string
	next  int
	count int
}

// NewRepeatDetector creates a detector that blocks a call once it has been
// dispatched limit times in a row. A limit below one disables detection.
func NewRepeatDetector(limit int) *RepeatDetector {
	if limit < 1 {
		return &RepeatDetector{}
	}
	return &RepeatDetector{limit: limit, ring: make([]string, limit)}
}

func callKey(tool string, args map[string]any) string {
	if len(args) == 0 {
		return tool + "\x00{}"
	}
	// encoding/json sorts map keys, nested maps included
	data, err := json.Marshal(args)
	if err != nil {
		return tool + "\x00" + fmt.Sprint(args)
	}
	return tool + "\x00" + string(data)
}

// Streak returns how many of the most recent dispatches, counting back from
// the latest, were exactly this call.
func (d *RepeatDetector) Streak(tool string, args map[string]any) int {
	if d.limit == 0 {
		return 0
	}
	key := callKey(tool, args)
	streak := 0
	for i := 1; i <= d.count; i++ {
		idx := (d.next - i + d.limit) % d.limit
		if d.ring[idx] != key {
			break
		}
		streak++
	}
	return streak
}

// Blocked reports whether dispatching this call would exceed the limit.
func (d *RepeatDetector) Blocked(tool string, args map[string]any) bool {
	return d.limit > 0 && d.Streak(tool, args) >= d.limit
}

// Record notes a dispatch.
func (d *RepeatDetector) Record(tool string, args map[string]any) {
	if d.limit == 0 {
		return
	}
	d.ring[d.next] = callKey(tool, args)
	d.next = (d.next + 1) % d.limit
	if d.count < d.limit {
		d.count++
	}
}

// Reset forgets all recorded dispatches.
func (d *RepeatDetector) Reset() {
	for i := range d.ring {
		d.ring[i] = ""
	}
	d.next, d.count = 0, 0
}
