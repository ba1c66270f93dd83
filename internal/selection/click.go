package selection

import "time"

// ClickDetector separates clicks from drags by press duration.
type ClickDetector struct {
	threshold time.Duration
	pressedAt time.Time
	pressed   bool
}

// NewClickDetector creates a detector; gestures shorter than threshold are
// clicks.
func NewClickDetector(threshold time.Duration) *ClickDetector {
	return &ClickDetector{threshold: threshold}
}

// Press records a pointer press.
func (c *ClickDetector) Press(at time.Time) {
	c.pressedAt = at
	c.pressed = true
}

// Release ends the gesture and reports whether it was a click.
func (c *ClickDetector) Release(at time.Time) bool {
	if !c.pressed {
		return false
	}
	c.pressed = false
	return at.Sub(c.pressedAt) < c.threshold
}

// Pressed reports whether a gesture is in progress.
func (c *ClickDetector) Pressed() bool {
	return c.pressed
}

// Dragging reports whether the current gesture has outlasted the click
// threshold at now.
func (c *ClickDetector) Dragging(now time.Time) bool {
	return c.pressed && now.Sub(c.pressedAt) >= c.threshold
}
