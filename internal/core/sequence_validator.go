package core

import (
	"fmt"
)

// logCursor tracks where replay is in the event log. An envelope is only
// accepted if it is the next sequence and links to the current chain tip,
// so a missing or reordered row stops recovery before state diverges.
type logCursor struct {
	next int64
}

// Check validates env's position against the cursor and the chain tip.
func (c *logCursor) Check(sequence int64, prevHash, tip [32]byte) error {
	switch {
	case sequence < c.next:
		return fmt.Errorf("event log out of order: expected sequence %d, got %d", c.next, sequence)
	case sequence > c.next:
		return fmt.Errorf("event log gap: expected sequence %d, got %d", c.next, sequence)
	case prevHash != tip:
		return fmt.Errorf("event log seq %d does not link to chain tip %x", sequence, tip[:8])
	}
	return nil
}

// Advance moves past an envelope that replayed cleanly.
func (c *logCursor) Advance() {
	c.next++
}

// Reset positions the cursor at seq, e.g. after a snapshot restore.
func (c *logCursor) Reset(seq int64) {
	c.next = seq
}
