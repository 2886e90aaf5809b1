package session

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"
)

// Replay reads JSON-lines events from r and delivers them to out, sleeping
// WaitMS before each one. Blank lines and lines starting with # are skipped.
// out is closed when r is exhausted, on the first bad line, or when ctx ends.
func Replay(ctx context.Context, r io.Reader, out chan<- Event) error {
	defer close(out)

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		ev, err := ParseEvent(raw)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if ev.WaitMS > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(ev.WaitMS) * time.Millisecond):
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- ev:
		}
	}
	return sc.Err()
}
