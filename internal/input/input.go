// Package input carries user commands (analyze now, quit) from whatever
// surface produced them to the display loop.
package input

import (
	"context"
	"sync"
)

type Event int

const (
	Analyze Event = iota + 1
	Quit
)

func (e Event) String() string {
	switch e {
	case Analyze:
		return "analyze"
	case Quit:
		return "quit"
	}
	return "unknown"
}

// FromKey maps a key code to an event. Space and 'a' request an analysis;
// 'q', ESC and Ctrl-C quit.
func FromKey(key int) (Event, bool) {
	switch key {
	case ' ', 'a', 'A':
		return Analyze, true
	case 'q', 'Q', 27, 3:
		return Quit, true
	}
	return 0, false
}

// Poll drains every event already queued on ch without blocking.
func Poll(ch <-chan Event) (analyze, quit bool) {
	if ch == nil {
		return false, false
	}
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return analyze, quit
			}
			switch e {
			case Analyze:
				analyze = true
			case Quit:
				quit = true
			}
		default:
			return analyze, quit
		}
	}
}

// Send delivers e without blocking; a full channel drops it.
func Send(ch chan<- Event, e Event) bool {
	select {
	case ch <- e:
		return true
	default:
		return false
	}
}

// Merge fans several event channels into one until ctx is done or every
// input is closed. Nil channels are ignored.
func Merge(ctx context.Context, chans ...<-chan Event) <-chan Event {
	out := make(chan Event, 16)
	var wg sync.WaitGroup
	for _, ch := range chans {
		if ch == nil {
			continue
		}
		wg.Add(1)
		go func(ch <-chan Event) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case e, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- e:
					case <-ctx.Done():
						return
					}
				}
			}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
