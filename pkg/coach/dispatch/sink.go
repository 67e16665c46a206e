package dispatch

import (
	"context"

	"github.com/vango-go/callcoach/pkg/core/types"
)

// ChanSink forwards events to a channel, blocking until the receiver is ready or the
// delivery context ends.
type ChanSink chan types.Event

// Deliver sends ev on the channel.
func (c ChanSink) Deliver(ctx context.Context, ev types.Event) error {
	select {
	case c <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
