// Package bus defines the abstract pub/sub media the core consumes: a
// "public" bus (the untrusted 433MHz radio link) and a "private" bus (the
// trusted line-of-sight light channel). Both are typed as carrying whole
// frames; physical modulation, demodulation, and timing recovery belong to
// a driver outside this repository, as do the concrete transports in
// internal/transportbus, which are demo stand-ins rather than core
// dependencies.
package bus

import "github.com/tommie/openepo/internal/codec"

// Handler receives frames delivered on a bus.
type Handler func(codec.Frame)

// Unsubscribe cancels a subscription. It is safe to call more than once.
type Unsubscribe func()

// Bus is a typed, synchronous pub/sub channel for whole frames. Delivery is
// synchronous: Send does not return until every current subscriber's
// Handler has been invoked, and a subscriber sees every frame sent from the
// moment it subscribes onward.
type Bus interface {
	// Send delivers frame to every current subscriber.
	Send(frame codec.Frame) error

	// Subscribe registers handler and returns a function to cancel it.
	Subscribe(handler Handler) Unsubscribe
}
