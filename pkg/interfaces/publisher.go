package interfaces

import (
	"codesession/pkg/types"
)

// EventPublisher fans a typed session event out to every subscriber of
// the event's session channel. Delivery is best-effort per connection;
// the client side reconciles gaps through polling and full-state loads.
type EventPublisher interface {
	Publish(event types.SessionEvent) error
}
