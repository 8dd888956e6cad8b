package eventbus

import "fmt"

// Listen registers a handler that only receives payloads of type T.
// Payloads of any other type are logged and dropped.
func Listen[T any](b *Bus, name string, handler func(T)) *Subscription {
	return b.On(name, func(e Event) {
		payload, ok := e.Payload.(T)
		if !ok {
			b.log.Error(fmt.Errorf("unexpected payload type %T", e.Payload), "Dropping event",
				"event", e.Name, "id", e.ID)
			return
		}
		handler(payload)
	})
}
