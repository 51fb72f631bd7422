package registry

const defaultSubscriberBuffer = 16

// Subscribe registers a listener for pool and node status changes. Delivery
// never blocks the registry: when the channel is full the event is dropped.
func (r *Registry) Subscribe() chan Event {
	ch := make(chan Event, defaultSubscriberBuffer)
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subscribers = append(r.subscribers, ch)
	return ch
}

// Unsubscribe removes the listener and closes its channel.
func (r *Registry) Unsubscribe(ch chan Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for i, subscriber := range r.subscribers {
		if subscriber == ch {
			r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (r *Registry) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	for _, ev := range events {
		for _, subscriber := range r.subscribers {
			select {
			case subscriber <- ev:
			default:
			}
		}
	}
}
