package tracker

// eventQueue is a bounded FIFO. When full, the oldest low-priority event
// is evicted; if every queued event is high priority the oldest one goes.
type eventQueue struct {
	items    []Event
	capacity int
}

func newEventQueue(capacity int) *eventQueue {
	return &eventQueue{capacity: max(capacity, 1)}
}

func (q *eventQueue) len() int { return len(q.items) }

// push appends e and returns whatever was evicted to make room
func (q *eventQueue) push(e Event) []Event {
	q.items = append(q.items, e)
	return q.shrink()
}

// take removes up to n events from the head
func (q *eventQueue) take(n int) []Event {
	n = min(n, len(q.items))
	batch := make([]Event, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	return batch
}

// requeue puts a failed batch back at the head in its original order
func (q *eventQueue) requeue(batch []Event) []Event {
	items := make([]Event, 0, len(batch)+len(q.items))
	items = append(items, batch...)
	q.items = append(items, q.items...)
	return q.shrink()
}

func (q *eventQueue) shrink() []Event {
	var evicted []Event
	for len(q.items) > q.capacity {
		idx := 0
		for i, e := range q.items {
			if !e.EventType.HighPriority() {
				idx = i
				break
			}
		}
		evicted = append(evicted, q.items[idx])
		q.items = append(q.items[:idx], q.items[idx+1:]...)
	}
	return evicted
}

// count returns how many queued events have type t
func (q *eventQueue) count(t EventType) int {
	n := 0
	for _, e := range q.items {
		if e.EventType == t {
			n++
		}
	}
	return n
}

// snapshot copies the queue contents
func (q *eventQueue) snapshot() []Event {
	out := make([]Event, len(q.items))
	copy(out, q.items)
	return out
}
