package engine

import (
	"sync"

	"github.com/TTT3216/ic2/internal/model"
)

// Broker notifies subscribers when a task reaches a terminal state. Each
// task publishes at most one event, after which its topic is closed.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers receive a
// closed channel instead of blocking forever; Forget drops the marker once
// the task itself has been evicted.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	subs   map[int]chan model.TaskRecord
	nextID int
	closed bool
}

// NewBroker creates a new completion broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*topic),
	}
}

// Subscribe returns a channel that receives the terminal record of the given
// task and is then closed, plus an unsubscribe function. If the task has
// already finished, the returned channel is closed immediately.
func (b *Broker) Subscribe(taskID string) (<-chan model.TaskRecord, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok {
		t = &topic{subs: make(map[int]chan model.TaskRecord)}
		b.topics[taskID] = t
	}

	// Buffered so Publish never blocks on a slow subscriber.
	ch := make(chan model.TaskRecord, 1)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish delivers rec to every subscriber of rec.ID and closes the topic.
// Subsequent publishes for the same task are ignored.
func (b *Broker) Publish(rec model.TaskRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[rec.ID]
	if !ok {
		b.topics[rec.ID] = &topic{subs: make(map[int]chan model.TaskRecord), closed: true}
		return
	}
	if t.closed {
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		ch <- rec.Clone()
		close(ch)
		delete(t.subs, id)
	}
}

// Forget drops all state for the given task.
func (b *Broker) Forget(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok {
		return
	}
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
	delete(b.topics, taskID)
}
