package island

import (
	"container/heap"
	"slices"
)

// messageHeap implements heap.Interface ordered by (time, seq).
type messageHeap []Message

func (h messageHeap) Len() int           { return len(h) }
func (h messageHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h messageHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x any) {
	*h = append(*h, x.(Message))
}

func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	m := old[n-1]
	old[n-1] = Message{}
	*h = old[:n-1]
	return m
}

// Queue is the virtual-time priority queue.
//
// Keys are unique per island, so the pop order is a total order and never
// depends on insertion history.
type Queue struct {
	h messageHeap
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push inserts a message in O(log n).
func (q *Queue) Push(m Message) {
	heap.Push(&q.h, m)
}

// Peek returns the smallest message without removing it.
func (q *Queue) Peek() (Message, bool) {
	if len(q.h) == 0 {
		return Message{}, false
	}
	return q.h[0], true
}

// Pop removes and returns the smallest message.
func (q *Queue) Pop() (Message, bool) {
	if len(q.h) == 0 {
		return Message{}, false
	}
	return heap.Pop(&q.h).(Message), true
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	return len(q.h)
}

// Messages exports every queued message in (time, seq) order.
// The queue is not modified.
func (q *Queue) Messages() []Message {
	out := slices.Clone([]Message(q.h))
	slices.SortFunc(out, Message.Compare)
	return out
}

// load replaces the queue contents with an exported message set.
func (q *Queue) load(msgs []Message) {
	q.h = slices.Clone(msgs)
	heap.Init(&q.h)
}
