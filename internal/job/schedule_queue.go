package job

import (
	"container/heap"
	"time"
)

// queueItem is a job waiting for its start time
type queueItem struct {
	jobID string
	runAt time.Time
	seq   uint64
	index int
}

// runQueue implements heap.Interface ordered by start time, then submission order
type runQueue []*queueItem

func (q runQueue) Len() int { return len(q) }

func (q runQueue) Less(i, j int) bool {
	if q[i].runAt.Equal(q[j].runAt) {
		return q[i].seq < q[j].seq
	}
	return q[i].runAt.Before(q[j].runAt)
}

func (q runQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *runQueue) Push(x interface{}) {
	item := x.(*queueItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *runQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// scheduleQueue tracks queued jobs by id on top of runQueue. Not safe for
// concurrent use; the dispatcher guards it with its own mutex.
type scheduleQueue struct {
	items runQueue
	byID  map[string]*queueItem
	seq   uint64
}

func newScheduleQueue() *scheduleQueue {
	return &scheduleQueue{byID: make(map[string]*queueItem)}
}

func (q *scheduleQueue) push(jobID string, runAt time.Time) {
	if _, ok := q.byID[jobID]; ok {
		return
	}
	q.seq++
	item := &queueItem{jobID: jobID, runAt: runAt, seq: q.seq}
	heap.Push(&q.items, item)
	q.byID[jobID] = item
}

// popDue removes and returns the earliest job whose start time is not after now
func (q *scheduleQueue) popDue(now time.Time) (string, bool) {
	if len(q.items) == 0 || q.items[0].runAt.After(now) {
		return "", false
	}
	item := heap.Pop(&q.items).(*queueItem)
	delete(q.byID, item.jobID)
	return item.jobID, true
}

// remove drops jobID from the queue, reporting whether it was queued
func (q *scheduleQueue) remove(jobID string) bool {
	item, ok := q.byID[jobID]
	if !ok {
		return false
	}
	heap.Remove(&q.items, item.index)
	delete(q.byID, jobID)
	return true
}

func (q *scheduleQueue) len() int {
	return len(q.items)
}
