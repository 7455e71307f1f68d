package dsroq

import (
	"testing"

	"github.com/signalsfoundry/leo-admission/model"
)

func queuedRequest(user string, priority int, ts float64) *model.UserRequest {
	return &model.UserRequest{UserID: user, Priority: priority, Timestamp: ts}
}

func TestPendingQueue_OrdersByPriority(t *testing.T) {
	q := NewPendingQueue()
	q.Push(queuedRequest("low", 3, 0))
	q.Push(queuedRequest("high", 9, 0))
	q.Push(queuedRequest("mid", 5, 0))

	if q.Len() != 3 {
		t.Fatalf("expected 3 queued, got %d", q.Len())
	}
	for _, want := range []string{"high", "mid", "low"} {
		req, ok := q.Pop()
		if !ok {
			t.Fatalf("queue drained before %q", want)
		}
		if req.UserID != want {
			t.Errorf("expected %q, got %q", want, req.UserID)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Errorf("expected empty queue")
	}
}

func TestPendingQueue_BreaksTiesByArrival(t *testing.T) {
	q := NewPendingQueue()
	q.Push(queuedRequest("late", 5, 20))
	q.Push(queuedRequest("early", 5, 10))

	req, _ := q.Pop()
	if req.UserID != "early" {
		t.Errorf("expected the earlier arrival first, got %q", req.UserID)
	}
}

func TestPendingQueue_EqualRequestsKeepInsertionOrder(t *testing.T) {
	q := NewPendingQueue()
	for _, user := range []string{"a", "b", "c"} {
		q.Push(queuedRequest(user, 5, 10))
	}
	for _, want := range []string{"a", "b", "c"} {
		req, _ := q.Pop()
		if req.UserID != want {
			t.Errorf("expected %q, got %q", want, req.UserID)
		}
	}
}

func TestPendingQueue_IgnoresNil(t *testing.T) {
	q := NewPendingQueue()
	q.Push(nil)
	if q.Len() != 0 {
		t.Errorf("nil request was queued")
	}
}
