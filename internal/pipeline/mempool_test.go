package pipeline

import (
	"testing"

	"github.com/aiqnetlab/qnet-node/internal/qnerr"
)

func TestQueueSubmitAndDrainFIFO(t *testing.T) {
	q := NewQueue(2)
	if err := q.Submit(Transfer{From: "a", To: "b", Amount: 1}); err != nil {
		t.Fatal(err)
	}
	if err := q.Submit(Transfer{From: "c", To: "d", Amount: 2}); err != nil {
		t.Fatal(err)
	}
	if err := q.Submit(Transfer{From: "e", To: "f", Amount: 3}); !qnerr.Is(err, qnerr.QueueFull) {
		t.Fatalf("expected QueueFull once capacity is reached, got %v", err)
	}

	drained := q.Drain(10)
	if len(drained) != 2 || drained[0].From != "a" || drained[1].From != "c" {
		t.Fatalf("unexpected FIFO order: %+v", drained)
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue to be empty after drain, got %d", q.Len())
	}
}
