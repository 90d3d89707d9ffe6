package transfer

import "testing"

func TestStreamReassemblerDeliversInOrder(t *testing.T) {
	var delivered []int
	r := NewStreamReassembler(func(idx int, data []byte) {
		delivered = append(delivered, idx)
	})

	r.Push(1, []byte("b")) // ahead of turn, queued
	r.Push(0, []byte("a")) // unblocks 0, then drains queued 1
	r.Push(2, []byte("c"))

	want := []int{0, 1, 2}
	if len(delivered) != len(want) {
		t.Fatalf("expected %v, got %v", want, delivered)
	}
	for i, v := range want {
		if delivered[i] != v {
			t.Fatalf("expected %v, got %v", want, delivered)
		}
	}
}

func TestStreamReassemblerDiscardsLateAndDuplicates(t *testing.T) {
	var delivered []int
	r := NewStreamReassembler(func(idx int, data []byte) {
		delivered = append(delivered, idx)
	})

	r.Push(0, []byte("a"))
	r.Push(0, []byte("a-dup")) // late, already delivered
	r.Push(1, []byte("b"))
	r.Push(1, []byte("b-dup")) // also late now

	if len(delivered) != 2 || delivered[0] != 0 || delivered[1] != 1 {
		t.Fatalf("expected [0 1], got %v", delivered)
	}
}

func TestStreamReassemblerQueuesFutureChunkDuplicatesIgnored(t *testing.T) {
	r := NewStreamReassembler(func(idx int, data []byte) {})
	r.Push(5, []byte("x"))
	r.Push(5, []byte("x-dup"))
	if r.Pending() != 1 {
		t.Fatalf("expected exactly 1 pending entry, got %d", r.Pending())
	}
	if r.Expected() != 0 {
		t.Fatalf("expected still waiting on chunk 0, got %d", r.Expected())
	}
}
