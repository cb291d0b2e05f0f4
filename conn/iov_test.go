package conn

import "testing"

func TestOutputListAppendAndBuffers(t *testing.T) {
	l := NewOutputList()
	if !l.Empty() {
		t.Fatal("fresh OutputList should be Empty")
	}
	l.Append([]byte("foo"))
	l.Append([]byte("bar"))
	bufs := l.Buffers()
	if len(bufs) != 2 || string(bufs[0]) != "foo" || string(bufs[1]) != "bar" {
		t.Fatalf("Buffers() = %v, want [foo bar]", bufs)
	}
}

func TestOutputListAdvancePartial(t *testing.T) {
	l := NewOutputList()
	l.Append([]byte("hello"))
	l.Append([]byte("world"))
	l.Advance(3) // consumes "hel", leaves "lo" + "world"
	bufs := l.Buffers()
	if len(bufs) != 2 || string(bufs[0]) != "lo" || string(bufs[1]) != "world" {
		t.Fatalf("Buffers() after partial Advance = %v", bufs)
	}
	l.Advance(7) // drains the rest
	if !l.Empty() {
		t.Fatal("OutputList should be Empty after draining all bytes")
	}
}

func TestOutputListSpillsPastIovMax(t *testing.T) {
	l := NewOutputList()
	for i := 0; i < iovMax+5; i++ {
		l.Append([]byte{byte(i)})
	}
	if len(l.msgs) != 2 {
		t.Fatalf("expected entries to spill into a second msghdr, got %d msgs", len(l.msgs))
	}
	total := 0
	for _, b := range l.Buffers() {
		total += len(b)
	}
	if total != iovMax+5 {
		t.Fatalf("Buffers() total bytes = %d, want %d", total, iovMax+5)
	}
}
