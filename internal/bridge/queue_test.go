package bridge

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestQueue_WriteRead(t *testing.T) {
	q := NewSampleQueue(10, nil, nil)
	q.Write([]byte{1, 2, 3, 4})
	p := make([]byte, 8)
	n, err := q.Read(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected short read of 4, got %d", n)
	}
	if !bytes.Equal(p[:4], []byte{1, 2, 3, 4}) {
		t.Fatalf("unexpected data %v", p[:4])
	}
}

func TestQueue_ReadTruncatesLargeEntry(t *testing.T) {
	q := NewSampleQueue(10, nil, nil)
	q.Write([]byte{1, 2, 3, 4, 5, 6})
	p := make([]byte, 4)
	n, _ := q.Read(p)
	if n != 4 {
		t.Fatalf("expected 4 bytes, got %d", n)
	}
	if !bytes.Equal(p, []byte{1, 2, 3, 4}) {
		t.Fatalf("unexpected data %v", p)
	}
}

func TestQueue_DropOldestAtCapacity(t *testing.T) {
	// 105 writes into a queue of 100: the oldest 5 go, order is preserved.
	q := NewSampleQueue(100, nil, nil)
	for i := 0; i < 105; i++ {
		q.Write([]byte{byte(i)})
	}
	if q.Len() != 100 {
		t.Fatalf("expected queue len 100, got %d", q.Len())
	}
	p := make([]byte, 1)
	for i := 0; i < 100; i++ {
		n, err := q.Read(p)
		if err != nil || n != 1 {
			t.Fatalf("read %d: n=%d err=%v", i, n, err)
		}
		if p[0] != byte(i+5) {
			t.Fatalf("entry %d: got %d, want %d", i, p[0], i+5)
		}
	}
}

func TestQueue_SizeNeverExceedsCapacity(t *testing.T) {
	q := NewSampleQueue(8, nil, nil)
	for i := 0; i < 50; i++ {
		q.Write([]byte{byte(i)})
		if q.Len() > 8 {
			t.Fatalf("after write %d: len %d exceeds capacity", i, q.Len())
		}
	}
}

func TestQueue_StarvedReadReturnsFullSilence(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the full read attempt budget")
	}
	q := NewSampleQueue(10, nil, nil)
	p := make([]byte, 320)
	for i := range p {
		p[i] = 0xff
	}
	n, err := q.Read(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 320 {
		t.Fatalf("expected full-size silence read of 320, got %d", n)
	}
	for i, b := range p {
		if b != 0 {
			t.Fatalf("byte %d not silence: %#x", i, b)
		}
	}
}

func TestQueue_CloseWakesBlockedReader(t *testing.T) {
	q := NewSampleQueue(10, nil, nil)
	done := make(chan struct{})
	var n int
	var err error
	go func() {
		n, err = q.Read(make([]byte, 320))
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(300 * time.Millisecond):
		t.Fatalf("reader not woken promptly by close")
	}
	if n != 0 || err != io.EOF {
		t.Fatalf("expected 0, io.EOF after close, got %d, %v", n, err)
	}
}

func TestQueue_WriteAfterCloseIgnored(t *testing.T) {
	q := NewSampleQueue(10, nil, nil)
	q.Close()
	q.Write([]byte{1})
	if q.Len() != 0 {
		t.Fatalf("expected closed queue to stay empty")
	}
	q.Close() // double close is safe
}
