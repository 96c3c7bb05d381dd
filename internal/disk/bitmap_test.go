package disk

import "testing"

func TestFindAndSetLowestClear(t *testing.T) {
	b := NewBitmap(10)
	b.Mark(0)
	b.Mark(1)

	got, ok := b.FindAndSet()
	if !ok || got != 2 {
		t.Fatalf("FindAndSet() = (%d, %v), want (2, true)", got, ok)
	}
	if !b.Test(2) {
		t.Fatal("bit 2 not marked after FindAndSet")
	}
}

func TestFindAndSetExhausted(t *testing.T) {
	b := NewBitmap(3)
	for i := 0; i < 3; i++ {
		if _, ok := b.FindAndSet(); !ok {
			t.Fatalf("FindAndSet unexpectedly failed at iteration %d", i)
		}
	}
	if _, ok := b.FindAndSet(); ok {
		t.Fatal("FindAndSet succeeded on a full bitmap")
	}
}

func TestNumClear(t *testing.T) {
	b := NewBitmap(64)
	if b.NumClear() != 64 {
		t.Fatalf("NumClear() = %d, want 64", b.NumClear())
	}
	b.FindAndSet()
	b.FindAndSet()
	if b.NumClear() != 62 {
		t.Fatalf("NumClear() = %d, want 62", b.NumClear())
	}
	b.Clear(0)
	if b.NumClear() != 63 {
		t.Fatalf("NumClear() after Clear = %d, want 63", b.NumClear())
	}
}

func TestFindAndSetCrossesWordBoundary(t *testing.T) {
	b := NewBitmap(130) // more than two 64-bit words
	for i := 0; i < 64; i++ {
		b.Mark(i)
	}
	got, ok := b.FindAndSet()
	if !ok || got != 64 {
		t.Fatalf("FindAndSet() = (%d, %v), want (64, true)", got, ok)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	b := NewBitmap(64)
	b.Mark(0)
	b.Mark(5)
	b.Mark(63)

	buf := b.Marshal()
	got, err := UnmarshalBitmap(buf, 64)
	if err != nil {
		t.Fatalf("UnmarshalBitmap: %v", err)
	}
	for _, i := range []int{0, 5, 63} {
		if !got.Test(i) {
			t.Fatalf("bit %d lost across Marshal/UnmarshalBitmap", i)
		}
	}
	if got.NumClear() != b.NumClear() {
		t.Fatalf("NumClear mismatch after round trip: got %d, want %d", got.NumClear(), b.NumClear())
	}
}

func TestUnmarshalBitmapRejectsShortBuffer(t *testing.T) {
	b := NewBitmap(64)
	buf := b.Marshal()
	if _, err := UnmarshalBitmap(buf[:len(buf)-1], 64); err == nil {
		t.Fatal("UnmarshalBitmap accepted a truncated buffer")
	}
}
