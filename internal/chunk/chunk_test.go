package chunk

import (
	"errors"
	"strings"
	"testing"
)

func TestNewSplitterValidation(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr error
	}{
		{name: "valid", size: 500, overlap: 50},
		{name: "zero overlap", size: 100, overlap: 0},
		{name: "overlap equals size", size: 100, overlap: 100, wantErr: ErrOverlapTooLarge},
		{name: "overlap exceeds size", size: 100, overlap: 150, wantErr: ErrOverlapTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSplitter(tt.size, tt.overlap)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("NewSplitter(%d, %d) = %v, want nil", tt.size, tt.overlap, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("NewSplitter(%d, %d) = %v, want %v", tt.size, tt.overlap, err, tt.wantErr)
			}
		})
	}

	if _, err := NewSplitter(0, 0); err == nil {
		t.Error("NewSplitter(0, 0) should fail")
	}
	if _, err := NewSplitter(10, -1); err == nil {
		t.Error("negative overlap should fail")
	}
}

func TestSplitOffsets(t *testing.T) {
	// 1200 bytes with size=500 overlap=50 must produce exactly the offsets
	// 0, 450, 900 with the last piece running to the end.
	s, err := NewSplitter(500, 50)
	if err != nil {
		t.Fatal(err)
	}

	text := strings.Repeat("a", 1200)
	pieces := s.Split(text)

	wantStarts := []int{0, 450, 900}
	if len(pieces) != len(wantStarts) {
		t.Fatalf("got %d pieces, want %d", len(pieces), len(wantStarts))
	}
	for i, p := range pieces {
		if p.Start != wantStarts[i] {
			t.Errorf("piece %d start = %d, want %d", i, p.Start, wantStarts[i])
		}
		if p.Index != i {
			t.Errorf("piece %d index = %d", i, p.Index)
		}
	}
	if got := pieces[2].Start + len(pieces[2].Text); got != len(text) {
		t.Errorf("last piece ends at %d, want %d", got, len(text))
	}
}

func TestSplitEdgeCases(t *testing.T) {
	s, err := NewSplitter(100, 20)
	if err != nil {
		t.Fatal(err)
	}

	if pieces := s.Split(""); pieces != nil {
		t.Errorf("empty text should yield no pieces, got %d", len(pieces))
	}

	short := "shorter than the chunk size"
	pieces := s.Split(short)
	if len(pieces) != 1 {
		t.Fatalf("short text should yield one piece, got %d", len(pieces))
	}
	if pieces[0].Text != short {
		t.Errorf("single piece should equal whole text, got %q", pieces[0].Text)
	}
}

func TestSplitCoverageAndOverlap(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		textLen int
	}{
		{"exact multiple", 100, 10, 900},
		{"ragged tail", 64, 16, 1000},
		{"no overlap", 50, 0, 333},
		{"large overlap", 100, 99, 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSplitter(tt.size, tt.overlap)
			if err != nil {
				t.Fatal(err)
			}

			text := makeText(tt.textLen)
			pieces := s.Split(text)
			if len(pieces) == 0 {
				t.Fatal("expected at least one piece")
			}

			// End-to-end coverage: each piece starts no later than the
			// previous one ended, and the last piece reaches the end.
			prevEnd := 0
			for _, p := range pieces {
				if p.Start > prevEnd {
					t.Fatalf("gap before offset %d (previous piece ended at %d)", p.Start, prevEnd)
				}
				if text[p.Start:p.Start+len(p.Text)] != p.Text {
					t.Fatalf("piece %d text does not match its offset", p.Index)
				}
				prevEnd = p.Start + len(p.Text)
			}
			if prevEnd != len(text) {
				t.Errorf("coverage ends at %d, want %d", prevEnd, len(text))
			}

			// Overlap: last O bytes of piece n are the first O bytes of n+1.
			for i := 0; i+1 < len(pieces); i++ {
				cur, next := pieces[i], pieces[i+1]
				if len(cur.Text) < tt.overlap {
					continue
				}
				tail := cur.Text[len(cur.Text)-tt.overlap:]
				head := text[next.Start : next.Start+tt.overlap]
				if tail != head {
					t.Errorf("pieces %d/%d overlap mismatch", i, i+1)
				}
			}
		})
	}
}

func TestSplitSentenceAware(t *testing.T) {
	s, err := NewSplitter(50, 20, WithSentenceAware())
	if err != nil {
		t.Fatal(err)
	}

	// A sentence terminator falls inside the overlap window of the first
	// piece; the cut should land just after it.
	text := "First sentence ends right about here something. And then the text keeps going for quite a while longer."
	pieces := s.Split(text)
	if len(pieces) < 2 {
		t.Fatalf("expected multiple pieces, got %d", len(pieces))
	}
	if !strings.HasSuffix(pieces[0].Text, ".") {
		t.Errorf("first piece should end at sentence boundary, got %q", pieces[0].Text)
	}

	// Coverage must still hold: no byte of the input may be skipped.
	prevEnd := 0
	for _, p := range pieces {
		if p.Start > prevEnd {
			t.Fatalf("sentence-aware split left a gap before offset %d", p.Start)
		}
		prevEnd = max(prevEnd, p.Start+len(p.Text))
	}
	if prevEnd != len(text) {
		t.Errorf("coverage ends at %d, want %d", prevEnd, len(text))
	}
}

func TestSplitSentenceAwareFallback(t *testing.T) {
	s, err := NewSplitter(40, 10, WithSentenceAware())
	if err != nil {
		t.Fatal(err)
	}

	// No terminator anywhere: behaves exactly like the hard-cut variant.
	text := strings.Repeat("x", 100)
	pieces := s.Split(text)

	hard, err := NewSplitter(40, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := hard.Split(text)

	if len(pieces) != len(want) {
		t.Fatalf("got %d pieces, want %d", len(pieces), len(want))
	}
	for i := range pieces {
		if pieces[i] != want[i] {
			t.Errorf("piece %d = %+v, want %+v", i, pieces[i], want[i])
		}
	}
}

// makeText builds deterministic non-repeating content so overlap checks catch
// off-by-one errors that uniform text would hide.
func makeText(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; b.Len() < n; i++ {
		b.WriteByte(byte('a' + i%23))
	}
	return b.String()[:n]
}
