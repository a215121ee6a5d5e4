package memory

import (
	"errors"
	"testing"
)

func TestParsePattern(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    Pattern
		wantErr bool
	}{
		{
			name: "plain bytes",
			text: "48 8D 15",
			want: Pattern{Bytes: []byte{0x48, 0x8D, 0x15}, Mask: []byte{0xFF, 0xFF, 0xFF}},
		},
		{
			name: "wildcards",
			text: "48 8D 15 ? ? ? ?",
			want: Pattern{
				Bytes: []byte{0x48, 0x8D, 0x15, 0, 0, 0, 0},
				Mask:  []byte{0xFF, 0xFF, 0xFF, 0, 0, 0, 0},
			},
		},
		{
			name: "double question wildcard",
			text: "E8 ?? ?? 90",
			want: Pattern{
				Bytes: []byte{0xE8, 0, 0, 0x90},
				Mask:  []byte{0xFF, 0, 0, 0xFF},
			},
		},
		{
			name: "lower case hex",
			text: "eb 16",
			want: Pattern{Bytes: []byte{0xEB, 0x16}, Mask: []byte{0xFF, 0xFF}},
		},
		{name: "empty", text: "   ", wantErr: true},
		{name: "bad token", text: "48 GG", wantErr: true},
		{name: "token too wide", text: "48 123", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePattern(tt.text)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.text)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got.Bytes) != len(tt.want.Bytes) {
				t.Fatalf("length mismatch: got %d want %d", len(got.Bytes), len(tt.want.Bytes))
			}
			for i := range got.Bytes {
				if got.Bytes[i] != tt.want.Bytes[i] || got.Mask[i] != tt.want.Mask[i] {
					t.Errorf("position %d: got (%#x,%#x) want (%#x,%#x)",
						i, got.Bytes[i], got.Mask[i], tt.want.Bytes[i], tt.want.Mask[i])
				}
			}
		})
	}
}

func TestPatternStringRoundTrip(t *testing.T) {
	text := "74 09 48 8D 15 ? ? ? ? EB 16"
	p := MustPattern(text)
	if p.String() != text {
		t.Errorf("round trip mismatch: got %q want %q", p.String(), text)
	}
}

func TestMatchPattern(t *testing.T) {
	data := []byte{0x00, 0x48, 0x8D, 0x15, 0x10, 0x00, 0x48, 0x8D, 0x25, 0x99}

	t.Run("exact", func(t *testing.T) {
		matches := MatchPattern(data, MustPattern("48 8D 15"))
		if len(matches) != 1 || matches[0] != 1 {
			t.Errorf("expected single match at 1, got %v", matches)
		}
	})

	t.Run("wildcard third byte", func(t *testing.T) {
		matches := MatchPattern(data, MustPattern("48 8D ?"))
		if len(matches) != 2 || matches[0] != 1 || matches[1] != 6 {
			t.Errorf("expected matches at 1 and 6, got %v", matches)
		}
	})

	t.Run("no match", func(t *testing.T) {
		if matches := MatchPattern(data, MustPattern("AA BB")); matches != nil {
			t.Errorf("expected no matches, got %v", matches)
		}
	})

	t.Run("pattern longer than data", func(t *testing.T) {
		long := MustPattern("00 11 22 33 44 55 66 77 88 99 AA BB")
		if matches := MatchPattern(data, long); matches != nil {
			t.Errorf("expected no matches, got %v", matches)
		}
	})

	t.Run("no earlier offset satisfies the mask", func(t *testing.T) {
		matches := MatchPattern(data, MustPattern("? 8D 15"))
		if len(matches) == 0 {
			t.Fatal("expected a match")
		}
		first := matches[0]
		p := MustPattern("? 8D 15")
		for off := int64(0); off < first; off++ {
			ok := true
			for j := range p.Bytes {
				if p.Mask[j] != 0 && data[off+int64(j)] != p.Bytes[j] {
					ok = false
					break
				}
			}
			if ok {
				t.Errorf("offset %d also matches but was not returned first", off)
			}
		}
	})
}

func TestFindPattern(t *testing.T) {
	base := Address(0x400000)
	data := make([]byte, 0x200)
	copy(data[0x80:], []byte{0x74, 0x09, 0x48, 0x8D})

	ch := NewBufferChannel(1)
	ch.AddRegion(base, data, ProtRead|ProtExecute, "test")

	t.Run("match with trailing offset", func(t *testing.T) {
		p := MustPattern("74 09 48 8D")
		p.Offset = 2
		addr, err := FindPattern(ch, p, base, Size(len(data)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := base + 0x80 + 2; addr != want {
			t.Errorf("got %s want %s", addr, want)
		}
	})

	t.Run("miss", func(t *testing.T) {
		_, err := FindPattern(ch, MustPattern("DE AD BE EF"), base, Size(len(data)))
		if !errors.Is(err, ErrPatternNotFound) {
			t.Errorf("expected ErrPatternNotFound, got %v", err)
		}
	})

	t.Run("invalid pattern", func(t *testing.T) {
		if _, err := FindPattern(ch, Pattern{}, base, Size(len(data))); err == nil {
			t.Error("expected error for empty pattern")
		}
	})
}
