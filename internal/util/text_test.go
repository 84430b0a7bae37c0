package util

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitText(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{"short", "hello", 10, []string{"hello"}},
		{"no limit", "hello", 0, []string{"hello"}},
		{"hard cut", "abcdefg", 3, []string{"abc", "def", "g"}},
		{"newline preferred", "ab\ncdef", 5, []string{"ab\n", "cdef"}},
		{"multibyte", "指標與陣列", 2, []string{"指標", "與陣", "列"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitText(tt.text, tt.max)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("SplitText(%q, %d) = %q, want %q", tt.text, tt.max, got, tt.want)
			}
		})
	}
}

func TestSplitTextChunksRespectLimit(t *testing.T) {
	text := strings.Repeat("一二三\n四五六七八九十", 50)
	for _, chunk := range SplitText(text, 7) {
		if n := utf8.RuneCountInString(chunk); n > 7 {
			t.Fatalf("chunk %q has %d runes", chunk, n)
		}
	}
	if strings.Join(SplitText(text, 7), "") != text {
		t.Error("chunks do not reassemble the original text")
	}
}
