package rag

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestExtractKeyTerms(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{
			name: "stop words filtered",
			text: "what is the best way to handle errors in go",
			max:  5,
			want: []string{"best", "way", "handle", "errors", "go"},
		},
		{
			name: "dedupe keeps first occurrence",
			text: "cache cache CACHE eviction cache",
			max:  5,
			want: []string{"cache", "eviction"},
		},
		{
			name: "max caps output",
			text: "alpha bravo charlie delta echo foxtrot",
			max:  3,
			want: []string{"alpha", "bravo", "charlie"},
		},
		{
			name: "punctuation stripped",
			text: "kubernetes, scheduling! (preemption)",
			max:  5,
			want: []string{"kubernetes", "scheduling", "preemption"},
		},
		{
			name: "single chars dropped",
			text: "a b c database",
			max:  5,
			want: []string{"database"},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ExtractKeyTerms(tc.text, tc.max)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ExtractKeyTerms(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}

	if got := ExtractKeyTerms("anything", 0); got != nil {
		t.Fatalf("max<=0 should return nil, got %v", got)
	}
}

func TestTermFraction(t *testing.T) {
	t.Parallel()

	terms := []string{"alpha", "bravo", "charlie"}
	if got := termFraction(terms, "alpha and bravo walk in"); got < 0.66 || got > 0.67 {
		t.Fatalf("expected 2/3, got %v", got)
	}
	if got := termFraction(nil, "whatever"); got != 0 {
		t.Fatalf("empty terms should be 0, got %v", got)
	}
}

func TestRelevanceTier(t *testing.T) {
	t.Parallel()

	if tier := relevanceTier(0.95); tier != TierHigh {
		t.Fatalf("0.95 => %s", tier)
	}
	if tier := relevanceTier(0.9); tier != TierMedium {
		t.Fatalf("boundary 0.9 should be MEDIUM, got %s", tier)
	}
	if tier := relevanceTier(0.75); tier != TierMedium {
		t.Fatalf("0.75 => %s", tier)
	}
	if tier := relevanceTier(0.7); tier != TierLow {
		t.Fatalf("boundary 0.7 should be LOW, got %s", tier)
	}
}

func TestHasCitation(t *testing.T) {
	t.Parallel()

	for _, answer := range []string{
		"[Source: handbook] goroutines are cheap",
		"Document 2 explains this",
		"Based on the retrieved text",
	} {
		if !hasCitation(answer) {
			t.Fatalf("expected citation detected in %q", answer)
		}
	}
	if hasCitation("plain answer with no references") {
		t.Fatal("false positive citation")
	}
}

func TestTruncateText(t *testing.T) {
	t.Parallel()

	if got := truncateText("short", 10); got != "short" {
		t.Fatalf("no-op truncation changed text: %q", got)
	}
	if got := truncateText("abcdefghij", 4); got != "abcd..." {
		t.Fatalf("expected abcd..., got %q", got)
	}
	if got := truncateText("anything", 0); got != "anything" {
		t.Fatalf("max<=0 should be no-op, got %q", got)
	}

	// 截断点落在多字节 rune 中间时退回边界，结果仍是合法 UTF-8
	got := truncateText("并发模型", 4)
	if got != "并..." {
		t.Fatalf("expected rune-boundary cut 并..., got %q", got)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got)
	}
	long := strings.Repeat("调度器", 600)
	if !utf8.ValidString(truncateText(long, 1500)) {
		t.Fatalf("truncation produced invalid UTF-8 at budget boundary")
	}
}
