package search

import (
	"strings"
	"testing"
)

func TestSnippet(t *testing.T) {
	if Snippet("short", "x", 10) != "short" {
		t.Error("short string should be unchanged")
	}
	if Snippet("x", "x", 0) != "x" {
		t.Error("maxLen 0 should return as-is")
	}
	if got := Snippet("long text here", "", 4); got != "long..." {
		t.Errorf("got %q", got)
	}

	content := strings.Repeat("a", 50) + " needle " + strings.Repeat("b", 50)
	got := Snippet(content, "Needle?", 20)
	if !strings.Contains(got, "needle") {
		t.Errorf("snippet %q does not contain the query term", got)
	}
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "...") {
		t.Errorf("snippet %q should be marked on both sides", got)
	}

	tail := strings.Repeat("a", 50) + "end"
	if got := Snippet(tail, "end", 10); got != "...aaaaaaaend" {
		t.Errorf("got %q", got)
	}
}
