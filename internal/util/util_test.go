package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("tkt")
	if !strings.HasPrefix(id, "tkt_") {
		t.Fatalf("expected prefix, got %q", id)
	}
	if len(id) != len("tkt_")+32 {
		t.Fatalf("unexpected id length %d (%q)", len(id), id)
	}
	if NewID("") == NewID("") {
		t.Fatal("expected unique ids")
	}
	if strings.Contains(NewID(""), "-") {
		t.Fatal("ids should not contain dashes")
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Hello World", "hello-world"},
		{"  Café Crème — Menu!  ", "cafe-creme-menu"},
		{"Already-slugged", "already-slugged"},
		{"***", ""},
	}
	for _, tc := range cases {
		if got := Slugify(tc.in); got != tc.want {
			t.Errorf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
