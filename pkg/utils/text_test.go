package utils

import "testing"

func TestNormalizeWhitespace(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"   \n\t  ", ""},
		{"a b", "a b"},
		{"  a \n\n b\tc  ", "a b c"},
		{"one\r\ntwo", "one two"},
	}
	for _, c := range cases {
		if got := NormalizeWhitespace(c.in); got != c.want {
			t.Errorf("NormalizeWhitespace(%q)=%q, want %q", c.in, got, c.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 3); got != "hel..." {
		t.Errorf("Truncate=%q", got)
	}
	if got := Truncate("hi", 10); got != "hi" {
		t.Errorf("Truncate=%q", got)
	}
	if got := Truncate("hi", 0); got != "hi" {
		t.Errorf("Truncate=%q", got)
	}
}
