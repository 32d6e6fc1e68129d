package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestHelpFlag(t *testing.T) {
	var out bytes.Buffer
	code := run([]string{"--help"}, &out, &out)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out.String(), "NICK") {
		t.Fatalf("expected help output to list NICK, got %q", out.String())
	}
}

func TestRejectsOutOfRangeMulticastPort(t *testing.T) {
	var out bytes.Buffer
	code := run([]string{"--multicastPort", "70000"}, &out, &out)
	if code == 0 {
		t.Fatalf("expected non-zero exit for out-of-range multicast port")
	}
}

func TestRejectsOutOfRangePeerPort(t *testing.T) {
	var out bytes.Buffer
	code := run([]string{"--peerPort", "0"}, &out, &out)
	if code == 0 {
		t.Fatalf("expected non-zero exit for out-of-range peer port")
	}
}

func TestRejectsInvalidNickname(t *testing.T) {
	var out bytes.Buffer
	code := run([]string{"--nickname", "this nickname is way too long!"}, &out, &out)
	if code == 0 {
		t.Fatalf("expected non-zero exit for invalid nickname")
	}
}

func TestTrimNewline(t *testing.T) {
	cases := map[string]string{
		"JOIN a b\n":   "JOIN a b",
		"JOIN a b\r\n": "JOIN a b",
		"LIST":         "LIST",
		"":             "",
	}
	for in, want := range cases {
		if got := trimNewline(in); got != want {
			t.Fatalf("trimNewline(%q) = %q, want %q", in, got, want)
		}
	}
}
