package main

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestPromptRefUsesConfigured(t *testing.T) {
	var out bytes.Buffer
	ref, err := promptRef(bufio.NewReader(strings.NewReader("ignored\n")), &out, "Исходный чат", " @source ")
	if err != nil || ref != "@source" {
		t.Fatalf("got %q, %v", ref, err)
	}
	if !strings.Contains(out.String(), "@source") {
		t.Fatalf("configured value not echoed: %q", out.String())
	}
}

func TestPromptRefReadsInput(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("t.me/+hash\n@dest\n"))
	var out bytes.Buffer
	first, err := promptRef(in, &out, "Исходный чат", "")
	if err != nil || first != "t.me/+hash" {
		t.Fatalf("first: got %q, %v", first, err)
	}
	second, err := promptRef(in, &out, "Чат назначения", "")
	if err != nil || second != "@dest" {
		t.Fatalf("second: got %q, %v", second, err)
	}
}

func TestPromptRefWithoutNewline(t *testing.T) {
	ref, err := promptRef(bufio.NewReader(strings.NewReader("@last")), &bytes.Buffer{}, "x", "")
	if err != nil || ref != "@last" {
		t.Fatalf("got %q, %v", ref, err)
	}
}

func TestPromptRefEmpty(t *testing.T) {
	_, err := promptRef(bufio.NewReader(strings.NewReader("\n")), &bytes.Buffer{}, "x", "")
	if !errors.Is(err, errEmptyRef) {
		t.Fatalf("expected errEmptyRef, got %v", err)
	}
}
