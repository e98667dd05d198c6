package cmd

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestConsole_LinesThenStickyEOF(t *testing.T) {
	c := newConsole(strings.NewReader("one\ntwo"))
	ctx := context.Background()

	for _, want := range []string{"one\n", "two"} {
		line, err := c.ReadLine(ctx)
		if err != nil || line != want {
			t.Fatalf("ReadLine = %q, %v; want %q", line, err, want)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := c.ReadLine(ctx); !errors.Is(err, io.EOF) {
			t.Errorf("Expected io.EOF, got: %v", err)
		}
	}
}

func TestConsole_CancelKeepsPendingLine(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	c := newConsole(pr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.ReadLine(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got: %v", err)
	}

	go pw.Write([]byte("after\n"))

	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	line, err := c.ReadLine(ctx)
	if err != nil || line != "after\n" {
		t.Errorf("Expected the line typed after the cancel, got %q, %v", line, err)
	}
}

func TestConsole_ReaderServesOneLineAtATime(t *testing.T) {
	c := newConsole(strings.NewReader("yes\nnext\n"))

	// a prompt that wraps the console in its own buffer must not eat the
	// following line
	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil || line != "yes\n" {
		t.Fatalf("ReadString = %q, %v", line, err)
	}
	line, err = c.ReadLine(context.Background())
	if err != nil || line != "next\n" {
		t.Errorf("Expected next line to survive, got %q, %v", line, err)
	}
}
