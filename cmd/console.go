package cmd

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// console hands out input lines to whoever is waiting. A single goroutine
// owns the underlying reader, so a reader that gives up on a cancelled
// context never swallows the next line.
type console struct {
	src   io.Reader
	start sync.Once
	lines chan string
	err   error // final read error, valid once lines is closed

	mu   sync.Mutex
	rest []byte // unread part of a line handed out through Read
}

func newConsole(src io.Reader) *console {
	return &console{src: src, lines: make(chan string)}
}

func (c *console) pump() {
	br := bufio.NewReader(c.src)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			c.lines <- line
		}
		if err != nil {
			c.err = err
			close(c.lines)
			return
		}
	}
}

// ReadLine waits for the next line, newline included. Once input is
// exhausted every call returns io.EOF.
func (c *console) ReadLine(ctx context.Context) (string, error) {
	c.start.Do(func() { go c.pump() })
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return "", c.err
		}
		return line, nil
	}
}

// Read lets line-oriented prompts share the console. It never returns more
// than one line per call.
func (c *console) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.rest) == 0 {
		line, err := c.ReadLine(context.Background())
		if err != nil {
			return 0, err
		}
		c.rest = []byte(line)
	}
	n := copy(p, c.rest)
	c.rest = c.rest[n:]
	return n, nil
}
