package protocol

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
)

// MaxLineSize is the longest accepted request line.
const MaxLineSize = 1 << 20

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("line source closed")

// Lines reads an input stream line by line in its own goroutine, so callers can
// wait for the next line and a context at the same time.
//
// Close detaches the reading goroutine. A goroutine blocked inside Read of the
// underlying reader stays there until the reader returns, so callers owning the
// reader (tests, pipes) should close it too.
type Lines struct {
	lines chan string
	done  chan struct{}
	once  sync.Once
	err   error // valid once lines is closed
}

func NewLines(r io.Reader) *Lines {
	l := &Lines{
		lines: make(chan string),
		done:  make(chan struct{}),
	}
	go l.scan(r)
	return l
}

func (l *Lines) scan(r io.Reader) {
	defer close(l.lines)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	for scanner.Scan() {
		select {
		case l.lines <- scanner.Text():
		case <-l.done:
			return
		}
	}
	l.err = scanner.Err()
}

// Next returns the next line without the line ending. It returns io.EOF once the
// input is exhausted, the read error if reading failed, or ctx.Err().
func (l *Lines) Next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-l.done:
		return "", ErrClosed
	case line, ok := <-l.lines:
		if !ok {
			if l.err != nil {
				return "", l.err
			}
			return "", io.EOF
		}
		return line, nil
	}
}

func (l *Lines) Close() {
	l.once.Do(func() {
		close(l.done)
	})
}
