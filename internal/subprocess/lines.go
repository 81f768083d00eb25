package subprocess

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
)

const (
	// maxScanTokenSize is the maximum size of one frame.
	maxScanTokenSize = 1024 * 1024 // 1MB
	// initialScanBufferSize is the scanner buffer allocated up front.
	initialScanBufferSize = 64 * 1024
)

// readFrames scans newline-delimited frames from r and delivers a copy of
// each non-empty line on messages. It returns nil at EOF.
func readFrames(ctx context.Context, r io.Reader, messages chan<- []byte) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialScanBufferSize), maxScanTokenSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		// The scanner reuses its buffer
		frame := bytes.Clone(line)

		select {
		case messages <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

// frameLine returns data terminated by a newline. The caller's backing
// array is never modified.
func frameLine(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\n' {
		return data
	}

	line := make([]byte, len(data)+1)
	copy(line, data)
	line[len(data)] = '\n'

	return line
}
