package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	followPollInterval = 200 * time.Millisecond

	// Backwards scans for "last N lines" walk the file in blocks of this
	// size from the end, so a long log never gets read in full.
	scanBlockSize = 32 * 1024

	// Unterminated lines longer than this flush in pieces instead of
	// waiting in memory for a newline.
	maxLineBytes = 1 << 20
)

// TailOptions controls a single Tail call.
type TailOptions struct {
	// Offset is the byte position to resume from. Negative means "the last
	// Limit lines of the file".
	Offset int64
	// Limit caps the line count for negative offsets. Zero returns no
	// lines, only the end-of-log offset to resume from.
	Limit int
	// Follow keeps the call open for up to Wait when no new lines exist.
	Follow bool
	Wait   time.Duration
}

// TailResult carries the lines read and the offset the next call should
// pass back in.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads complete lines from a log file. Lines missing their trailing
// newline stay unread until the writer finishes them, so a half-flushed
// record never reaches the caller. A missing file is not an error; it
// resets the offset to zero so rotation restarts the stream.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	result := TailResult{Offset: opts.Offset}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Offset = 0
			return result, nil
		}
		return result, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return result, fmt.Errorf("log path %q is a directory", path)
	}

	if opts.Offset < 0 {
		result.Lines, result.Offset, err = lastLines(path, opts.Limit)
	} else {
		result.Lines, result.Offset, err = scanFrom(path, opts.Offset)
	}
	if err != nil {
		return TailResult{Offset: opts.Offset}, err
	}

	if opts.Follow && opts.Wait > 0 && len(result.Lines) == 0 {
		return awaitLines(ctx, path, result.Offset, opts.Wait)
	}
	return result, nil
}

// lastLines returns the final limit complete lines and the offset just past
// them. It locates the starting position by counting newlines backwards from
// the end of the file, then replays that window forward.
func lastLines(path string, limit int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return nil, 0, nil
	}
	if limit < 0 {
		limit = 0
	}

	var (
		end      int64
		start    int64
		foundEnd bool
		newlines int
	)
	buf := make([]byte, scanBlockSize)
	pos := size
scan:
	for pos > 0 {
		n := int64(len(buf))
		if pos < n {
			n = pos
		}
		pos -= n
		if _, err := file.ReadAt(buf[:n], pos); err != nil {
			return nil, 0, fmt.Errorf("read log file: %w", err)
		}
		for i := n - 1; i >= 0; i-- {
			if buf[i] != '\n' {
				continue
			}
			if !foundEnd {
				// First newline from the end closes the last
				// complete line; anything after it is a partial
				// write still in progress.
				foundEnd = true
				end = pos + i + 1
				if limit == 0 {
					break scan
				}
				continue
			}
			newlines++
			if newlines == limit {
				start = pos + i + 1
				break scan
			}
		}
	}
	if !foundEnd {
		return nil, 0, nil
	}
	if limit == 0 {
		return nil, end, nil
	}

	lines, offset, err := scanFrom(path, start)
	if err != nil {
		return nil, 0, err
	}
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines, offset, nil
}

// scanFrom reads every complete line between offset and the end of the
// file. The returned offset points at the byte after the last newline
// consumed, or at the start of an unterminated tail.
func scanFrom(path string, offset int64) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		// Truncated or rotated out from under us; resume at the end.
		offset = info.Size()
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	var (
		lines   []string
		partial []byte
		pos     = offset
	)
	for {
		chunk, err := reader.ReadSlice('\n')
		partial = append(partial, chunk...)
		switch {
		case err == nil:
			pos += int64(len(partial))
			lines = append(lines, trimEOL(string(partial)))
			partial = partial[:0]
		case errors.Is(err, bufio.ErrBufferFull):
			if len(partial) >= maxLineBytes {
				pos += int64(len(partial))
				lines = append(lines, string(partial))
				partial = partial[:0]
			}
		case errors.Is(err, io.EOF):
			return lines, pos, nil
		default:
			return nil, 0, fmt.Errorf("read log file: %w", err)
		}
	}
}

// awaitLines polls for new complete lines until one arrives, the wait
// elapses, or the context ends.
func awaitLines(ctx context.Context, path string, offset int64, wait time.Duration) (TailResult, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(followPollInterval)
	defer ticker.Stop()

	result := TailResult{Offset: offset}
	for {
		lines, next, err := scanFrom(path, result.Offset)
		if err != nil {
			return result, err
		}
		result.Offset = next
		if len(lines) > 0 {
			result.Lines = lines
			return result, nil
		}
		if !time.Now().Before(deadline) {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}

func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
