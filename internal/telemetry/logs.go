// Package telemetry reads the supervised server's log artifact and the
// host's memory figures.
package telemetry

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
)

// MissingLogLine is returned by TailLog while the log file does not exist yet.
const MissingLogLine = "log file not created yet"

const tailChunk = 64 << 10

// TailLog returns at most the last n lines of path without line terminators.
// It never fails: I/O problems are reported as a single explanatory line.
func TailLog(path string, n int) []string {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{MissingLogLine}
		}
		return []string{"error reading log: " + err.Error()}
	}
	defer func() { _ = f.Close() }()

	lines, err := lastLines(f, n)
	if err != nil {
		return []string{"error reading log: " + err.Error()}
	}
	return lines
}

// lastLines reads r backwards in chunks until it holds more than n lines.
func lastLines(r io.ReadSeeker, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	var buf []byte
	pos := end
	for pos > 0 {
		size := int64(tailChunk)
		if pos < size {
			size = pos
		}
		pos -= size
		chunk := make([]byte, size)
		if _, err := r.Seek(pos, io.SeekStart); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, err
		}
		buf = append(chunk, buf...)
		// one extra separator guarantees the first kept line is complete
		if bytes.Count(buf, []byte{'\n'}) > n {
			break
		}
	}

	text := strings.ToValidUTF8(string(buf), "")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return []string{}, nil
	}
	all := strings.Split(text, "\n")
	if len(all) > n {
		all = all[len(all)-n:]
	}
	for i, l := range all {
		all[i] = strings.TrimSuffix(l, "\r")
	}
	return all, nil
}
