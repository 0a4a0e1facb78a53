package sessionlog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
)

// ErrLogNotFound is returned by ReadAll when the session log does not exist.
var ErrLogNotFound = errors.New("sessionlog: log file not found") //nolint:gochecknoglobals // sentinel error

// Result is the outcome of one incremental read.
type Result struct {
	Records   []*Record
	NewOffset int64
}

// ReadNew reads the complete lines appended to path since the given byte
// offset. A trailing line without a newline is left for the next call, so
// the returned offset always sits on a line boundary. A missing file is not
// an error: the agent may not have created the log yet.
func ReadNew(path string, since int64) (Result, error) {
	empty := Result{NewOffset: since}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return empty, nil
		}
		return empty, fmt.Errorf("sessionlog.ReadNew: stat: %w", err)
	}

	size := info.Size()
	if size < since {
		log.Warn().Str("path", path).Int64("size", size).Int64("offset", since).Msg("session log shrank below offset")
		return empty, nil
	}
	if size == since {
		return empty, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return empty, nil
		}
		return empty, fmt.Errorf("sessionlog.ReadNew: open: %w", err)
	}
	defer f.Close()

	if _, err = f.Seek(since, io.SeekStart); err != nil {
		return empty, fmt.Errorf("sessionlog.ReadNew: seek: %w", err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return empty, fmt.Errorf("sessionlog.ReadNew: read: %w", err)
	}

	records, consumed := parseLines(path, data)

	return Result{
		Records:   records,
		NewOffset: since + int64(consumed),
	}, nil
}

// ReadAll parses every complete line of the log. Unlike ReadNew it treats a
// missing file as an error, for callers that cannot proceed without the log.
func ReadAll(path string) ([]*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("sessionlog.ReadAll: %s: %w", path, ErrLogNotFound)
		}
		return nil, fmt.Errorf("sessionlog.ReadAll: %w", err)
	}

	records, _ := parseLines(path, data)
	return records, nil
}

// parseLines splits data into newline-terminated lines and parses each one.
// It returns the number of bytes that belong to complete lines.
func parseLines(path string, data []byte) ([]*Record, int) {
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return nil, 0
	}
	complete := data[:end+1]

	var records []*Record
	for len(complete) > 0 {
		idx := bytes.IndexByte(complete, '\n')
		line := bytes.TrimSuffix(complete[:idx], []byte{'\r'})
		complete = complete[idx+1:]

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		rec, err := ParseRecord(line)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("skipping malformed session log line")
			continue
		}
		records = append(records, rec)
	}

	return records, end + 1
}

// SessionLogPath returns where the Claude CLI keeps the log for a session
// started in workingDir: <projectsDir>/<encoded workingDir>/<sessionID>.jsonl.
func SessionLogPath(projectsDir, workingDir, sessionID string) string {
	return filepath.Join(projectsDir, EncodeProjectDir(workingDir), sessionID+".jsonl")
}

// EncodeProjectDir maps an absolute directory to the CLI's project folder
// name: every rune that is not a letter or digit becomes '-'.
func EncodeProjectDir(dir string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return '-'
	}, dir)
}
