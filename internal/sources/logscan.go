package sources

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/onchainlabs1/sentinel/internal/models"
)

// LogScanSource tails a log file and emits a signal for every new line that
// contains one of the configured keywords. The read offset persists across
// checks so each line is reported at most once; truncation resets it.
type LogScanSource struct {
	path     string
	keywords []string

	mu     sync.Mutex
	offset int64
}

// NewLogScanSource constructs the log keyword checker.
func NewLogScanSource(path string, keywords []string) *LogScanSource {
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(strings.ToLower(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}
	return &LogScanSource{path: path, keywords: lowered}
}

// Name implements Source.
func (s *LogScanSource) Name() string { return "log-scanner" }

// Check implements Source.
func (s *LogScanSource) Check(ctx context.Context) ([]models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < s.offset {
		// File rotated or truncated underneath us.
		s.offset = 0
	}
	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek log file: %w", err)
	}

	var signals []models.Signal
	now := time.Now().UTC()
	reader := bufio.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return signals, err
		}
		line, err := reader.ReadString('\n')
		if line != "" && strings.HasSuffix(line, "\n") {
			s.offset += int64(len(line))
			if sig := s.match(line, now); sig != nil {
				signals = append(signals, *sig)
			}
		}
		if err != nil {
			// A partial final line stays unconsumed until the writer
			// finishes it.
			if errors.Is(err, io.EOF) {
				return signals, nil
			}
			return signals, fmt.Errorf("read log file: %w", err)
		}
	}
}

func (s *LogScanSource) match(line string, now time.Time) *models.Signal {
	lowered := strings.ToLower(line)
	for _, kw := range s.keywords {
		if strings.Contains(lowered, kw) {
			return &models.Signal{
				Description: strings.TrimSpace(line),
				Source:      s.Name(),
				OccurredAt:  now,
			}
		}
	}
	return nil
}
