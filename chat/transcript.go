package chat

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const appendFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY

// Transcript appends a plain-text record of each conversation to one
// file per conversation, for offline inspection. A nil Transcript is
// valid and records nothing. Failures are logged and dropped; the
// transcript is never allowed to disturb a live stream.
type Transcript struct {
	fs     afero.Fs
	dir    string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

func NewTranscript(fs afero.Fs, dir string, logger *slog.Logger) (*Transcript, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &Transcript{
		fs:     fs,
		dir:    dir,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Record appends one line to the conversation's transcript file.
func (t *Transcript) Record(conversationID, role, content string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	path := filepath.Join(t.dir, conversationID+".txt")
	file, err := t.fs.OpenFile(path, appendFlags, 0o644)
	if err != nil {
		t.logger.Warn("transcript open failed", "path", path, "err", err)
		return
	}
	defer file.Close()

	line := fmt.Sprintf("[%s] %s: %s\n", t.now().UTC().Format(time.RFC3339), role, content)
	if _, err := file.WriteString(line); err != nil {
		t.logger.Warn("transcript write failed", "path", path, "err", err)
	}
}
