// Package prompt loads named prompt templates from a directory of
// markdown files, one template per file, keyed by file name without the
// extension.
package prompt

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// TypeSystem names the template prepended as the system message of
// every chat turn.
const TypeSystem = "system_prompt"

// Provider serves prompt templates loaded from disk. Templates are read
// once at construction; Reload picks up edits without a restart. Safe
// for concurrent use.
type Provider struct {
	fs     afero.Fs
	dir    string
	logger *slog.Logger

	mu        sync.RWMutex
	templates map[string]string
}

func NewProvider(fs afero.Fs, dir string, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		fs:     fs,
		dir:    dir,
		logger: logger,
	}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads every *.md file under the template directory. A
// missing directory yields an empty provider, not an error.
func (p *Provider) Reload() error {
	templates := make(map[string]string)

	entries, err := afero.ReadDir(p.fs, p.dir)
	if err != nil {
		p.logger.Warn("prompt directory unreadable", "dir", p.dir, "err", err)
		p.mu.Lock()
		p.templates = templates
		p.mu.Unlock()
		return nil
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		raw, err := afero.ReadFile(p.fs, filepath.Join(p.dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read prompt template %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), ".md")
		templates[name] = strings.TrimSpace(string(raw))
	}

	p.mu.Lock()
	p.templates = templates
	p.mu.Unlock()

	p.logger.Debug("prompt templates loaded", "dir", p.dir, "count", len(templates))
	return nil
}

// Get returns the named template text.
func (p *Provider) Get(name string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	text, ok := p.templates[name]
	return text, ok
}

// Format renders the named template with {placeholder} substitutions.
func (p *Provider) Format(name string, values map[string]string) (string, error) {
	text, ok := p.Get(name)
	if !ok {
		return "", fmt.Errorf("unknown prompt template: %s", name)
	}
	for key, value := range values {
		text = strings.ReplaceAll(text, "{"+key+"}", value)
	}
	return text, nil
}

// System returns the system prompt, or empty when none is configured.
func (p *Provider) System() string {
	text, _ := p.Get(TypeSystem)
	return text
}
