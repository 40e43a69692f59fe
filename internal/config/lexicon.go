package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var wordPattern = regexp.MustCompile(`[a-z']+`)

// Lexicon holds the directional token lists used to infer whether a
// text asserts an upward or downward movement. Token lookups are safe
// for concurrent use; Reload swaps the sets atomically.
type Lexicon struct {
	mu   sync.RWMutex
	up   map[string]bool
	down map[string]bool
	file string
}

// NewLexicon builds a lexicon from configuration.
func NewLexicon(cfg LexiconConfig) *Lexicon {
	l := &Lexicon{file: cfg.File}
	l.replace(cfg.UpTokens, cfg.DownTokens)
	return l
}

func (l *Lexicon) replace(up, down []string) {
	upSet := make(map[string]bool, len(up))
	for _, t := range up {
		upSet[strings.ToLower(strings.TrimSpace(t))] = true
	}
	downSet := make(map[string]bool, len(down))
	for _, t := range down {
		downSet[strings.ToLower(strings.TrimSpace(t))] = true
	}
	l.mu.Lock()
	l.up = upSet
	l.down = downSet
	l.mu.Unlock()
}

// Direction tokenizes the text and reports "up", "down", or "" when
// neither side dominates. Ties are inconclusive.
func (l *Lexicon) Direction(text string) string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)

	l.mu.RLock()
	defer l.mu.RUnlock()
	var ups, downs int
	for _, w := range words {
		if l.up[w] {
			ups++
		}
		if l.down[w] {
			downs++
		}
	}
	switch {
	case ups > downs:
		return "up"
	case downs > ups:
		return "down"
	default:
		return ""
	}
}

// Reload re-reads the lexicon file and swaps in its token lists.
func (l *Lexicon) Reload() error {
	if l.file == "" {
		return nil
	}
	data, err := os.ReadFile(l.file)
	if err != nil {
		return fmt.Errorf("failed to read lexicon file: %w", err)
	}
	var cfg LexiconConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse lexicon file: %w", err)
	}
	if len(cfg.UpTokens) == 0 && len(cfg.DownTokens) == 0 {
		return fmt.Errorf("lexicon file %s has no tokens", l.file)
	}
	l.replace(cfg.UpTokens, cfg.DownTokens)
	return nil
}

// Watch reloads the lexicon whenever its file changes, until the
// context is cancelled. No-op when no file is configured.
func (l *Lexicon) Watch(ctx context.Context, logger *zap.Logger) error {
	if l.file == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create lexicon watcher: %w", err)
	}
	// Watch the directory; editors replace files on save and the
	// per-file watch would be lost after the first rename.
	if err := watcher.Add(filepath.Dir(l.file)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch lexicon directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		var lastReload time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(l.file) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				// Debounce rapid saves.
				if time.Since(lastReload) < 500*time.Millisecond {
					continue
				}
				lastReload = time.Now()
				if err := l.Reload(); err != nil {
					logger.Warn("lexicon reload failed", zap.Error(err))
					continue
				}
				logger.Info("lexicon reloaded", zap.String("file", l.file))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("lexicon watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
