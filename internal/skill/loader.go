package skill

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// BaseName is the shared prompt file merged under every skill.
const BaseName = "_base"

const separator = "\n\n---\n\n"

// Loader resolves skill prompt files from a directory. A skill named "x"
// resolves to skills/x.md, prefixed by skills/_base.md when that exists.
// Successful loads are cached by name until Reload evicts them.
type Loader struct {
	dir string

	mu    sync.RWMutex
	cache map[string]string
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{
		dir:   dir,
		cache: make(map[string]string),
	}
}

// Load returns the combined prompt text for a skill. Missing files are not
// errors: when only one of base/overlay exists its content is returned alone,
// and when neither exists ok is false.
func (l *Loader) Load(name string) (string, bool) {
	l.mu.RLock()
	if text, ok := l.cache[name]; ok {
		l.mu.RUnlock()
		return text, true
	}
	l.mu.RUnlock()

	base := l.readFile(BaseName)
	overlay := ""
	if name != BaseName {
		overlay = l.readFile(name)
	}

	var combined string
	switch {
	case base != "" && overlay != "":
		combined = base + separator + overlay
	case overlay != "":
		combined = overlay
	case base != "":
		combined = base
	default:
		log.Warn().Str("skill", name).Msg("no skill content found")
		return "", false
	}

	l.mu.Lock()
	l.cache[name] = combined
	l.mu.Unlock()

	log.Debug().Str("skill", name).Int("chars", len(combined)).Msg("skill loaded")
	return combined, true
}

// Reload evicts one cached skill so the next Load re-reads from disk.
func (l *Loader) Reload(name string) {
	l.mu.Lock()
	delete(l.cache, name)
	l.mu.Unlock()
	log.Info().Str("skill", name).Msg("skill cache cleared")
}

// ReloadAll evicts every cached skill.
func (l *Loader) ReloadAll() {
	l.mu.Lock()
	l.cache = make(map[string]string)
	l.mu.Unlock()
	log.Info().Msg("skill cache cleared")
}

// List enumerates available skill names, excluding underscore-prefixed files
// such as the shared base.
func (l *Loader) List() []string {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "_") || !strings.HasSuffix(name, ".md") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".md"))
	}
	sort.Strings(names)
	return names
}

func (l *Loader) readFile(name string) string {
	data, err := os.ReadFile(filepath.Join(l.dir, name+".md"))
	if err != nil {
		return ""
	}
	return string(data)
}
