package repl

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/atinylittleshell/codex-bridge/internal/bridge"
	"github.com/samber/lo"
)

// scope is one conversation context. Folder scopes are keyed by their
// absolute path and keep their session across runs; the fallback scope
// uses the host's working directory and does not.
type scope struct {
	key    string
	folder string
}

func (s *scope) persistent() bool {
	return s.key != bridge.FallbackKey
}

func (s *scope) label() string {
	if s.key == bridge.FallbackKey {
		return "global"
	}
	return filepath.Base(s.folder)
}

func (r *REPL) scopeLabel(key string) string {
	if s, ok := r.scopes[key]; ok {
		return s.label()
	}
	return filepath.Base(key)
}

// ResolveScope describes an open scope to the bridge launcher.
func (r *REPL) ResolveScope(key string) (bridge.ScopeInfo, error) {
	s, ok := r.scopes[key]
	if !ok {
		return bridge.ScopeInfo{}, fmt.Errorf("unknown scope %s", key)
	}
	info := bridge.ScopeInfo{Persistent: s.persistent()}
	if s.persistent() {
		info.Folders = []string{s.folder}
	}
	return info, nil
}

// LiveScopes lists the open scopes whose folder still exists. Scopes whose
// folder has disappeared are dropped, as if their window had closed.
func (r *REPL) LiveScopes() []string {
	var live []string
	for _, key := range r.sortedScopeKeys() {
		s := r.scopes[key]
		if s.persistent() {
			if info, err := os.Stat(s.folder); err != nil || !info.IsDir() {
				r.dropScope(key)
				r.renderer.RenderSystemMessage(fmt.Sprintf("%s is gone, closing its scope", s.folder))
				continue
			}
		}
		live = append(live, key)
	}
	return live
}

func (r *REPL) openScope(path string) (*scope, error) {
	folder, err := absFolder(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(folder)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", folder)
	}
	s, ok := r.scopes[folder]
	if !ok {
		s = &scope{key: folder, folder: folder}
		r.scopes[folder] = s
	}
	r.current = s.key
	return s, nil
}

// findScope matches name against scope keys, folder base names and
// "global".
func (r *REPL) findScope(name string) (*scope, bool) {
	if name == "global" || name == bridge.FallbackKey {
		return r.scopes[bridge.FallbackKey], true
	}
	if folder, err := absFolder(name); err == nil {
		if s, ok := r.scopes[folder]; ok {
			return s, true
		}
	}
	matches := lo.Filter(lo.Values(r.scopes), func(s *scope, _ int) bool {
		return s.persistent() && filepath.Base(s.folder) == name
	})
	if len(matches) == 1 {
		return matches[0], true
	}
	return nil, false
}

// dropScope forgets a scope without touching its bridge.
func (r *REPL) dropScope(key string) {
	if key == bridge.FallbackKey {
		return
	}
	delete(r.scopes, key)
	r.dropApprovals(key)
	if r.current == key {
		r.current = bridge.FallbackKey
	}
}

func (r *REPL) sortedScopeKeys() []string {
	keys := lo.Keys(r.scopes)
	slices.Sort(keys)
	return keys
}

func absFolder(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}
