package registry

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"charassets/domain"
	"charassets/store"
)

const registryFile = "characters.json"

// ParsedCharacter is one entry of the story parser output
// ({characterId -> {names, sourceFiles}}).
type ParsedCharacter struct {
	Names       []string `json:"names"`
	SourceFiles []string `json:"sourceFiles"`
}

// Character is the registry record. Names and SourceFiles are keyed by language.
type Character struct {
	ID          string              `json:"id"`
	Names       map[string][]string `json:"names,omitempty"`
	SourceFiles map[string][]string `json:"sourceFiles,omitempty"`
	Variants    []string            `json:"variants,omitempty"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// Registry is the global character registry plus the per-language indices
// derived from it. Loaded once, flushed explicitly.
type Registry struct {
	dir   string
	mu    sync.Mutex
	chars map[string]*Character
	dirty bool
}

func Open(dir string) (*Registry, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("registry dir empty")
	}
	r := &Registry{dir: dir, chars: make(map[string]*Character)}
	if _, err := store.ReadJSON(filepath.Join(dir, registryFile), &r.chars); err != nil {
		return nil, err
	}
	if r.chars == nil {
		r.chars = make(map[string]*Character)
	}
	for id, c := range r.chars {
		if c == nil {
			delete(r.chars, id)
			continue
		}
		c.ID = id
	}
	return r, nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chars)
}

// Merge folds one language's parser output into the registry and returns how
// many characters were new.
func (r *Registry) Merge(lang string, parsed map[string]ParsedCharacter, now time.Time) int {
	lang = normalizeLang(lang)
	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for id, p := range parsed {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		c, ok := r.chars[id]
		if !ok {
			c = &Character{ID: id}
			r.chars[id] = c
			added++
		}
		if c.Names == nil {
			c.Names = make(map[string][]string)
		}
		if c.SourceFiles == nil {
			c.SourceFiles = make(map[string][]string)
		}
		c.Names[lang] = union(c.Names[lang], p.Names)
		c.SourceFiles[lang] = union(c.SourceFiles[lang], p.SourceFiles)
		c.UpdatedAt = now
		r.dirty = true
	}
	return added
}

// Candidates lists every registered character, sorted by id.
func (r *Registry) Candidates() []domain.CharacterCandidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.CharacterCandidate, 0, len(r.chars))
	for _, id := range r.sortedIDs() {
		c := r.chars[id]
		var names []string
		for _, lang := range sortedKeys(c.Names) {
			names = append(names, c.Names[lang]...)
		}
		out = append(out, domain.CharacterCandidate{ID: id, Names: union(nil, names)})
	}
	return out
}

// SetVariants records the latest confirmed variants per character.
func (r *Registry) SetVariants(res domain.ProbeResult, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, variants := range res {
		c, ok := r.chars[id]
		if !ok {
			c = &Character{ID: id}
			r.chars[id] = c
		}
		c.Variants = append([]string(nil), variants...)
		c.UpdatedAt = now
		r.dirty = true
	}
}

// Variants returns the last recorded variants for id.
func (r *Registry) Variants(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chars[strings.TrimSpace(id)]
	if !ok {
		return nil
	}
	return append([]string(nil), c.Variants...)
}

func (r *Registry) Languages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.languages()
}

func (r *Registry) languages() []string {
	set := make(map[string]struct{})
	for _, c := range r.chars {
		for lang := range c.Names {
			set[lang] = struct{}{}
		}
		for lang := range c.SourceFiles {
			set[lang] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// NameIndex maps each name seen in lang to the character ids using it.
func (r *Registry) NameIndex(lang string) map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index(normalizeLang(lang), func(c *Character, l string) []string { return c.Names[l] })
}

// StoryIndex maps each story source file in lang to the character ids appearing in it.
func (r *Registry) StoryIndex(lang string) map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index(normalizeLang(lang), func(c *Character, l string) []string { return c.SourceFiles[l] })
}

func (r *Registry) index(lang string, values func(*Character, string) []string) map[string][]string {
	out := make(map[string][]string)
	for _, id := range r.sortedIDs() {
		for _, v := range values(r.chars[id], lang) {
			out[v] = append(out[v], id)
		}
	}
	return out
}

// Flush writes characters.json and, per language, names_<lang>.json and
// stories_<lang>.json.
func (r *Registry) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirty {
		return nil
	}
	if err := store.WriteJSON(filepath.Join(r.dir, registryFile), r.chars); err != nil {
		return err
	}
	for _, lang := range r.languages() {
		names := r.index(lang, func(c *Character, l string) []string { return c.Names[l] })
		if err := store.WriteJSON(filepath.Join(r.dir, "names_"+lang+".json"), names); err != nil {
			return err
		}
		stories := r.index(lang, func(c *Character, l string) []string { return c.SourceFiles[l] })
		if err := store.WriteJSON(filepath.Join(r.dir, "stories_"+lang+".json"), stories); err != nil {
			return err
		}
	}
	r.dirty = false
	return nil
}

func (r *Registry) sortedIDs() []string {
	ids := make([]string, 0, len(r.chars))
	for id := range r.chars {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return "default"
	}
	return strings.ReplaceAll(lang, "/", "_")
}

func sortedKeys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// union merges b into a, trimming blanks; result is sorted and unique.
func union(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
