package domain

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// CharacterCandidate is one character id handed to the prober, optionally with
// the names the story parser saw it under.
type CharacterCandidate struct {
	ID    string   `json:"id"`
	Names []string `json:"names,omitempty"`
}

// VariantID identifies one image variant of a character.
// Serialized form: "<id>#<face>$<body>", face/body are 1-based.
type VariantID struct {
	CharacterID string
	Face        int
	Body        int
}

func NewVariantID(characterID string, face, body int) VariantID {
	return VariantID{CharacterID: strings.TrimSpace(characterID), Face: face, Body: body}
}

// BaseVariant is the fallback variant every character is assumed to have.
func BaseVariant(characterID string) VariantID {
	return NewVariantID(characterID, 1, 1)
}

func (v VariantID) String() string {
	return v.CharacterID + "#" + strconv.Itoa(v.Face) + "$" + strconv.Itoa(v.Body)
}

var fileNameEscaper = strings.NewReplacer("%", "%25", "/", "%2F", "\\", "%5C")

// FileName maps a serialized variant id to a single path segment. The mapping
// is reversible, so distinct ids never share an object key or cache file.
func FileName(variant string) string {
	return fileNameEscaper.Replace(strings.TrimSpace(variant))
}

func (v VariantID) Valid() bool {
	return strings.TrimSpace(v.CharacterID) != "" && v.Face >= 1 && v.Body >= 1
}

// ParseVariantID is the inverse of VariantID.String. The character id itself may
// contain '#' or '$', so the separators are matched from the right.
func ParseVariantID(s string) (VariantID, error) {
	s = strings.TrimSpace(s)
	dollar := strings.LastIndex(s, "$")
	if dollar < 0 {
		return VariantID{}, fmt.Errorf("variant id %q: missing '$'", s)
	}
	hash := strings.LastIndex(s[:dollar], "#")
	if hash <= 0 {
		return VariantID{}, fmt.Errorf("variant id %q: missing '#' or character id", s)
	}
	face, err := strconv.Atoi(s[hash+1 : dollar])
	if err != nil {
		return VariantID{}, fmt.Errorf("variant id %q: bad face index: %w", s, err)
	}
	body, err := strconv.Atoi(s[dollar+1:])
	if err != nil {
		return VariantID{}, fmt.Errorf("variant id %q: bad body index: %w", s, err)
	}
	v := VariantID{CharacterID: s[:hash], Face: face, Body: body}
	if !v.Valid() {
		return VariantID{}, errors.New("variant id " + strconv.Quote(s) + ": indices must be >= 1")
	}
	return v, nil
}

// NormalizeVariants dedupes and sorts serialized variant ids, substituting the
// base variant when nothing was confirmed.
func NormalizeVariants(characterID string, ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return []string{BaseVariant(characterID).String()}
	}
	sort.Strings(out)
	return out
}

// ProbeResult maps character id -> confirmed variant ids (sorted, deduped, non-empty).
type ProbeResult map[string][]string

// CharacterIDs returns the keys in sorted order.
func (r ProbeResult) CharacterIDs() []string {
	out := make([]string, 0, len(r))
	for id := range r {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Flatten returns every variant id in character order.
func (r ProbeResult) Flatten() []string {
	var out []string
	for _, id := range r.CharacterIDs() {
		out = append(out, r[id]...)
	}
	return out
}
