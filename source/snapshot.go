package source

import (
	"database/sql"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// Setting is a single configuration entry read from the database.
type Setting struct {
	Key   string
	Value sql.NullString
}

// Snapshot is an immutable set of settings keyed case-insensitively.
// A nil *Snapshot behaves as an empty one.
type Snapshot struct {
	settings map[string]Setting
}

// NewSnapshot builds a Snapshot from settings. Settings with a blank key are
// dropped and later settings override earlier ones with the same key.
func NewSnapshot(settings ...Setting) *Snapshot {
	s := &Snapshot{settings: make(map[string]Setting, len(settings))}
	for _, setting := range settings {
		s.set(setting)
	}
	return s
}

// set stores setting unless its key is blank. It must only be called while
// the snapshot is being built, before it is published.
func (s *Snapshot) set(setting Setting) bool {
	if strings.TrimSpace(setting.Key) == "" {
		return false
	}
	folded := foldKey(setting.Key)
	if existing, ok := s.settings[folded]; ok {
		// keep the first spelling of the key
		setting.Key = existing.Key
	}
	s.settings[folded] = setting
	return true
}

// Len returns the number of settings.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.settings)
}

// Lookup returns the setting stored under key, compared case-insensitively.
func (s *Snapshot) Lookup(key string) (Setting, bool) {
	if s == nil {
		return Setting{}, false
	}
	setting, ok := s.settings[foldKey(key)]
	return setting, ok
}

// Get returns the value stored under key. ok is false when the key is absent
// or its value is null.
func (s *Snapshot) Get(key string) (value string, ok bool) {
	setting, found := s.Lookup(key)
	if !found || !setting.Value.Valid {
		return "", false
	}
	return setting.Value.String, true
}

// Settings returns the settings ordered by folded key.
func (s *Snapshot) Settings() []Setting {
	if s == nil {
		return nil
	}
	keys := s.foldedKeys()
	settings := make([]Setting, 0, len(keys))
	for _, k := range keys {
		settings = append(settings, s.settings[k])
	}
	return settings
}

// Map returns the settings as a plain map. Null values are stored as nil.
func (s *Snapshot) Map() map[string]interface{} {
	data := make(map[string]interface{}, s.Len())
	for _, setting := range s.Settings() {
		if setting.Value.Valid {
			data[setting.Key] = setting.Value.String
		} else {
			data[setting.Key] = nil
		}
	}
	return data
}

// MarshalYAML renders the snapshot as a flat YAML mapping.
func (s *Snapshot) MarshalYAML() (interface{}, error) {
	return s.Map(), nil
}

func (s *Snapshot) foldedKeys() []string {
	keys := make([]string, 0, len(s.settings))
	for k := range s.settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AreEquivalent reports whether a and b hold the same settings: same size,
// same keys compared case-insensitively and identical values, null included.
func AreEquivalent(a, b *Snapshot) bool {
	if a.Len() != b.Len() {
		return false
	}
	if a.Len() == 0 {
		return true
	}
	aKeys, bKeys := a.foldedKeys(), b.foldedKeys()
	for i := range aKeys {
		if aKeys[i] != bKeys[i] {
			return false
		}
		if a.settings[aKeys[i]].Value != b.settings[bKeys[i]].Value {
			return false
		}
	}
	return true
}

// keyFolder applies full Unicode case folding, so "Straße" and "STRASSE" are
// the same key. Fold casers are stateless and shared by all snapshots.
var keyFolder = cases.Fold()

// foldKey normalises a key for case-insensitive comparison.
func foldKey(key string) string {
	return keyFolder.String(key)
}

func renderYAML(s *Snapshot) ([]byte, error) {
	return yaml.Marshal(s.Map())
}
