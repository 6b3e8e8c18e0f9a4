package envfile

import (
	"bytes"
	"strings"
)

// File is an ordered KEY=VALUE mapping parsed from dotenv-style text.
// Keys are unique and case-sensitive; iteration follows insertion order.
type File struct {
	keys   []string
	values map[string]string
}

func New() *File {
	return &File{values: map[string]string{}}
}

// Parse reads dotenv-style text. Blank lines and lines starting with '#'
// are skipped. Values may be wrapped in single or double quotes; the
// quotes are stripped. On duplicate keys the last occurrence wins.
func Parse(data []byte) *File {
	f := New()
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		f.Set(key, unquote(strings.TrimSpace(value)))
	}
	return f
}

// Get returns the value for key and whether the key is present.
func (f *File) Get(key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Set adds or updates a key. A new key is appended; an existing key keeps
// its position and takes the new value.
func (f *File) Set(key, value string) {
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Keys returns the keys in insertion order.
func (f *File) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

func (f *File) Len() int { return len(f.keys) }

// Serialize writes one KEY=VALUE line per entry in insertion order.
func (f *File) Serialize() []byte {
	var buf bytes.Buffer
	for _, key := range f.keys {
		buf.WriteString(key)
		buf.WriteByte('=')
		buf.WriteString(f.values[key])
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func unquote(v string) string {
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if first == last && (first == '"' || first == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
