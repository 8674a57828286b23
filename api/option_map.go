package api

import (
	"crypto/sha1"
	"encoding/base32"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
)

// OptionMap is an ordered mapping of build option names to string
// values. Keys are either global (`debug`) or namespaced by package
// (`python.abi`). Insertion order is preserved for iteration; the
// digest is independent of it.
type OptionMap struct {
	keys   []string
	values map[string]string
}

// NewOptionMap returns an empty option map.
func NewOptionMap() *OptionMap {
	return &OptionMap{values: map[string]string{}}
}

// OptionMapOf builds an option map from alternating key/value pairs.
func OptionMapOf(pairs ...string) *OptionMap {
	if len(pairs)%2 != 0 {
		panic("OptionMapOf requires an even number of arguments")
	}
	m := NewOptionMap()
	for i := 0; i < len(pairs); i += 2 {
		m.Set(pairs[i], pairs[i+1])
	}
	return m
}

// Len returns the number of entries.
func (m *OptionMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Set binds name to value, preserving the position of an existing
// binding.
func (m *OptionMap) Set(name, value string) {
	if m.values == nil {
		m.values = map[string]string{}
	}
	if _, exists := m.values[name]; !exists {
		m.keys = append(m.keys, name)
	}
	m.values[name] = value
}

// Get returns the bound value and whether one exists.
func (m *OptionMap) Get(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	value, ok := m.values[name]
	return value, ok
}

// GetOr returns the bound value, or fallback when none exists.
func (m *OptionMap) GetOr(name, fallback string) string {
	if value, ok := m.Get(name); ok {
		return value
	}
	return fallback
}

// Keys returns the option names in insertion order.
func (m *OptionMap) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

// SortedKeys returns the option names in lexicographic order.
func (m *OptionMap) SortedKeys() []string {
	keys := m.Keys()
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy of this map.
func (m *OptionMap) Clone() *OptionMap {
	out := NewOptionMap()
	if m == nil {
		return out
	}
	for _, k := range m.keys {
		out.Set(k, m.values[k])
	}
	return out
}

// Update copies all entries of other into this map.
func (m *OptionMap) Update(other *OptionMap) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		m.Set(k, other.values[k])
	}
}

// Digest computes the deterministic identifier of this option set,
// used as the build name when a package is published. Entries are
// hashed in lexicographic key order so the digest is stable under
// permutation of insertion order.
func (m *OptionMap) Digest() string {
	hasher := sha1.New()
	for _, name := range m.SortedKeys() {
		value, _ := m.Get(name)
		hasher.Write([]byte(name))
		hasher.Write([]byte("="))
		hasher.Write([]byte(value))
		hasher.Write([]byte{0})
	}
	digest := base32.StdEncoding.EncodeToString(hasher.Sum(nil))
	return digest[:OptionDigestSize]
}

// DigestBuild returns the digest as a Build identifier.
func (m *OptionMap) DigestBuild() Build {
	return Build{name: m.Digest()}
}

func (m *OptionMap) String() string {
	parts := make([]string, 0, m.Len())
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		parts = append(parts, fmt.Sprintf("%s: %s", k, v))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Global returns only the entries that are not namespaced by a
// package name.
func (m *OptionMap) Global() *OptionMap {
	out := NewOptionMap()
	for _, k := range m.Keys() {
		if !strings.Contains(k, ".") {
			v, _ := m.Get(k)
			out.Set(k, v)
		}
	}
	return out
}

// PackageOptions returns the options visible to the named package:
// all global entries plus the package's namespaced entries with the
// namespace stripped.
func (m *OptionMap) PackageOptions(name string) *OptionMap {
	out := m.Global()
	prefix := name + "."
	for _, k := range m.Keys() {
		if strings.HasPrefix(k, prefix) {
			v, _ := m.Get(k)
			out.Set(strings.TrimPrefix(k, prefix), v)
		}
	}
	return out
}

// HostOptions detects the default option values for the current host
// system: architecture, operating system, and the distro name and
// version where one can be identified.
func HostOptions() *OptionMap {
	opts := OptionMapOf("arch", runtime.GOARCH, "os", runtime.GOOS)
	if id, version, ok := distroInfo(); ok {
		opts.Set("distro", id)
		opts.Set(id, version)
	}
	return opts
}

// distroInfo reads the distribution id and version from the standard
// os-release file, if this host has one.
func distroInfo() (id, version string, ok bool) {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return "", "", false
	}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		switch key {
		case "ID":
			id = value
		case "VERSION_ID":
			version = value
		}
	}
	if id == "" {
		return "", "", false
	}
	return id, version, true
}
