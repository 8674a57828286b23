package api

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestOptionMapDigestStableUnderInsertionOrder(t *testing.T) {
	a := OptionMapOf("debug", "off", "python.abi", "cp37", "arch", "x86_64")
	b := OptionMapOf("arch", "x86_64", "debug", "off", "python.abi", "cp37")
	if a.Digest() != b.Digest() {
		t.Errorf("digest differs under permutation: %s != %s", a.Digest(), b.Digest())
	}

	c := a.Clone()
	c.Set("debug", "on")
	if a.Digest() == c.Digest() {
		t.Error("digest must change when a value changes")
	}
}

func TestOptionMapDigestShape(t *testing.T) {
	d := NewOptionMap().Digest()
	if len(d) != OptionDigestSize {
		t.Fatalf("unexpected digest length %d", len(d))
	}
	if _, err := ParseBuild(d); err != nil {
		t.Errorf("digest should be a valid build name: %v", err)
	}
}

func TestOptionMapOrderPreserved(t *testing.T) {
	m := OptionMapOf("b", "1", "a", "2")
	m.Set("b", "3")
	keys := m.Keys()
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "a" {
		t.Errorf("unexpected key order %v", keys)
	}
	if v, _ := m.Get("b"); v != "3" {
		t.Errorf("overwrite lost: %q", v)
	}
}

func TestPackageOptions(t *testing.T) {
	m := OptionMapOf(
		"debug", "off",
		"python.abi", "cp37",
		"gcc.version", "9.3",
	)
	visible := m.PackageOptions("python")
	if v, ok := visible.Get("abi"); !ok || v != "cp37" {
		t.Errorf("expected namespaced option to be visible as abi, got %q", v)
	}
	if v, ok := visible.Get("debug"); !ok || v != "off" {
		t.Errorf("expected global option to remain visible, got %q", v)
	}
	if _, ok := visible.Get("version"); ok {
		t.Error("another package's options must not leak in")
	}
}

func TestOptionMapYAML(t *testing.T) {
	var m OptionMap
	input := "debug: true\nopt: 1\nname: value\n"
	if err := yaml.Unmarshal([]byte(input), &m); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.Get("debug"); v != "true" {
		t.Errorf("bool scalar should canonicalize to %q, got %q", "true", v)
	}
	if v, _ := m.Get("opt"); v != "1" {
		t.Errorf("numeric scalar should canonicalize to %q, got %q", "1", v)
	}
	keys := m.Keys()
	if len(keys) != 3 || keys[0] != "debug" || keys[2] != "name" {
		t.Errorf("document order not preserved: %v", keys)
	}

	out, err := yaml.Marshal(&m)
	if err != nil {
		t.Fatal(err)
	}
	var again OptionMap
	if err := yaml.Unmarshal(out, &again); err != nil {
		t.Fatal(err)
	}
	if again.Digest() != m.Digest() {
		t.Error("yaml round trip changed the map")
	}
}
