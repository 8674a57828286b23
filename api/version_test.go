package api

import (
	"testing"
)

func TestParseVersionRoundTrip(t *testing.T) {
	cases := []string{
		"1.0.0",
		"0.0.1",
		"1.2.3.4.5",
		"100",
		"1.0.0-alpha.0",
		"1.0.0-alpha.1",
		"1.0.0+post.1",
		"1.0.0-alpha.2+post.1",
	}
	for _, in := range cases {
		v, err := ParseVersion(in)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", in, err)
		}
		if out := v.String(); out != in {
			t.Errorf("round trip of %q produced %q", in, out)
		}
	}
}

func TestParseVersionInvalid(t *testing.T) {
	cases := []string{
		"1.a.0",
		"my-version",
		"1..0",
		"1.0-alpha",
		"1.0-alpha.x",
		"-1.0",
	}
	for _, in := range cases {
		if _, err := ParseVersion(in); err == nil {
			t.Errorf("expected error parsing %q", in)
		}
	}
}

func TestVersionOrdering(t *testing.T) {
	ordered := []string{
		"0.9",
		"1.0.0-alpha.1",
		"1.0.0-beta.1",
		"1.0.0",
		"1.0.0+r.1",
		"1.0.0+r.2",
		"1.0.1",
		"1.1",
		"2.0",
	}
	for i := 0; i+1 < len(ordered); i++ {
		a, b := MustParseVersion(ordered[i]), MustParseVersion(ordered[i+1])
		if !a.LessThan(b) {
			t.Errorf("expected %s < %s", a, b)
		}
		if b.LessThan(a) {
			t.Errorf("expected %s not < %s", b, a)
		}
	}
}

func TestVersionPadding(t *testing.T) {
	a, b := MustParseVersion("1.2"), MustParseVersion("1.2.0.0")
	if !a.Equal(b) {
		t.Errorf("expected %s == %s under zero padding", a, b)
	}
	c := MustParseVersion("1.2.0.0.5")
	if a.Equal(c) || !a.LessThan(c) {
		t.Errorf("expected %s < %s", a, c)
	}
}

func TestVersionParts(t *testing.T) {
	v := MustParseVersion("4.1.2")
	if v.Major() != 4 || v.Minor() != 1 || v.Patch() != 2 {
		t.Errorf("unexpected components of %s", v)
	}
	if v.Part(10) != 0 {
		t.Errorf("expected implicit zero padding beyond specified parts")
	}
}

func TestSortVersionsDesc(t *testing.T) {
	versions := []Version{
		MustParseVersion("1.0"),
		MustParseVersion("2.0-alpha.1"),
		MustParseVersion("2.0"),
		MustParseVersion("1.5"),
	}
	SortVersionsDesc(versions)
	want := []string{"2.0", "2.0-alpha.1", "1.5", "1.0"}
	for i, w := range want {
		if versions[i].String() != w {
			t.Fatalf("unexpected order: got %v at %d, want %s", versions[i], i, w)
		}
	}
}
