package api

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// SourceSpec describes one collection of source files for a package.
// The variants are distinguished in spec files by their discriminator
// key: path, git or tar. Collection itself is performed by the build
// executor, not by this package.
type SourceSpec interface {
	// Subdir is the optional directory under the source root that
	// these files unpack into.
	Subdir() string
	sourceSpec()
}

// LocalSource is package source files in a local file path.
type LocalSource struct {
	Path string `yaml:"path"`
	Dir  string `yaml:"subdir,omitempty"`
}

func (s *LocalSource) Subdir() string { return s.Dir }
func (s *LocalSource) sourceSpec()    {}

// GitSource is package source files from a git repository.
type GitSource struct {
	Git string `yaml:"git"`
	Ref string `yaml:"ref,omitempty"`
	Dir string `yaml:"subdir,omitempty"`
}

func (s *GitSource) Subdir() string { return s.Dir }
func (s *GitSource) sourceSpec()    {}

// TarSource is package source files from a local or remote tar
// archive.
type TarSource struct {
	Tar string `yaml:"tar"`
	Dir string `yaml:"subdir,omitempty"`
}

func (s *TarSource) Subdir() string { return s.Dir }
func (s *TarSource) sourceSpec()    {}

// sourceSpecNode wraps the SourceSpec union for YAML decoding.
type sourceSpecNode struct {
	SourceSpec
}

func (n *sourceSpecNode) UnmarshalYAML(node *yaml.Node) error {
	keys := mappingKeys(node)
	switch {
	case keys["path"]:
		var s LocalSource
		if err := decodeMapping(node, "source", map[string]func(*yaml.Node) error{
			"path":   func(v *yaml.Node) error { return v.Decode(&s.Path) },
			"subdir": func(v *yaml.Node) error { return v.Decode(&s.Dir) },
		}); err != nil {
			return err
		}
		n.SourceSpec = &s
	case keys["git"]:
		var s GitSource
		if err := decodeMapping(node, "source", map[string]func(*yaml.Node) error{
			"git":    func(v *yaml.Node) error { return v.Decode(&s.Git) },
			"ref":    func(v *yaml.Node) error { return v.Decode(&s.Ref) },
			"subdir": func(v *yaml.Node) error { return v.Decode(&s.Dir) },
		}); err != nil {
			return err
		}
		n.SourceSpec = &s
	case keys["tar"]:
		var s TarSource
		if err := decodeMapping(node, "source", map[string]func(*yaml.Node) error{
			"tar":    func(v *yaml.Node) error { return v.Decode(&s.Tar) },
			"subdir": func(v *yaml.Node) error { return v.Decode(&s.Dir) },
		}); err != nil {
			return err
		}
		n.SourceSpec = &s
	default:
		return errors.New("cannot determine type of source specifier, expected one of: path, git, tar")
	}
	return nil
}
