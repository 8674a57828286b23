package api

import (
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// decodeMapping walks a YAML mapping node, dispatching each key to
// its handler. Unknown keys are rejected, the way all spec documents
// are read.
func decodeMapping(node *yaml.Node, context string, fields map[string]func(*yaml.Node) error) error {
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return errors.Errorf("%s: expected a mapping, got %s", context, nodeKind(node))
	}
	var unknown []string
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		handler, ok := fields[key]
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		if err := handler(node.Content[i+1]); err != nil {
			return errors.Wrapf(err, "%s.%s", context, key)
		}
	}
	if len(unknown) > 0 {
		return errors.Errorf(
			"unrecognized fields in %s: %s", context, strings.Join(unknown, ", "))
	}
	return nil
}

// mappingKeys returns the key names of a mapping node, used to pick
// a variant of a tagged union by its discriminator key.
func mappingKeys(node *yaml.Node) map[string]bool {
	keys := map[string]bool{}
	if node.Kind != yaml.MappingNode {
		return keys
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		keys[node.Content[i].Value] = true
	}
	return keys
}

func nodeKind(node *yaml.Node) string {
	switch node.Kind {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	}
	return "unknown node"
}

// decodeScalar reads a scalar node's canonical string value. Boolean
// and numeric scalars render naturally.
func decodeScalar(node *yaml.Node, out *string) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Errorf("expected a scalar value, got %s", nodeKind(node))
	}
	switch node.Tag {
	case "!!bool":
		if strings.EqualFold(node.Value, "true") {
			*out = "true"
		} else {
			*out = "false"
		}
	default:
		*out = node.Value
	}
	return nil
}

// decodeScript reads a build or test script, given either as one
// string or a list of lines.
func decodeScript(node *yaml.Node, out *[]string) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*out = strings.Split(strings.TrimRight(node.Value, "\n"), "\n")
		return nil
	case yaml.SequenceNode:
		var lines []string
		if err := node.Decode(&lines); err != nil {
			return err
		}
		*out = lines
		return nil
	}
	return errors.Errorf("script must be a string or list of strings, got %s", nodeKind(node))
}

// decodeStringList reads a scalar or sequence of scalars.
func decodeStringList(node *yaml.Node, out *[]string) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*out = []string{node.Value}
		return nil
	case yaml.SequenceNode:
		var values []string
		if err := node.Decode(&values); err != nil {
			return err
		}
		*out = values
		return nil
	}
	return errors.Errorf("expected a string or list of strings, got %s", nodeKind(node))
}

// UnmarshalYAML reads an option map from a YAML mapping, preserving
// document order and canonicalizing scalar values to strings.
func (m *OptionMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.Errorf("options must be a mapping, got %s", nodeKind(node))
	}
	*m = *NewOptionMap()
	for i := 0; i+1 < len(node.Content); i += 2 {
		var value string
		if err := decodeScalar(node.Content[i+1], &value); err != nil {
			return errors.Wrapf(err, "option %q", node.Content[i].Value)
		}
		m.Set(node.Content[i].Value, value)
	}
	return nil
}

// MarshalYAML renders the option map preserving insertion order.
func (m *OptionMap) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v},
		)
	}
	return node, nil
}
