package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"sheetagg/internal/etl"
)

// ColumnMap is an ordered source-column → output-name mapping, written
// in YAML as a mapping. Document order is kept. A plain list of names
// maps each name to itself.
type ColumnMap []etl.ColumnMapping

func (m *ColumnMap) UnmarshalYAML(node *yaml.Node) error {
	pairs, err := decodePairs(node)
	if err != nil {
		return err
	}
	out := make(ColumnMap, len(pairs))
	for i, p := range pairs {
		out[i] = etl.ColumnMapping{Source: p[0], Output: p[1]}
	}
	*m = out
	return nil
}

// AliasMap is an ordered alias → source-column mapping, the direction
// used by display_fields.
type AliasMap []etl.ColumnMapping

func (m *AliasMap) UnmarshalYAML(node *yaml.Node) error {
	pairs, err := decodePairs(node)
	if err != nil {
		return err
	}
	out := make(AliasMap, len(pairs))
	for i, p := range pairs {
		out[i] = etl.ColumnMapping{Source: p[1], Output: p[0]}
	}
	*m = out
	return nil
}

// decodePairs reads a mapping node as ordered key/value pairs, or a
// sequence of scalars as name/name pairs.
func decodePairs(node *yaml.Node) ([][2]string, error) {
	switch node.Kind {
	case yaml.MappingNode:
		pairs := make([][2]string, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: column mapping entries must be scalars", k.Line)
			}
			val := v.Value
			if v.Tag == "!!null" {
				val = k.Value
			}
			pairs = append(pairs, [2]string{k.Value, val})
		}
		return pairs, nil
	case yaml.SequenceNode:
		pairs := make([][2]string, 0, len(node.Content))
		for _, n := range node.Content {
			if n.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: column list entries must be scalars", n.Line)
			}
			pairs = append(pairs, [2]string{n.Value, n.Value})
		}
		return pairs, nil
	case 0:
		return nil, nil
	default:
		return nil, fmt.Errorf("line %d: expected a mapping or a list of column names", node.Line)
	}
}
