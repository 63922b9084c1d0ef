package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// Command maps a logical action name to the raw shell command run on the
// device's control host. Templates are executed as-is by the remote shell.
type Command struct {
	Name     string
	Template string
}

// CommandSet is the ordered list of a device's commands. The file format is a
// sequence of single-key mappings:
//
//	commands:
//	  - console: "telnet localhost 7001"
//	  - power_on: "pduclient --port 3 --command on"
//
// A plain mapping is accepted too and keeps document order.
type CommandSet []Command

// Lookup returns the template of the first command named name
func (s CommandSet) Lookup(name string) (string, bool) {
	for _, c := range s {
		if c.Name == name {
			return c.Template, true
		}
	}
	return "", false
}

// Names returns the action names in file order
func (s CommandSet) Names() []string {
	names := make([]string, 0, len(s))
	for _, c := range s {
		names = append(names, c.Name)
	}
	return names
}

// UnmarshalYAML implements yaml.Unmarshaler
func (s *CommandSet) UnmarshalYAML(node *yaml.Node) error {
	var out CommandSet

	switch node.Kind {
	case yaml.AliasNode:
		return s.UnmarshalYAML(node.Alias)
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.MappingNode {
				return fmt.Errorf("line %d: command entry must be a mapping of action to command", item.Line)
			}
			cmds, err := commandsFromMapping(item)
			if err != nil {
				return err
			}
			out = append(out, cmds...)
		}
	case yaml.MappingNode:
		cmds, err := commandsFromMapping(node)
		if err != nil {
			return err
		}
		out = cmds
	case yaml.ScalarNode:
		if node.Tag != "!!null" {
			return fmt.Errorf("line %d: commands must be a list", node.Line)
		}
	default:
		return fmt.Errorf("line %d: commands must be a list", node.Line)
	}

	*s = out
	return nil
}

func commandsFromMapping(node *yaml.Node) (CommandSet, error) {
	var out CommandSet
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: command %q must be a string", value.Line, key.Value)
		}
		out = append(out, Command{Name: key.Value, Template: value.Value})
	}
	return out, nil
}

// UnmarshalJSON implements json.Unmarshaler, keeping key order within objects
func (s *CommandSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = nil
		return nil
	}

	var out CommandSet
	switch tok {
	case json.Delim('['):
		for dec.More() {
			open, err := dec.Token()
			if err != nil {
				return err
			}
			if open != json.Delim('{') {
				return fmt.Errorf("command entry must be an object of action to command")
			}
			cmds, err := commandsFromObject(dec)
			if err != nil {
				return err
			}
			out = append(out, cmds...)
		}
		if _, err := dec.Token(); err != nil {
			return err
		}
	case json.Delim('{'):
		cmds, err := commandsFromObject(dec)
		if err != nil {
			return err
		}
		out = cmds
	default:
		return fmt.Errorf("commands must be a list")
	}

	*s = out
	return nil
}

// commandsFromObject reads members until the closing brace of an object whose
// opening brace was already consumed.
func commandsFromObject(dec *json.Decoder) (CommandSet, error) {
	var out CommandSet
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)

		var template string
		if err := dec.Decode(&template); err != nil {
			return nil, fmt.Errorf("command %q must be a string: %w", key, err)
		}
		out = append(out, Command{Name: key, Template: template})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

// JSONSchema describes the list-of-single-key-maps layout
func (CommandSet) JSONSchema() *jsonschema.Schema {
	one := uint64(1)
	return &jsonschema.Schema{
		Type:        "array",
		Description: "Ordered list of {action: shell command} entries run on the device host",
		Items: &jsonschema.Schema{
			Type:                 "object",
			MinProperties:        &one,
			MaxProperties:        &one,
			AdditionalProperties: &jsonschema.Schema{Type: "string"},
		},
	}
}
