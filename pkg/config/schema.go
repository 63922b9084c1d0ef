package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaID identifies the generated schema
const SchemaID = "https://github.com/davidroman0O/dutssh/dut-ssh.conf.schema.json"

// Schema returns the JSON schema of the configuration file, indented
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag:   "yaml",
		ExpandedStruct: true,
	}

	s := r.Reflect(&File{})
	s.ID = jsonschema.ID(SchemaID)
	s.Title = "dut-ssh device configuration"

	return json.MarshalIndent(s, "", "  ")
}
