// Package schemas embeds the JSON schemas for typecheck-runner files.
package schemas

import _ "embed"

// ConfigSchemaJSON is the JSON schema for .typecheck-runner.yaml.
//
//go:embed config.schema.json
var ConfigSchemaJSON string
