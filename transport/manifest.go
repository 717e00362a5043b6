package transport

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaFile = "manifest.schema.json"

// Schema of the catalog manifest a distribution server serves at /versions.
// Keys are version names ("v" + number), values carry per-version metadata.
const Schema = `
{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "shardsync catalog manifest",
  "type": "object",
  "required": ["versions"],
  "properties": {
    "versions": {
      "type": "object",
      "patternProperties": {
        "^v[0-9]+$": {
          "type": "object",
          "properties": {
            "size": {
              "type": "integer",
              "minimum": 0
            }
          }
        }
      },
      "additionalProperties": false
    }
  }
}
`

type Manifest struct {
	Versions map[string]VersionInfo `json:"versions"`
}

type VersionInfo struct {
	Size int64 `json:"size"`
}

func ValidateManifest(data []byte) error {
	sch, err := jsonschema.CompileString(schemaFile, Schema)
	if err != nil {
		return fmt.Errorf("compile manifest json schema: %w", err)
	}
	var v any
	if err = json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal manifest data: %w", err)
	}
	if err = sch.Validate(v); err != nil {
		return fmt.Errorf("validate manifest data: %w", err)
	}
	return nil
}

func ParseManifest(data []byte) (*Manifest, error) {
	if err := ValidateManifest(data); err != nil {
		return nil, err
	}
	manifest := &Manifest{}
	if err := json.Unmarshal(data, manifest); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return manifest, nil
}
