package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"

	"github.com/noah-isme/gema-grader/internal/grading"
)

const toolchainsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["toolchains"],
  "properties": {
    "toolchains": {
      "type": "object",
      "propertyNames": {"enum": ["python", "java", "c", "cpp", "rust", "javascript"]},
      "additionalProperties": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "image": {"type": "string", "minLength": 1},
          "test_command": {"type": "string", "minLength": 1},
          "package_command": {"type": "string"},
          "measure_command": {"type": "string"},
          "parser": {"enum": ["make", "unittest", "surefire", "cargo", "node"]},
          "artifact": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
              "dir": {"type": "string"},
              "suffix": {"type": "string"}
            }
          },
          "merge": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
              "tests_source": {"type": "string"},
              "tests_target": {"type": "string"},
              "copy_reference_tree": {"type": "boolean"},
              "manifest": {"type": "string"},
              "require_manifest": {"type": "boolean"},
              "create_dirs": {"type": "array", "items": {"type": "string"}},
              "shadowing": {"type": "array", "items": {"type": "string", "minLength": 1}}
            }
          }
        }
      }
    }
  }
}`

var compiledToolchainsSchema = jsonschema.MustCompileString("toolchains.schema.json", toolchainsSchema)

// LoadToolchains reads per-language command overrides from a YAML, TOML or
// JSON file. The document is validated before it is decoded.
func LoadToolchains(path string) (map[string]grading.ToolchainConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read toolchains file: %w", err)
	}

	// Round trip through JSON so the validator sees plain JSON types.
	raw, err := json.Marshal(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("encode toolchains file: %w", err)
	}
	var document interface{}
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("decode toolchains file: %w", err)
	}
	if err := compiledToolchainsSchema.Validate(document); err != nil {
		return nil, fmt.Errorf("invalid toolchains file %s: %w", path, err)
	}

	var toolchains map[string]grading.ToolchainConfig
	if err := v.UnmarshalKey("toolchains", &toolchains); err != nil {
		return nil, fmt.Errorf("decode toolchains: %w", err)
	}

	if _, err := grading.NewRegistry(toolchains); err != nil {
		return nil, fmt.Errorf("invalid toolchains file %s: %w", path, err)
	}
	return toolchains, nil
}
