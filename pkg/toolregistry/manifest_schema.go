package toolregistry

// ManifestSchema is the JSON Schema for tool manifest validation
const ManifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "description", "command"],
  "properties": {
    "name": {
      "type": "string",
      "pattern": "^[a-z0-9_]+$",
      "description": "Unique tool identifier"
    },
    "description": {
      "type": "string",
      "minLength": 1,
      "description": "What the tool does, shown to the model"
    },
    "command": {
      "type": "array",
      "minItems": 1,
      "items": { "type": "string" },
      "description": "Entry point argv, resolved relative to the tool directory"
    },
    "parameters": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "type", "description"],
        "properties": {
          "name": {
            "type": "string",
            "minLength": 1
          },
          "type": {
            "type": "string",
            "enum": ["string", "number", "integer", "boolean", "object", "array"]
          },
          "description": {
            "type": "string",
            "minLength": 1
          },
          "required": {
            "type": "boolean"
          },
          "default": {}
        }
      }
    }
  }
}`
