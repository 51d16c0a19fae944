package sessionkeys

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// grantResponseSchema validates the shape of a granted permission before
// the manager trusts it. The policy and permission payloads stay opaque;
// only the envelope is checked.
const grantResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["account", "chainId", "expiry", "signer", "context"],
  "properties": {
    "account": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
    "chainId": {"type": "string", "pattern": "^0x[0-9a-fA-F]+$"},
    "expiry": {"type": "integer", "minimum": 1},
    "signer": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"type": "string"},
        "data": {"type": "object"}
      }
    },
    "permissions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"],
        "properties": {"type": {"type": "string"}}
      }
    },
    "policies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"],
        "properties": {"type": {"type": "string"}}
      }
    },
    "context": {"type": "string", "pattern": "^0x[0-9a-fA-F]+$"}
  }
}`

// ValidateGrantResponse checks a granted permission against the response
// schema.
func ValidateGrantResponse(grant *GrantedPermission) error {
	document, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("marshal grant for validation: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(grantResponseSchema)
	documentLoader := gojsonschema.NewBytesLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validate grant response: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var descriptions []interface{}
	for _, desc := range result.Errors() {
		descriptions = append(descriptions, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return NewProtocolError(ErrCodeInvalidGrant, "grant response failed schema validation", map[string]interface{}{
		"errors": descriptions,
	})
}
