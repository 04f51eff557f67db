package psadapter

import (
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// schemaValidator checks serialized payloads against the JSON schema registered for
// their channel. Channels without a schema accept anything.
type schemaValidator struct {
	schemas map[string]*gojsonschema.Schema
}

func newSchemaValidator(rawSchemas map[string][]byte) (*schemaValidator, error) {
	v := &schemaValidator{schemas: make(map[string]*gojsonschema.Schema)}
	for channel, raw := range rawSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w, channel: %s, details: %v", ErrInvalidSchema, channel, err)
		}
		v.schemas[channel] = schema
	}
	return v, nil
}

func (v *schemaValidator) validate(channel string, data []byte) error {
	schema, ok := v.schemas[channel]
	if !ok {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errWithDetails(ErrInvalidPayload, err)
	}

	if !result.Valid() {
		payloadErrors := ""
		for _, desc := range result.Errors() {
			payloadErrors += " - " + desc.String()
		}
		return errWithDetails(ErrInvalidPayload, errors.New(payloadErrors))
	}
	return nil
}
