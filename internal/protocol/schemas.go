package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://kirbyam.dev/schemas/"

var (
	schemaOnce sync.Once
	schemaSet  map[string]*jsonschema.Schema
	schemaErr  error
)

// schemaForType maps message types to their schema file.
var schemaForType = map[string]string{
	TypeHello:  "hello.schema.json",
	TypeItem:   "item.schema.json",
	TypeStatus: "status.schema.json",
}

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		for _, name := range schemaForType {
			b, err := schemaFS.ReadFile(path.Join("schemas", name))
			if err != nil {
				schemaErr = err
				return
			}
			if err := c.AddResource(schemaBaseURL+name, bytes.NewReader(b)); err != nil {
				schemaErr = fmt.Errorf("%s: %w", name, err)
				return
			}
		}
		out := make(map[string]*jsonschema.Schema, len(schemaForType))
		for typ, name := range schemaForType {
			s, err := c.Compile(schemaBaseURL + name)
			if err != nil {
				schemaErr = fmt.Errorf("compile %s: %w", name, err)
				return
			}
			out[typ] = s
		}
		schemaSet = out
	})
	return schemaSet, schemaErr
}

// Validate checks a decoded JSON value against the schema for msgType.
func Validate(msgType string, v any) error {
	set, err := loadSchemas()
	if err != nil {
		return err
	}
	s, ok := set[msgType]
	if !ok {
		return fmt.Errorf("no schema for message type %q", msgType)
	}
	return s.Validate(v)
}

// ValidateInbound decodes a client message, checks that its type is one a
// client may send, and validates it against that type's schema.
func ValidateInbound(raw []byte) (BaseMessage, error) {
	base, err := DecodeBase(raw)
	if err != nil {
		return base, fmt.Errorf("decode: %w", err)
	}
	switch base.Type {
	case TypeHello, TypeItem:
	default:
		return base, fmt.Errorf("unexpected message type %q", base.Type)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return base, fmt.Errorf("decode: %w", err)
	}
	if err := Validate(base.Type, v); err != nil {
		return base, err
	}
	return base, nil
}
