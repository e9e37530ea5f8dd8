// Package events decodes inbound trigger payloads into tagged variants. Each shape is
// validated against an embedded JSON schema before it is unmarshalled, so handlers never
// see a partially populated payload.
package events

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// ErrUnrecognized marks a payload whose discriminator names no known variant.
	ErrUnrecognized = errors.New("unrecognized event")
	// ErrInvalid marks a known variant that does not satisfy its schema.
	ErrInvalid = errors.New("invalid event")
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func schema(name string) (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		entries, err := schemaFS.ReadDir("schemas")
		if err != nil {
			compileErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		urls := make(map[string]string, len(entries))
		for _, e := range entries {
			data, err := schemaFS.ReadFile("schemas/" + e.Name())
			if err != nil {
				compileErr = err
				return
			}
			url := "memory://events/" + e.Name()
			if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
				compileErr = fmt.Errorf("register schema %s: %w", e.Name(), err)
				return
			}
			urls[e.Name()] = url
		}
		compiled = make(map[string]*jsonschema.Schema, len(urls))
		for name, url := range urls {
			s, err := compiler.Compile(url)
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			compiled[name] = s
		}
	})
	if compileErr != nil {
		return nil, compileErr
	}
	s, ok := compiled[name]
	if !ok {
		return nil, fmt.Errorf("schema %s not embedded", name)
	}
	return s, nil
}

// decode validates payload against the named schema and unmarshals it into out.
func decode(name string, payload []byte, out any) error {
	s, err := schema(name)
	if err != nil {
		return err
	}
	var document any
	if err := json.Unmarshal(payload, &document); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.Validate(document); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
