package action

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	schemavalidator "github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaSet holds one compiled JSON schema per action type, generated from
// the config struct so the schema can never drift from the decoder.
type schemaSet struct {
	mu       sync.RWMutex
	docs     map[string][]byte
	compiled map[string]*schemavalidator.Schema
}

func newSchemaSet() *schemaSet {
	return &schemaSet{
		docs:     make(map[string][]byte),
		compiled: make(map[string]*schemavalidator.Schema),
	}
}

func (s *schemaSet) add(actionType string, configType any) {
	reflector := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(configType)
	doc, err := json.Marshal(schema)
	if err != nil {
		panic("action schema for " + actionType + ": " + err.Error())
	}

	parsed, err := schemavalidator.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		panic("action schema for " + actionType + ": " + err.Error())
	}
	compiler := schemavalidator.NewCompiler()
	url := "mem://actions/" + actionType + ".json"
	if err := compiler.AddResource(url, parsed); err != nil {
		panic("action schema for " + actionType + ": " + err.Error())
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		panic("action schema for " + actionType + ": " + err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[actionType] = doc
	s.compiled[actionType] = compiled
}

func (s *schemaSet) validate(actionType string, raw json.RawMessage) error {
	s.mu.RLock()
	compiled := s.compiled[actionType]
	s.mu.RUnlock()
	if compiled == nil {
		return nil
	}

	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	inst, err := schemavalidator.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return ConfigError("%s config is not valid JSON: %v", actionType, err)
	}
	if err := compiled.Validate(inst); err != nil {
		return ConfigError("%s config does not match schema: %v", actionType, err)
	}
	return nil
}

func (s *schemaSet) document(actionType string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[actionType]
	return doc, ok
}
