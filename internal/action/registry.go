package action

import (
	"fmt"
	"sort"

	"callrelay.app/relay/internal/model"
)

// Registry maps action type strings to handlers.
type Registry struct {
	handlers map[string]Handler
	schemas  *schemaSet
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		schemas:  newSchemaSet(),
	}
}

// Register adds a handler for actionType. configType, when non-nil, is a
// pointer to the handler's config struct and enables JSON schema checks at save time.
func (r *Registry) Register(actionType string, h Handler, configType any) {
	if _, exists := r.handlers[actionType]; exists {
		panic(fmt.Sprintf("action %q registered twice", actionType))
	}
	r.handlers[actionType] = h
	if configType != nil {
		r.schemas.add(actionType, configType)
	}
}

func (r *Registry) Get(actionType string) (Handler, bool) {
	h, ok := r.handlers[actionType]
	return h, ok
}

func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Validate checks an action as it is saved: the type must be registered, the
// config must match the type's schema and pass the handler's own checks.
func (r *Registry) Validate(spec model.ActionSpec) error {
	h, ok := r.handlers[spec.Type]
	if !ok {
		return ConfigError("unknown action type %q", spec.Type)
	}
	if err := r.schemas.validate(spec.Type, spec.Config); err != nil {
		return err
	}
	return h.Validate(spec.Config)
}

// Schema returns the JSON schema document for an action type's config, if any.
func (r *Registry) Schema(actionType string) ([]byte, bool) {
	return r.schemas.document(actionType)
}
