package changelog

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
)

// Schema is a registered key, value, or replication-metadata schema. The
// wire format this package targets has no Avro library in its dependency
// corpus, so schemas are JSON Schema documents (draft-07 subset) rather
// than Avro records; Schema.Validate can still reject a malformed
// payload before a Deserializer is asked to decode it.
type Schema struct {
	ID     int32
	Raw    string
	node   *schemaNode
}

// compile lazily parses Raw into a validation tree. SchemaRegistry.Deserializer
// calls it under the registry's mutex; a direct Validate call compiles
// without that guard.
func (s *Schema) compile() error {
	if s.node != nil {
		return nil
	}
	var n schemaNode
	if err := json.Unmarshal([]byte(s.Raw), &n); err != nil {
		return fmt.Errorf("changelog: parsing schema %d: %w", s.ID, err)
	}
	if err := n.compilePatterns(); err != nil {
		return fmt.Errorf("changelog: compiling schema %d: %w", s.ID, err)
	}
	s.node = &n
	return nil
}

// Validate reports whether payload conforms to the schema's shape.
func (s *Schema) Validate(payload []byte) error {
	if err := s.compile(); err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return fmt.Errorf("changelog: payload is not valid JSON: %w", err)
	}
	return s.node.validate(v, "$")
}

// schemaNode is a minimal JSON Schema (draft-07 subset) node: object
// property types, required fields, array item types, enums, and string
// patterns, adapted from the registry's original validator. It covers the
// shapes a key/value/RMD schema for a key-value store actually needs;
// it does not implement $ref resolution across documents or the full
// combinator vocabulary (oneOf/anyOf/allOf), since no schema in this
// corpus's domain needs them.
type schemaNode struct {
	Type       string                 `json:"type,omitempty"`
	Properties map[string]*schemaNode `json:"properties,omitempty"`
	Required   []string               `json:"required,omitempty"`
	Items      *schemaNode            `json:"items,omitempty"`
	Enum       []any                  `json:"enum,omitempty"`
	Pattern    string                 `json:"pattern,omitempty"`

	compiledPattern *regexp.Regexp
}

func (n *schemaNode) compilePatterns() error {
	if n.Pattern != "" {
		re, err := regexp.Compile(n.Pattern)
		if err != nil {
			return err
		}
		n.compiledPattern = re
	}
	for _, p := range n.Properties {
		if err := p.compilePatterns(); err != nil {
			return err
		}
	}
	if n.Items != nil {
		if err := n.Items.compilePatterns(); err != nil {
			return err
		}
	}
	return nil
}

func (n *schemaNode) validate(v any, path string) error {
	if len(n.Enum) > 0 {
		for _, e := range n.Enum {
			if jsonEqual(e, v) {
				return nil
			}
		}
		return fmt.Errorf("changelog: %s: value not in enum", path)
	}
	switch n.Type {
	case "object":
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("changelog: %s: expected object", path)
		}
		for _, req := range n.Required {
			if _, ok := obj[req]; !ok {
				return fmt.Errorf("changelog: %s: missing required field %q", path, req)
			}
		}
		for name, val := range obj {
			if prop, ok := n.Properties[name]; ok {
				if err := prop.validate(val, path+"."+name); err != nil {
					return err
				}
			}
		}
	case "array":
		arr, ok := v.([]any)
		if !ok {
			return fmt.Errorf("changelog: %s: expected array", path)
		}
		if n.Items != nil {
			for i, el := range arr {
				if err := n.Items.validate(el, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
		}
	case "string":
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("changelog: %s: expected string", path)
		}
		if n.compiledPattern != nil && !n.compiledPattern.MatchString(s) {
			return fmt.Errorf("changelog: %s: does not match pattern %q", path, n.Pattern)
		}
	case "number", "integer":
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("changelog: %s: expected number", path)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("changelog: %s: expected boolean", path)
		}
	}
	return nil
}

func jsonEqual(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

// Deserializer decodes a reassembled, decompressed record body into a Go
// value. GenericJSONDecoder and TypedJSONDecoder are the two
// constructors this package ships, selected once at ChangeConsumer
// construction (see SPEC_FULL.md's generic-vs-specific supplement) rather
// than switched per record.
type Deserializer func(data []byte) (any, error)

// GenericJSONDecoder returns a Deserializer that decodes into
// map[string]any, for callers with no concrete value type.
func GenericJSONDecoder() Deserializer {
	return func(data []byte) (any, error) {
		var v map[string]any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("changelog: generic decode: %w", err)
		}
		return v, nil
	}
}

// TypedJSONDecoder returns a Deserializer that decodes into a new *V,
// for callers who registered a concrete Go value type.
func TypedJSONDecoder[V any]() Deserializer {
	return func(data []byte) (any, error) {
		v := new(V)
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("changelog: typed decode: %w", err)
		}
		return v, nil
	}
}

// SchemaRegistry caches key/value/replication-metadata schemas read
// through a MetadataClient, and resolves a Deserializer for a given writer
// schema id. Adapted from abd-ulbasit-goqueue's internal/broker schema
// registry and JSON Schema validator (read in full, then deleted from the
// working tree, and reconstructed here scoped to read-through caching
// rather than a registry owning writes).
type SchemaRegistry struct {
	storeName string
	metadata  MetadataClient
	decoder   Deserializer

	mu           sync.RWMutex
	keySchema    *Schema
	valueSchemas map[int32]*Schema
	rmdSchemas   map[int32]*Schema
}

// NewSchemaRegistry returns a registry backed by metadata for storeName,
// decoding values with decoder (GenericJSONDecoder() if nil).
func NewSchemaRegistry(storeName string, metadata MetadataClient, decoder Deserializer) *SchemaRegistry {
	if decoder == nil {
		decoder = GenericJSONDecoder()
	}
	return &SchemaRegistry{
		storeName:    storeName,
		metadata:     metadata,
		decoder:      decoder,
		valueSchemas: make(map[int32]*Schema),
		rmdSchemas:   make(map[int32]*Schema),
	}
}

// KeySchema returns the store's key schema, fetching and caching it on
// first use (key schemas are immutable for a store's lifetime).
func (r *SchemaRegistry) KeySchema(ctx context.Context) (*Schema, error) {
	r.mu.RLock()
	if r.keySchema != nil {
		defer r.mu.RUnlock()
		return r.keySchema, nil
	}
	r.mu.RUnlock()

	s, err := r.metadata.GetKeySchema(ctx, r.storeName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaNotFound, err)
	}
	r.mu.Lock()
	r.keySchema = s
	r.mu.Unlock()
	return s, nil
}

// ValueSchema resolves and caches the value schema for schemaID.
func (r *SchemaRegistry) ValueSchema(ctx context.Context, schemaID int32) (*Schema, error) {
	r.mu.RLock()
	s, ok := r.valueSchemas[schemaID]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}
	s, err := r.metadata.GetValueSchema(ctx, r.storeName, schemaID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaNotFound, err)
	}
	r.mu.Lock()
	r.valueSchemas[schemaID] = s
	r.mu.Unlock()
	return s, nil
}

// ReplicationMetadataSchema resolves and caches the RMD schema for a given
// value schema id and RMD protocol version.
func (r *SchemaRegistry) ReplicationMetadataSchema(ctx context.Context, valueSchemaID int32, rmdVersion int) (*Schema, error) {
	key := valueSchemaID<<8 | int32(rmdVersion)
	r.mu.RLock()
	s, ok := r.rmdSchemas[key]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}
	s, err := r.metadata.GetReplicationMetadataSchema(ctx, r.storeName, valueSchemaID, rmdVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaNotFound, err)
	}
	r.mu.Lock()
	r.rmdSchemas[key] = s
	r.mu.Unlock()
	return s, nil
}

// Deserializer returns the configured Deserializer for decoding values.
// The reader schema is fixed at construction (no per-record schema
// evolution projection, per spec.md's non-goal), so writerSchemaID is
// accepted only to validate the payload against its own schema before
// decoding.
func (r *SchemaRegistry) Deserializer(ctx context.Context, writerSchemaID int32) (Deserializer, error) {
	s, err := r.ValueSchema(ctx, writerSchemaID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	err = s.compile()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return func(data []byte) (any, error) {
		if err := s.Validate(data); err != nil {
			return nil, err
		}
		return r.decoder(data)
	}, nil
}
