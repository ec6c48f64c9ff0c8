package adops

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var (
	ErrUnsupportedEntity = errors.New("unsupported entity type")
	ErrInvalidOperation  = errors.New("invalid operation")
)

// FieldError reports a required field that failed coercion or is missing.
type FieldError struct {
	ObjectType string
	Field      string
	Reason     string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid field %s.%s: %s", e.ObjectType, e.Field, e.Reason)
}

func (e *FieldError) Is(target error) bool {
	return target == ErrInvalidOperation
}

// Verb is the mutation verb understood by the remote API.
type Verb string

const (
	VerbAdd    Verb = "ADD"
	VerbSet    Verb = "SET"
	VerbRemove Verb = "REMOVE"
)

// Operation is a caller-supplied, entity-agnostic description of one desired
// change. It is consumed once by the Dispatcher and not retained afterward.
type Operation struct {
	ObjectType string
	ClientID   int64
	Verb       Verb
	Fields     map[string]any
}

// Envelope is one entity-specific remote operation. Kind is the remote
// discriminator; envelopes with equal kinds must be uploaded contiguously and
// in insertion order so the remote system can resolve temporary IDs.
type Envelope struct {
	Kind    string         `json:"kind"`
	Verb    Verb           `json:"operator"`
	Operand map[string]any `json:"operand"`
}

const operationSchemaJSON = `{
	"type": "object",
	"properties": {
		"object_type": {"type": "string", "minLength": 1},
		"client_id": {"type": "integer"},
		"operator": {"enum": ["ADD", "SET", "REMOVE", "add", "set", "remove"]}
	},
	"required": ["object_type", "client_id"]
}`

var operationSchema = mustCompileOperationSchema()

func mustCompileOperationSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(operationSchemaJSON))
	if err != nil {
		panic(err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("operation.json", doc); err != nil {
		panic(err)
	}
	schema, err := compiler.Compile("operation.json")
	if err != nil {
		panic(err)
	}
	return schema
}

// ParseRecord validates a raw JSON operation record against the operation
// schema and decodes it into an Operation. Unknown object types are rejected
// here, before the record ever reaches a dispatcher.
func ParseRecord(raw []byte) (Operation, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Operation{}, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	if err := operationSchema.Validate(doc); err != nil {
		return Operation{}, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}

	var fields map[string]any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&fields); err != nil {
		return Operation{}, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}

	objectType := strings.TrimSpace(toString(fields["object_type"]))
	if _, ok := entitySpecs[objectType]; !ok {
		return Operation{}, fmt.Errorf("%w: %s", ErrUnsupportedEntity, objectType)
	}
	clientID, err := jsonInt64(fields["client_id"])
	if err != nil {
		return Operation{}, fmt.Errorf("%w: client_id: %v", ErrInvalidOperation, err)
	}
	verb := VerbAdd
	if rawVerb, ok := fields["operator"]; ok {
		verb = Verb(strings.ToUpper(strings.TrimSpace(toString(rawVerb))))
	}
	delete(fields, "object_type")
	delete(fields, "client_id")
	delete(fields, "operator")
	normalizeJSONNumbers(fields)

	return Operation{
		ObjectType: objectType,
		ClientID:   clientID,
		Verb:       verb,
		Fields:     fields,
	}, nil
}

func jsonInt64(value any) (int64, error) {
	if number, ok := value.(json.Number); ok {
		return number.Int64()
	}
	return toInt64(value)
}

// normalizeJSONNumbers rewrites json.Number values into int64 where integral
// and float64 otherwise, so downstream coercion sees plain Go numbers.
func normalizeJSONNumbers(fields map[string]any) {
	for key, value := range fields {
		fields[key] = normalizeJSONValue(value)
	}
}

func normalizeJSONValue(value any) any {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case []any:
		for i, item := range v {
			v[i] = normalizeJSONValue(item)
		}
		return v
	case map[string]any:
		for key, item := range v {
			v[key] = normalizeJSONValue(item)
		}
		return v
	default:
		return value
	}
}
