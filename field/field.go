// Package field maps attribute values between the remote schema and the
// local store schema. Mapping tables and read-only sets are supplied per
// model at construction time; the processor makes no network calls.
package field

import (
	"fmt"
	"log/slog"
	"sort"

	syncErrors "github.com/geodbio/geosync/errors"
	"github.com/geodbio/geosync/logging"
	"github.com/geodbio/geosync/wkt"
)

// Type is the attribute type vocabulary shared with the remote schema.
type Type string

const (
	TypeString   Type = "string"
	TypeInteger  Type = "integer"
	TypeDecimal  Type = "decimal"
	TypeBoolean  Type = "boolean"
	TypeDate     Type = "date"
	TypeDateTime Type = "datetime"
	TypeGeometry Type = "geometry"
)

// DefaultReadOnlyFields are server-managed attributes that must never be
// sent in a push payload, regardless of model configuration.
var DefaultReadOnlyFields = []string{
	"id",
	"created_at",
	"updated_at",
	"created_by",
	"updated_by",
}

// Def describes one attribute in a model's schema.
type Def struct {
	// Name is the attribute name in the local store.
	Name string

	// Remote is the attribute name on the remote service. Empty means the
	// names match.
	Remote string

	// Type drives value coercion on both mapping directions.
	Type Type

	// Required attributes must be non-empty for a record to be pushed.
	Required bool
}

func (d Def) remoteName() string {
	if d.Remote != "" {
		return d.Remote
	}
	return d.Name
}

// Schema is the per-model mapping table.
type Schema struct {
	Model string
	Defs  []Def

	// ReadOnly lists remote attribute names excluded from push payloads,
	// in addition to DefaultReadOnlyFields.
	ReadOnly []string
}

// Processor applies a model's schema to attribute maps.
type Processor struct {
	schema    Schema
	byRemote  map[string]Def
	byLocal   map[string]Def
	readOnly  map[string]struct{}
	precision int
	logger    *logging.Logger
}

// NewProcessor builds a processor for one model. precision is the
// coordinate precision used when comparing geometry-typed values.
func NewProcessor(schema Schema, precision int) *Processor {
	p := &Processor{
		schema:    schema,
		byRemote:  make(map[string]Def, len(schema.Defs)),
		byLocal:   make(map[string]Def, len(schema.Defs)),
		readOnly:  make(map[string]struct{}),
		precision: precision,
		logger:    logging.WithComponent(logging.Component("field-processor")).WithModel(schema.Model),
	}
	for _, def := range schema.Defs {
		p.byRemote[def.remoteName()] = def
		p.byLocal[def.Name] = def
	}
	for _, name := range DefaultReadOnlyFields {
		p.readOnly[name] = struct{}{}
	}
	for _, name := range schema.ReadOnly {
		p.readOnly[name] = struct{}{}
	}
	return p
}

// IsReadOnly reports whether a remote attribute name is server-managed.
func (p *Processor) IsReadOnly(name string) bool {
	_, ok := p.readOnly[name]
	return ok
}

// MapToLocal converts a remote attribute map into local form. Unknown
// remote attributes are dropped with a logged warning. A coercion failure
// fails the whole record with a field mapping error naming the attribute.
func (p *Processor) MapToLocal(remote map[string]interface{}) (map[string]interface{}, error) {
	local := make(map[string]interface{}, len(remote))
	for name, value := range remote {
		def, ok := p.byRemote[name]
		if !ok {
			p.logger.Warn("dropping unknown remote attribute", slog.String("attribute", name))
			continue
		}
		coerced, err := coerceToLocal(value, def.Type)
		if err != nil {
			return nil, syncErrors.NewFieldMappingError(syncErrors.OpApply, name,
				fmt.Errorf("cannot coerce %q to %s: %w", name, def.Type, err))
		}
		local[def.Name] = coerced
	}
	return local, nil
}

// MapToRemote converts a local attribute map into remote form. Attributes
// whose remote name is read-only are always excluded so the engine never
// attempts to overwrite server-managed values. Local attributes absent
// from the schema are dropped with a logged warning.
func (p *Processor) MapToRemote(local map[string]interface{}) map[string]interface{} {
	remote := make(map[string]interface{}, len(local))
	for name, value := range local {
		def, ok := p.byLocal[name]
		if !ok {
			p.logger.Warn("dropping unmapped local attribute", slog.String("attribute", name))
			continue
		}
		remoteName := def.remoteName()
		if p.IsReadOnly(remoteName) {
			continue
		}
		remote[remoteName] = coerceToRemote(value, def.Type, p.precision)
	}
	return remote
}

// DiffFields returns the sorted local attribute names whose values differ
// between two maps. Scalars compare by exact equality; geometry-typed
// attributes compare within the configured coordinate precision.
func (p *Processor) DiffFields(before, after map[string]interface{}) []string {
	seen := make(map[string]struct{}, len(before)+len(after))
	var changed []string

	check := func(name string) {
		if _, done := seen[name]; done {
			return
		}
		seen[name] = struct{}{}

		a, inBefore := before[name]
		b, inAfter := after[name]
		if inBefore != inAfter {
			changed = append(changed, name)
			return
		}

		def, ok := p.byLocal[name]
		if ok && def.Type == TypeGeometry {
			if !p.geometryEqual(a, b) {
				changed = append(changed, name)
			}
			return
		}
		if !scalarEqual(a, b) {
			changed = append(changed, name)
		}
	}

	for name := range before {
		check(name)
	}
	for name := range after {
		check(name)
	}

	sort.Strings(changed)
	return changed
}

// Validate checks that every required attribute is present and non-empty.
// Used on the push path; a failure excludes the record from the batch.
func (p *Processor) Validate(fields map[string]interface{}) error {
	for _, def := range p.schema.Defs {
		if !def.Required {
			continue
		}
		value, ok := fields[def.Name]
		if !ok || isEmpty(value) {
			return syncErrors.NewValidationError(syncErrors.OpValidate,
				fmt.Errorf("required attribute %q is missing or empty", def.Name))
		}
	}
	return nil
}

func (p *Processor) geometryEqual(a, b interface{}) bool {
	ga, okA := asGeometry(a)
	gb, okB := asGeometry(b)
	if !okA || !okB {
		// Unparseable values fall back to exact comparison.
		return okA == okB && scalarEqual(a, b)
	}
	return wkt.Equal(ga, gb, p.precision)
}

func asGeometry(v interface{}) (*wkt.Geometry, bool) {
	switch g := v.(type) {
	case nil:
		return nil, true
	case *wkt.Geometry:
		return g, true
	case string:
		parsed, _, err := wkt.ParseEWKT(g)
		if err != nil {
			return nil, false
		}
		return parsed, true
	default:
		return nil, false
	}
}

func isEmpty(v interface{}) bool {
	switch value := v.(type) {
	case nil:
		return true
	case string:
		return value == ""
	case *wkt.Geometry:
		return value.IsEmpty()
	default:
		return false
	}
}
