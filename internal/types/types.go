package types

// Fields is a document body: field name -> value. Values are plain
// JSON-shaped data (string, float64, bool, nil, []any, Fields).
type Fields map[string]interface{}

// Document is one identified record. Identity is (collection, ID); the
// collection is carried alongside the document by whoever holds it.
type Document struct {
	ID     string
	Fields Fields
}

// DocKey identifies a document across collections.
type DocKey struct {
	Collection string
	ID         string
}

// Clone returns a shallow copy of the field set. Mutating nested values still
// aliases the original.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Clone copies the document with a cloned field set.
func (d Document) Clone() Document {
	return Document{ID: d.ID, Fields: d.Fields.Clone()}
}
