package metadata

import (
	"strings"
)

// DefaultNamespace always exists and cannot be removed.
const DefaultNamespace = "sysdefault"

// IndexState is the population state of an index.
type IndexState string

const (
	IndexPopulating IndexState = "POPULATING"
	IndexReady      IndexState = "READY"
)

// Namespace groups tables.
type Namespace struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Owner string `json:"owner,omitempty"`
}

// Index is a secondary index of a table.
type Index struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Fields      []string   `json:"fields"`
	Description string     `json:"description,omitempty"`
	State       IndexState `json:"state"`
}

// SameDefinition reports whether two indexes index the same fields.
// Names are compared case-insensitively, descriptions and state are ignored.
func (i *Index) SameDefinition(o *Index) bool {
	return strings.EqualFold(i.Name, o.Name) && EqualFoldSlices(i.Fields, o.Fields)
}

// Table is a table definition.
type Table struct {
	ID          string            `json:"id"`
	Namespace   string            `json:"namespace"`
	Name        string            `json:"name"`
	PrimaryKey  []string          `json:"primaryKey"`
	Fields      map[string]string `json:"fields"` // field name -> type
	Description string            `json:"description,omitempty"`
	Indexes     map[string]*Index `json:"indexes,omitempty"`
}

// FullName is namespace:name.
func (t *Table) FullName() string {
	return t.Namespace + ":" + t.Name
}

// SameDefinition reports whether two tables define the same persisted shape.
// Names, primary key and field map are compared case-insensitively. Descriptions,
// ids and indexes are ignored.
func (t *Table) SameDefinition(o *Table) bool {
	return strings.EqualFold(t.Namespace, o.Namespace) &&
		strings.EqualFold(t.Name, o.Name) &&
		EqualFoldSlices(t.PrimaryKey, o.PrimaryKey) &&
		EqualFoldMaps(t.Fields, o.Fields)
}

// HasField reports whether the table defines the field.
func (t *Table) HasField(name string) bool {
	for f := range t.Fields {
		if strings.EqualFold(f, name) {
			return true
		}
	}
	return false
}

// Index looks up an index by name.
func (t *Table) Index(name string) *Index {
	if t.Indexes == nil {
		return nil
	}
	return t.Indexes[nameKey(name)]
}

// PutIndex adds or replaces an index.
func (t *Table) PutIndex(idx *Index) {
	if t.Indexes == nil {
		t.Indexes = make(map[string]*Index)
	}
	t.Indexes[nameKey(idx.Name)] = idx
}

// RemoveIndex drops an index by name.
func (t *Table) RemoveIndex(name string) {
	delete(t.Indexes, nameKey(name))
}

// Validate checks the structural invariants of a table definition.
func (t *Table) Validate() error {
	if t.Name == "" || t.Namespace == "" {
		return Invalid("table needs a namespace and a name")
	}
	if len(t.PrimaryKey) == 0 {
		return Invalid("table %s needs a primary key", t.FullName())
	}
	for _, pk := range t.PrimaryKey {
		if !t.HasField(pk) {
			return Invalid("primary key field %q of table %s is not defined", pk, t.FullName())
		}
	}
	return nil
}

// TableCatalog holds namespaces and tables.
type TableCatalog struct {
	Seq        uint64                `json:"seq"`
	Namespaces map[string]*Namespace `json:"namespaces"`
	Tables     map[string]*Table     `json:"tables"`
}

// NewTableCatalog returns an empty catalog containing the default namespace.
func NewTableCatalog() *TableCatalog {
	c := &TableCatalog{
		Namespaces: make(map[string]*Namespace),
		Tables:     make(map[string]*Table),
	}
	c.PutNamespace(&Namespace{ID: "00000000-0000-0000-0000-000000000000", Name: DefaultNamespace})
	return c
}

func (c *TableCatalog) Kind() Kind             { return KindTable }
func (c *TableCatalog) Sequence() uint64       { return c.Seq }
func (c *TableCatalog) setSequence(seq uint64) { c.Seq = seq }

// Namespace looks up a namespace by name.
func (c *TableCatalog) Namespace(name string) *Namespace {
	return c.Namespaces[nameKey(name)]
}

// PutNamespace adds or replaces a namespace.
func (c *TableCatalog) PutNamespace(ns *Namespace) {
	c.Namespaces[nameKey(ns.Name)] = ns
}

// RemoveNamespace drops a namespace by name.
func (c *TableCatalog) RemoveNamespace(name string) {
	delete(c.Namespaces, nameKey(name))
}

// Table looks up a table by namespace and name.
func (c *TableCatalog) Table(ns, name string) *Table {
	return c.Tables[nameKey(ns, name)]
}

// PutTable adds or replaces a table.
func (c *TableCatalog) PutTable(t *Table) {
	c.Tables[nameKey(t.Namespace, t.Name)] = t
}

// RemoveTable drops a table.
func (c *TableCatalog) RemoveTable(ns, name string) {
	delete(c.Tables, nameKey(ns, name))
}

// TablesIn returns the tables of a namespace.
func (c *TableCatalog) TablesIn(ns string) []*Table {
	var out []*Table
	for _, t := range c.Tables {
		if strings.EqualFold(t.Namespace, ns) {
			out = append(out, t)
		}
	}
	return out
}
