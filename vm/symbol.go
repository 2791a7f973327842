package vm

import "fmt"

// SymbolKind distinguishes a code label from a data label; both share
// one namespace but are populated during different parts of pass 1.
type SymbolKind int

const (
	SymbolLabel SymbolKind = iota
	SymbolData
)

// Symbol binds a name to a segment-relative byte offset: relative to
// the start of the code segment for SymbolLabel, and relative to the
// start of the read-only segment for SymbolData. Neither this table nor
// the assembler adds the image header's fixed prefix, since the VM
// addresses each segment after AddBytes has stripped the header.
type Symbol struct {
	Name   string
	Kind   SymbolKind
	Offset uint32
}

// SymbolTable is append-only: once a name is bound it cannot be
// silently redefined. This mirrors the teacher's instruction-table
// idiom of building a map once from a single source of truth and never
// mutating an existing entry in place.
type SymbolTable struct {
	byName map[string]*Symbol
	order  []*Symbol
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{byName: make(map[string]*Symbol)}
}

// Declare registers a new symbol at the given offset. It is an error to
// declare the same name twice, even with the same offset - duplicate
// labels are a source-level mistake, not an idempotent no-op.
func (t *SymbolTable) Declare(name string, kind SymbolKind, offset uint32) error {
	if _, exists := t.byName[name]; exists {
		return fmt.Errorf("duplicate symbol: %s", name)
	}
	sym := &Symbol{Name: name, Kind: kind, Offset: offset}
	t.byName[name] = sym
	t.order = append(t.order, sym)
	return nil
}

// Lookup returns the symbol bound to name, if any.
func (t *SymbolTable) Lookup(name string) (Symbol, bool) {
	sym, ok := t.byName[name]
	if !ok {
		return Symbol{}, false
	}
	return *sym, true
}

// Has reports whether name has been declared.
func (t *SymbolTable) Has(name string) bool {
	_, ok := t.byName[name]
	return ok
}
