package main

// SymbolTable maps exported names of the placed image to absolute EXEC
// addresses. It is immutable once built; a new load replaces it whole.
type SymbolTable struct {
	addrs map[string]uint32
	base  uint32
}

// BuildSymbolTable decodes the symbol table of a validated image. Each
// address is execBase plus the offset recorded in the image. When a name
// appears more than once the last entry wins.
func BuildSymbolTable(hdr *ImageHeader, buf []byte, execBase uint32) (*SymbolTable, error) {
	syms, err := decodeSymbols(hdr, buf)
	if err != nil {
		return nil, err
	}
	t := &SymbolTable{
		addrs: make(map[string]uint32, len(syms)),
		base:  execBase,
	}
	for _, s := range syms {
		t.addrs[s.Name] = execBase + s.Offset
	}
	return t, nil
}

// Resolve returns the absolute address of name.
func (t *SymbolTable) Resolve(name string) (uint32, error) {
	if t == nil {
		return 0, ErrNotFound
	}
	addr, ok := t.addrs[name]
	if !ok {
		return 0, ErrNotFound
	}
	return addr, nil
}

// Len returns the number of distinct names.
func (t *SymbolTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.addrs)
}

// Symbols lists the table ordered by address, offsets relative to the
// EXEC base.
func (t *SymbolTable) Symbols() []Symbol {
	if t == nil {
		return nil
	}
	out := make([]Symbol, 0, len(t.addrs))
	for name, addr := range t.addrs {
		out = append(out, Symbol{Name: name, Offset: addr - t.base})
	}
	sortSymbols(out)
	return out
}
