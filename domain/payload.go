package domain

import (
	"strings"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/ast"
)

// Payload is a command body together with its parsed tree. Handlers read
// fields from the tree instead of decoding the raw document again.
type Payload struct {
	raw  string
	root ast.Node
}

// ParsePayload parses raw once. An empty document is treated as {}.
func ParsePayload(raw string) (*Payload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return emptyPayload(), nil
	}
	root, err := sonic.GetFromString(raw)
	if err != nil {
		return nil, NewValidationError("error.msg.invalid.json", err.Error())
	}
	if err := root.LoadAll(); err != nil {
		return nil, NewValidationError("error.msg.invalid.json", err.Error())
	}
	return &Payload{raw: raw, root: root}, nil
}

func emptyPayload() *Payload {
	return &Payload{raw: "{}", root: ast.NewObject(nil)}
}

// Raw returns the document as submitted.
func (p *Payload) Raw() string { return p.raw }

// Node returns the parsed tree.
func (p *Payload) Node() *ast.Node { return &p.root }

// Has reports whether key is present at the top level.
func (p *Payload) Has(key string) bool {
	return p.root.Get(key).Exists()
}

// String reads a top-level string field.
func (p *Payload) String(key string) (string, bool) {
	n := p.root.Get(key)
	if !n.Exists() || n.TypeSafe() != ast.V_STRING {
		return "", false
	}
	v, err := n.String()
	return v, err == nil
}

// Int64 reads a top-level integer field.
func (p *Payload) Int64(key string) (int64, bool) {
	n := p.root.Get(key)
	if !n.Exists() || n.TypeSafe() != ast.V_NUMBER {
		return 0, false
	}
	v, err := n.Int64()
	return v, err == nil
}

// Float64 reads a top-level numeric field.
func (p *Payload) Float64(key string) (float64, bool) {
	n := p.root.Get(key)
	if !n.Exists() || n.TypeSafe() != ast.V_NUMBER {
		return 0, false
	}
	v, err := n.Float64()
	return v, err == nil
}

// Map returns the top-level object as plain Go values.
func (p *Payload) Map() (map[string]any, error) {
	return p.root.Map()
}
