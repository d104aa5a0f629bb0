package mir

// Binding is what a name resolves to inside a function body.
type Binding struct {
	Slot   Slot
	Type   Type
	Global string // set when the name refers to a hoisted static local
}

// Scope tracks variable bindings for name resolution.
type Scope struct {
	parent   *Scope
	bindings map[string]Binding
}

// NewScope creates a new scope with the given parent.
func NewScope(parent *Scope) *Scope {
	return &Scope{
		parent:   parent,
		bindings: make(map[string]Binding),
	}
}

// Define adds a variable binding to the scope, shadowing outer bindings.
func (s *Scope) Define(name string, b Binding) {
	s.bindings[name] = b
}

// Resolve looks up a variable in this scope and parent scopes.
func (s *Scope) Resolve(name string) (Binding, bool) {
	if b, ok := s.bindings[name]; ok {
		return b, true
	}
	if s.parent != nil {
		return s.parent.Resolve(name)
	}
	return Binding{}, false
}

// Parent returns the enclosing scope.
func (s *Scope) Parent() *Scope {
	return s.parent
}
