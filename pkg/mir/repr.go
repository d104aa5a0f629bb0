package mir

import (
	"fmt"
	"strings"
)

// Repr renders a function as readable text, one block per paragraph.
func Repr(fn *Function) string {
	var sb strings.Builder
	vis := "pub "
	if !fn.IsPublic {
		vis = ""
	}
	if fn.IsStatic {
		vis += "static "
	}
	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = fmt.Sprintf("_%d %s: %s", p.Slot, p.Name, p.Type)
	}
	ret := "none"
	if fn.ReturnType != nil {
		ret = fn.ReturnType.String()
	}
	fmt.Fprintf(&sb, "%sfn %s(%s) -> %s", vis, fn.Name, strings.Join(params, ", "), ret)
	if len(fn.Annotations) > 0 {
		fmt.Fprintf(&sb, " %s", strings.Join(fn.Annotations.Strings(), " "))
	}
	sb.WriteString(" {\n")
	for _, l := range fn.Locals {
		fmt.Fprintf(&sb, "    let _%d %s: %s\n", l.Slot, l.Name, l.Type)
	}
	for _, b := range fn.Blocks {
		fmt.Fprintf(&sb, "  bb%d:\n", b.ID)
		for _, st := range b.Statements {
			fmt.Fprintf(&sb, "    %s\n", StmtString(st))
		}
		fmt.Fprintf(&sb, "    %s\n", TermString(b.Term))
	}
	sb.WriteString("}\n")
	return sb.String()
}

// Repr renders the whole project in sorted order.
func (p *ProjectMIR) Repr() string {
	var sb strings.Builder
	for _, name := range p.GlobalNames() {
		g := p.Globals[name]
		kw := "global"
		if g.IsStatic {
			kw = "static global"
		}
		fmt.Fprintf(&sb, "%s %s: %s\n", kw, g.Name, g.Type)
	}
	for _, name := range p.ExternNames() {
		fn := p.Externs[name]
		fmt.Fprintf(&sb, "extern %s %s\n", fn.Name, strings.Join(fn.Annotations.Strings(), " "))
	}
	for _, name := range p.FunctionNames() {
		sb.WriteString("\n")
		sb.WriteString(Repr(p.Functions[name]))
	}
	return sb.String()
}

// StmtString renders one statement.
func StmtString(st Statement) string {
	var s string
	switch v := st.(type) {
	case *Assign:
		s = fmt.Sprintf("%s = %s", PlaceString(v.Target), ValueString(v.Value))
	case *Call:
		args := make([]string, len(v.Args))
		for i, a := range v.Args {
			args[i] = ValueString(a)
		}
		s = fmt.Sprintf("%s(%s)", v.Callee, strings.Join(args, ", "))
		if v.Target != nil {
			s = PlaceString(v.Target) + " = " + s
		}
	default:
		return "<?>"
	}
	if tags := st.Tags(); len(tags) > 0 {
		s += " " + strings.Join(tags.Strings(), " ")
	}
	return s
}

// TermString renders a terminator.
func TermString(t Terminator) string {
	switch v := t.(type) {
	case *Goto:
		return fmt.Sprintf("goto bb%d", v.Target)
	case *Return:
		if v.Value == nil {
			return "return"
		}
		return "return " + ValueString(v.Value)
	case *If:
		return fmt.Sprintf("if %s then bb%d else bb%d", ValueString(v.Cond), v.Then, v.Else)
	default:
		return "<unterminated>"
	}
}

// PlaceString renders an lvalue.
func PlaceString(p LValue) string {
	switch v := p.(type) {
	case *Variable:
		return fmt.Sprintf("_%d", v.Slot)
	case *Deref:
		return "*" + ValueString(v.Ptr)
	case *Global:
		return "@" + v.Name
	default:
		return "<?>"
	}
}

// ValueString renders an rvalue.
func ValueString(v RValue) string {
	switch val := v.(type) {
	case *Use:
		return PlaceString(val.Place)
	case *Constant:
		return fmt.Sprintf("%d", val.Value)
	case *BinaryOp:
		return fmt.Sprintf("(%s %s %s)", ValueString(val.Left), val.Op, ValueString(val.Right))
	case *UnaryOp:
		return fmt.Sprintf("%s%s", val.Op, ValueString(val.Operand))
	case *AddressOf:
		return "&" + PlaceString(val.Place)
	default:
		return "<?>"
	}
}
