package codegen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chazu/carcinize/pkg/analysis"
	"github.com/chazu/carcinize/pkg/annotate"
	"github.com/chazu/carcinize/pkg/mir"
)

// snapshot is the read-only input shared by every rendering task.
type snapshot struct {
	opts     Options
	svc      annotate.Service
	project  *mir.ProjectMIR
	results  *analysis.ProjectResults
	globals  map[string]string // C name -> Rust name
	fnModule map[string]string // function name -> module
}

// moduleStats is what one rendering task reports back.
type moduleStats struct {
	unsafeRegions int
	fallbacks     int
	warnings      []string
}

func (s *moduleStats) warnf(format string, args ...interface{}) {
	s.warnings = append(s.warnings, fmt.Sprintf(format, args...))
}

// renderModule renders one module file. Functions appear in the given order;
// blocks and statements in MIR order.
func (s *snapshot) renderModule(ctx context.Context, module, file string, fns []string) (string, *moduleStats) {
	stats := &moduleStats{}
	e := &emitter{}

	e.comment("//!", s.moduleNarrative(ctx, module, file, stats))
	for _, name := range fns {
		e.line("")
		fr := s.newFuncRenderer(ctx, s.project.Functions[name], module, file, e, stats)
		fr.render()
	}
	return e.String(), stats
}

func (s *snapshot) moduleNarrative(ctx context.Context, module, file string, stats *moduleStats) string {
	text, err := ask(ctx, s.opts.AnnotationTimeout, func(ctx context.Context) (string, error) {
		return s.svc.ModuleNarrative(ctx, annotate.ModuleQuery{
			Module:  module,
			File:    file,
			Project: s.opts.ProjectName,
			Summary: s.opts.ProjectSummary,
		})
	})
	if err == nil && strings.TrimSpace(text) != "" {
		return text
	}
	stats.fallbacks++
	if file == "" {
		return fmt.Sprintf("Module `%s`, holding functions without a tracked source file.", module)
	}
	return fmt.Sprintf("Module `%s`, translated from `%s`.", module, file)
}

// ask runs one annotation request with a deadline. A request that ignores
// its context is abandoned when the deadline passes.
func ask(ctx context.Context, timeout time.Duration, request func(context.Context) (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type answer struct {
		text string
		err  error
	}
	done := make(chan answer, 1)
	go func() {
		text, err := request(ctx)
		done <- answer{text, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-done:
		return a.text, a.err
	}
}

// funcRenderer renders one function.
type funcRenderer struct {
	s       *snapshot
	ctx     context.Context
	fn      *mir.Function
	module  string
	file    string
	e       *emitter
	stats   *moduleStats
	names   map[mir.Slot]string
	results *analysis.FunctionResults
	dead    map[[2]int]bool
}

func (s *snapshot) newFuncRenderer(ctx context.Context, fn *mir.Function, module, file string, e *emitter, stats *moduleStats) *funcRenderer {
	fr := &funcRenderer{
		s:       s,
		ctx:     ctx,
		fn:      fn,
		module:  module,
		file:    file,
		e:       e,
		stats:   stats,
		names:   make(map[mir.Slot]string),
		results: s.results.Function(fn.Name),
		dead:    make(map[[2]int]bool),
	}

	used := map[string]bool{"bb": true}
	bind := func(slot mir.Slot, name string) {
		if name == "" {
			name = fmt.Sprintf("_t%d", slot)
		}
		name = ident(name)
		if used[name] {
			name = fmt.Sprintf("%s_%d", strings.TrimPrefix(name, "r#"), slot)
		}
		used[name] = true
		fr.names[slot] = name
	}
	for _, p := range fn.Params {
		bind(p.Slot, p.Name)
	}
	for _, l := range fn.Locals {
		bind(l.Slot, l.Name)
	}

	if fr.results != nil && fr.results.DeadStores != nil {
		for _, d := range fr.results.DeadStores.Stores {
			fr.dead[[2]int{int(d.Block), d.Index}] = true
		}
	}
	return fr
}

func (fr *funcRenderer) returnType() mir.Type {
	if fr.fn.ReturnType == nil {
		return mir.VoidType()
	}
	return *fr.fn.ReturnType
}

func (fr *funcRenderer) render() {
	fn, e := fr.fn, fr.e

	e.line("/// C function `%s`.", fn.Name)
	if fn.Variadic {
		e.line("///")
		e.line("/// Variadic in C; extra arguments are not accepted.")
		fr.stats.warnf("%s: variadic parameters dropped", fn.Name)
	}
	if len(fn.Annotations) > 0 {
		e.line("///")
		for _, tag := range fn.Annotations.Strings() {
			e.line("/// - %s", tag)
		}
	}
	if len(fr.dead) > 0 {
		e.line("#[allow(unused_assignments)]")
	}

	vis := "pub "
	if fn.IsStatic {
		vis = ""
	}
	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = fmt.Sprintf("%s: %s", fr.names[p.Slot], RustType(p.Type))
	}
	ret := ""
	if rt := fr.returnType(); !isUnit(rt) {
		ret = " -> " + RustType(rt)
	}
	e.line("%sfn %s(%s)%s {", vis, ident(fn.Name), strings.Join(params, ", "), ret)
	e.in()

	if len(fn.Blocks) == 0 {
		fr.stats.warnf("%s: no body could be translated", fn.Name)
		e.line("unimplemented!(%q)", fn.Name+" could not be translated")
		e.out()
		e.line("}")
		return
	}

	mutable := fr.mutableParams()
	for _, p := range fn.Params {
		if mutable[p.Slot] {
			e.line("let mut %s = %s;", fr.names[p.Slot], fr.names[p.Slot])
		}
	}
	for _, l := range fn.Locals {
		e.line("let mut %s: %s = %s;", fr.names[l.Slot], RustType(l.Type), defaultValue(l.Type))
	}

	if len(fn.Blocks) == 1 {
		if ret, ok := fn.Blocks[0].Term.(*mir.Return); ok {
			fr.renderStatements(fn.Blocks[0])
			fr.renderReturn(ret)
			e.out()
			e.line("}")
			return
		}
	}

	e.line("let mut bb: usize = 0;")
	e.line("loop {")
	e.in()
	e.line("match bb {")
	e.in()
	for _, blk := range fn.Blocks {
		e.line("%d => {", blk.ID)
		e.in()
		if fr.results != nil && fr.results.Reachability != nil && !fr.results.Reachability.Reachable(blk.ID) {
			e.line("// unreachable")
		}
		fr.renderStatements(blk)
		fr.renderTerminator(blk.Term)
		e.out()
		e.line("}")
	}
	e.line("_ => unreachable!(),")
	e.out()
	e.line("}")
	e.out()
	e.line("}")
	e.out()
	e.line("}")
}

// mutableParams finds parameters that are assigned or have their address taken.
func (fr *funcRenderer) mutableParams() map[mir.Slot]bool {
	out := make(map[mir.Slot]bool)
	var visitValue func(v mir.RValue)
	visitValue = func(v mir.RValue) {
		switch x := v.(type) {
		case *mir.AddressOf:
			if vr, ok := x.Place.(*mir.Variable); ok {
				out[vr.Slot] = true
			}
		case *mir.BinaryOp:
			visitValue(x.Left)
			visitValue(x.Right)
		case *mir.UnaryOp:
			visitValue(x.Operand)
		case *mir.Use:
			if d, ok := x.Place.(*mir.Deref); ok {
				visitValue(d.Ptr)
			}
		}
	}
	visitPlace := func(p mir.LValue) {
		switch x := p.(type) {
		case *mir.Variable:
			out[x.Slot] = true
		case *mir.Deref:
			visitValue(x.Ptr)
		}
	}
	for _, blk := range fr.fn.Blocks {
		for _, st := range blk.Statements {
			switch x := st.(type) {
			case *mir.Assign:
				visitPlace(x.Target)
				visitValue(x.Value)
			case *mir.Call:
				if x.Target != nil {
					visitPlace(x.Target)
				}
				for _, a := range x.Args {
					visitValue(a)
				}
			}
		}
		if t, ok := blk.Term.(*mir.If); ok {
			visitValue(t.Cond)
		}
		if t, ok := blk.Term.(*mir.Return); ok && t.Value != nil {
			visitValue(t.Value)
		}
	}

	params := make(map[mir.Slot]bool)
	for _, p := range fr.fn.Params {
		if out[p.Slot] {
			params[p.Slot] = true
		}
	}
	return params
}

func (fr *funcRenderer) renderStatements(blk *mir.BasicBlock) {
	for i, st := range blk.Statements {
		for _, tag := range st.Tags().Strings() {
			fr.e.line("// %s", tag)
		}
		if fr.dead[[2]int{int(blk.ID), i}] {
			fr.e.line("// dead store")
		}
		fr.renderStatement(st)
	}
}

func (fr *funcRenderer) renderStatement(st mir.Statement) {
	text := fr.statement(st)
	reason := UnsafeReason(st)
	if reason == ReasonNone {
		fr.e.raw(text)
		return
	}

	fr.stats.unsafeRegions++
	fr.e.comment("//", "SAFETY: "+fr.justify(st, text, reason))
	fr.e.line("unsafe {")
	fr.e.in()
	fr.e.raw(text)
	fr.e.out()
	fr.e.line("}")
}

// justify asks the annotation service why st is unsafe. Any failure, timeout
// or empty answer falls back to the reason code.
func (fr *funcRenderer) justify(st mir.Statement, target string, reason Reason) string {
	text, err := ask(fr.ctx, fr.s.opts.AnnotationTimeout, func(ctx context.Context) (string, error) {
		return fr.s.svc.UnsafeJustification(ctx, annotate.UnsafeQuery{
			Project:  fr.s.opts.ProjectName,
			File:     fr.file,
			Function: fr.fn.Name,
			Source:   mir.StmtString(st),
			Target:   target,
			Reason:   string(reason),
		})
	})
	if err != nil || strings.TrimSpace(text) == "" {
		fr.stats.fallbacks++
		return string(reason)
	}
	return strings.TrimSpace(text)
}

func (fr *funcRenderer) statement(st mir.Statement) string {
	switch s := st.(type) {
	case *mir.Assign:
		val, vt := fr.value(s.Value)
		return fr.store(s.Target, val, vt)
	case *mir.Call:
		return fr.call(s)
	}
	return fmt.Sprintf("// unsupported statement %T", st)
}

func (fr *funcRenderer) renderReturn(t *mir.Return) {
	rt := fr.returnType()
	if isUnit(rt) {
		if t.Value != nil {
			if v, vt := fr.value(t.Value); !isUnit(vt) {
				fr.e.line("let _ = %s;", v)
			}
		}
		fr.e.line("return;")
		return
	}
	if t.Value == nil {
		fr.e.line("return %s;", defaultValue(rt))
		return
	}
	v, vt := fr.value(t.Value)
	fr.e.line("return %s;", fr.coerce(v, vt, rt))
}

func (fr *funcRenderer) renderTerminator(t mir.Terminator) {
	switch x := t.(type) {
	case *mir.Return:
		fr.renderReturn(x)
	case *mir.Goto:
		fr.e.line("bb = %d;", x.Target)
		fr.e.line("continue;")
	case *mir.If:
		if x.Then == x.Else {
			fr.e.line("bb = %d;", x.Then)
		} else {
			fr.e.line("if %s { bb = %d; } else { bb = %d; }", fr.condition(x.Cond), x.Then, x.Else)
		}
		fr.e.line("continue;")
	default:
		fr.e.line("unreachable!();")
	}
}

// store renders an assignment of expr (of type vt) into place.
func (fr *funcRenderer) store(place mir.LValue, expr string, vt mir.Type) string {
	switch p := place.(type) {
	case *mir.Variable:
		tt := fr.fn.SlotType(p.Slot)
		if isUnit(tt) {
			return fmt.Sprintf("let _ = %s;", expr)
		}
		return fmt.Sprintf("%s = %s;", fr.names[p.Slot], fr.coerce(expr, vt, tt))
	case *mir.Global:
		g, path := fr.global(p.Name)
		if g == nil || isUnit(g.Type) {
			return fmt.Sprintf("let _ = %s;", expr)
		}
		val := fr.coerce(expr, vt, g.Type)
		if g.IsStatic && g.Type.IsPointer() {
			return fmt.Sprintf("{ let v = %s; *%s.lock().unwrap() = v as usize; }", val, path)
		}
		if g.IsStatic {
			return fmt.Sprintf("{ let v = %s; *%s.lock().unwrap() = v; }", val, path)
		}
		return fmt.Sprintf("unsafe { %s = %s; }", path, val)
	case *mir.Deref:
		ptr, elem := fr.pointer(p.Ptr)
		if isUnit(elem) {
			return fmt.Sprintf("let _ = %s;", expr)
		}
		return fmt.Sprintf("unsafe { *%s = %s; }", paren(ptr), fr.coerce(expr, vt, elem))
	}
	return fmt.Sprintf("let _ = %s;", expr)
}

func (fr *funcRenderer) call(c *mir.Call) string {
	if isForeign(c.Callee) {
		args := make([]string, len(c.Args))
		for i, a := range c.Args {
			v, _ := fr.value(a)
			args[i] = paren(v) + " as _"
		}
		call := fmt.Sprintf("%s(%s)", c.Callee, strings.Join(args, ", "))
		if c.Target == nil {
			return call + ";"
		}
		tt := fr.placeType(c.Target)
		if isUnit(tt) {
			return fmt.Sprintf("let _ = %s;", call)
		}
		return fr.store(c.Target, call+" as _", tt)
	}

	callee := fr.s.project.Functions[c.Callee]
	path := ident(c.Callee)
	if m, ok := fr.s.fnModule[c.Callee]; ok && m != fr.module {
		path = "crate::" + m + "::" + path
	}

	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		v, vt := fr.value(a)
		if callee != nil && i < len(callee.Params) {
			v = fr.coerce(v, vt, callee.Params[i].Type)
		}
		args[i] = v
	}
	if callee != nil && callee.Variadic && len(args) > len(callee.Params) {
		fr.stats.warnf("%s: extra variadic arguments to %s dropped", fr.fn.Name, c.Callee)
		args = args[:len(callee.Params)]
	}
	call := fmt.Sprintf("%s(%s)", path, strings.Join(args, ", "))

	rt := mir.UnknownType()
	if callee != nil && callee.ReturnType != nil {
		rt = *callee.ReturnType
	}
	if c.Target == nil {
		return call + ";"
	}
	return fr.store(c.Target, call, rt)
}

func (fr *funcRenderer) global(name string) (*mir.GlobalVar, string) {
	g := fr.s.project.Globals[name]
	rn, ok := fr.s.globals[name]
	if !ok {
		rn = strings.ToUpper(name)
	}
	return g, "crate::" + GlobalsModule + "::" + rn
}

func (fr *funcRenderer) placeType(p mir.LValue) mir.Type {
	switch x := p.(type) {
	case *mir.Variable:
		return fr.fn.SlotType(x.Slot)
	case *mir.Global:
		if g := fr.s.project.Globals[x.Name]; g != nil {
			return g.Type
		}
	case *mir.Deref:
		_, elem := fr.pointer(x.Ptr)
		return elem
	}
	return mir.UnknownType()
}

// pointer renders v as a raw pointer and returns its element type.
func (fr *funcRenderer) pointer(v mir.RValue) (string, mir.Type) {
	ptr, pt := fr.value(v)
	if pt.IsPointer() {
		return ptr, pt.Pointee()
	}
	return fr.coerce(ptr, pt, mir.PointerTo(mir.IntType())), mir.IntType()
}

// value renders an rvalue and returns its type.
func (fr *funcRenderer) value(v mir.RValue) (string, mir.Type) {
	switch x := v.(type) {
	case *mir.Use:
		return fr.read(x.Place)
	case *mir.Constant:
		return fmt.Sprint(x.Value), mir.IntType()
	case *mir.BinaryOp:
		return fr.binary(x)
	case *mir.UnaryOp:
		return fr.unary(x)
	case *mir.AddressOf:
		return fr.addressOf(x.Place)
	}
	return "()", mir.UnknownType()
}

func (fr *funcRenderer) read(p mir.LValue) (string, mir.Type) {
	switch x := p.(type) {
	case *mir.Variable:
		return fr.names[x.Slot], fr.fn.SlotType(x.Slot)
	case *mir.Global:
		g, path := fr.global(x.Name)
		if g == nil {
			return "()", mir.UnknownType()
		}
		if g.IsStatic && g.Type.IsPointer() {
			return fmt.Sprintf("{ let v = *%s.lock().unwrap(); v as %s }", path, RustType(g.Type)), g.Type
		}
		if g.IsStatic {
			return fmt.Sprintf("{ let v = *%s.lock().unwrap(); v }", path), g.Type
		}
		return fmt.Sprintf("unsafe { %s }", path), g.Type
	case *mir.Deref:
		ptr, elem := fr.pointer(x.Ptr)
		return fmt.Sprintf("unsafe { *%s }", paren(ptr)), elem
	}
	return "()", mir.UnknownType()
}

func (fr *funcRenderer) addressOf(p mir.LValue) (string, mir.Type) {
	switch x := p.(type) {
	case *mir.Variable:
		return fmt.Sprintf("std::ptr::addr_of_mut!(%s)", fr.names[x.Slot]), mir.PointerTo(fr.fn.SlotType(x.Slot))
	case *mir.Global:
		g, path := fr.global(x.Name)
		if g == nil {
			return "std::ptr::null_mut()", mir.PointerTo(mir.UnknownType())
		}
		if g.IsStatic {
			cell := "&mut *g as *mut " + cellType(g.Type)
			if g.Type.IsPointer() {
				cell += " as *mut " + RustType(g.Type)
			}
			return fmt.Sprintf("{ let mut g = %s.lock().unwrap(); %s }", path, cell), mir.PointerTo(g.Type)
		}
		return fmt.Sprintf("std::ptr::addr_of_mut!(%s)", path), mir.PointerTo(g.Type)
	case *mir.Deref:
		ptr, elem := fr.pointer(x.Ptr)
		return ptr, mir.PointerTo(elem)
	}
	return "std::ptr::null_mut()", mir.PointerTo(mir.UnknownType())
}

// unify picks the common operand type for arithmetic and comparison.
func unify(lt, rt mir.Type) mir.Type {
	switch {
	case lt.IsPointer():
		return lt
	case rt.IsPointer():
		return rt
	case lt.Kind == mir.KindFloat || rt.Kind == mir.KindFloat:
		return mir.FloatType()
	}
	return mir.IntType()
}

func (fr *funcRenderer) binary(x *mir.BinaryOp) (string, mir.Type) {
	l, lt := fr.value(x.Left)
	r, rt := fr.value(x.Right)

	switch x.Op {
	case mir.Add, mir.Sub:
		switch {
		case lt.IsPointer() && rt.IsPointer() && x.Op == mir.Sub:
			return fmt.Sprintf("(unsafe { %s.offset_from(%s) }) as i32", paren(l), r), mir.IntType()
		case lt.IsPointer() && !rt.IsPointer():
			off := paren(fr.coerce(r, rt, mir.IntType())) + " as isize"
			if x.Op == mir.Sub {
				off = "-(" + off + ")"
			}
			return fmt.Sprintf("%s.wrapping_offset(%s)", paren(l), off), lt
		case rt.IsPointer() && !lt.IsPointer() && x.Op == mir.Add:
			return fmt.Sprintf("%s.wrapping_offset(%s as isize)", paren(r), paren(fr.coerce(l, lt, mir.IntType()))), rt
		}
	case mir.And, mir.Or:
		return fmt.Sprintf("(%s %s %s) as i32", fr.truth(l, lt), x.Op, fr.truth(r, rt)), mir.IntType()
	}

	if x.Op.IsComparison() {
		t := unify(lt, rt)
		return fmt.Sprintf("(%s %s %s) as i32", paren(fr.coerce(l, lt, t)), x.Op, paren(fr.coerce(r, rt, t))), mir.IntType()
	}

	t := unify(lt, rt)
	switch x.Op {
	case mir.Add, mir.Sub, mir.Mul, mir.Div, mir.Mod:
		if t.IsPointer() {
			t = mir.IntType()
		}
	default:
		t = mir.IntType()
	}
	return fmt.Sprintf("%s %s %s", paren(fr.coerce(l, lt, t)), x.Op, paren(fr.coerce(r, rt, t))), t
}

func (fr *funcRenderer) unary(x *mir.UnaryOp) (string, mir.Type) {
	v, t := fr.value(x.Operand)
	switch x.Op {
	case mir.Not:
		return fmt.Sprintf("(!%s) as i32", paren(fr.truth(v, t))), mir.IntType()
	case mir.Neg:
		if t.Kind == mir.KindFloat {
			return "-" + paren(v), t
		}
		return "-" + paren(fr.coerce(v, t, mir.IntType())), mir.IntType()
	default:
		return "!" + paren(fr.coerce(v, t, mir.IntType())), mir.IntType()
	}
}

// truthUntyped is the condition used for a value with no scalar type.
const truthUntyped = "false"

// truth renders a C scalar as a Rust bool. A value without a scalar type
// has no truth value and is reported.
func (fr *funcRenderer) truth(v string, t mir.Type) string {
	if isUnit(t) {
		fr.stats.warnf("%s: `%s` has no scalar type; tested as %s", fr.fn.Name, v, truthUntyped)
		return truthUntyped
	}
	return truth(v, t)
}

// coerce converts expr like the package-level coerce, reporting values of
// unknown type that are replaced by the zero value of to.
func (fr *funcRenderer) coerce(expr string, from, to mir.Type) string {
	if isUnit(from) && !isUnit(to) {
		fr.stats.warnf("%s: `%s` has no type; replaced by %s", fr.fn.Name, expr, defaultValue(to))
	}
	return coerce(expr, from, to)
}

// truth renders a C scalar as a Rust bool.
func truth(v string, t mir.Type) string {
	switch t.Kind {
	case mir.KindFloat:
		return paren(v) + " != 0.0"
	case mir.KindPointer:
		return "!" + paren(v) + ".is_null()"
	case mir.KindInt:
		return paren(v) + " != 0"
	}
	return truthUntyped
}

// condition renders a branch condition as a Rust bool.
func (fr *funcRenderer) condition(v mir.RValue) string {
	switch x := v.(type) {
	case *mir.BinaryOp:
		if x.Op == mir.And || x.Op == mir.Or {
			l, lt := fr.value(x.Left)
			r, rt := fr.value(x.Right)
			return fmt.Sprintf("(%s) %s (%s)", fr.truth(l, lt), x.Op, fr.truth(r, rt))
		}
		if x.Op.IsComparison() {
			l, lt := fr.value(x.Left)
			r, rt := fr.value(x.Right)
			t := unify(lt, rt)
			return fmt.Sprintf("%s %s %s", paren(fr.coerce(l, lt, t)), x.Op, paren(fr.coerce(r, rt, t)))
		}
	case *mir.UnaryOp:
		if x.Op == mir.Not {
			o, t := fr.value(x.Operand)
			return "!(" + fr.truth(o, t) + ")"
		}
	}
	s, t := fr.value(v)
	return fr.truth(s, t)
}
