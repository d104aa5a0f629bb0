package annotate

import (
	"bytes"
	"fmt"

	"github.com/dave/jennifer/jen"
)

// StubPackage is the import path of this package, used by generated plugins.
const StubPackage = "github.com/chazu/carcinize/pkg/annotate"

// GeneratePluginStub produces Go source for a c-shared annotation plugin that
// answers every export with the Rules backend. It is a starting point for
// plugins wrapping a real text-generation client.
// Build with: go build -buildmode=c-shared -o annotator.so
func GeneratePluginStub() (string, error) {
	f := jen.NewFile("main")
	f.HeaderComment("Code generated by carcinize plugin-stub. Edit freely.")
	f.CgoPreamble("#include <stdlib.h>")

	f.Var().Id("backend").Op("=").Qual(StubPackage, "Rules").Values()
	f.Line()

	exports := []struct {
		symbol string
		query  string
		method string
		tags   bool
	}{
		{SymInferCallSemantics, "CallQuery", "InferCallSemantics", true},
		{SymModuleNarrative, "ModuleQuery", "ModuleNarrative", false},
		{SymUnsafeJustification, "UnsafeQuery", "UnsafeJustification", false},
	}
	for _, e := range exports {
		generateExport(f, e.symbol, e.query, e.method, e.tags)
		f.Line()
	}

	// CarcinizeFree releases strings returned by the other exports
	f.Comment("//export " + SymFree)
	f.Func().Id(SymFree).Params(jen.Id("p").Op("*").Qual("C", "char")).Block(
		jen.Qual("C", "free").Call(jen.Qual("unsafe", "Pointer").Call(jen.Id("p"))),
	)
	f.Line()

	f.Func().Id("reply").Params(jen.Id("r").Qual(StubPackage, "PluginResponse")).Op("*").Qual("C", "char").Block(
		jen.List(jen.Id("data"), jen.Id("err")).Op(":=").Qual("encoding/json", "Marshal").Call(jen.Id("r")),
		jen.If(jen.Err().Op("!=").Nil()).Block(
			jen.Return(jen.Qual("C", "CString").Call(jen.Lit(`{"error":"encoding reply"}`))),
		),
		jen.Return(jen.Qual("C", "CString").Call(jen.String().Call(jen.Id("data")))),
	)
	f.Line()

	// Required for c-shared build mode
	f.Func().Id("main").Params().Block()

	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return "", fmt.Errorf("rendering plugin stub: %w", err)
	}
	return buf.String(), nil
}

func generateExport(f *jen.File, symbol, query, method string, tags bool) {
	var answer jen.Code
	if tags {
		answer = jen.Id("Tags").Op(":").Qual(StubPackage, "TagStrings").Call(jen.Id("out"))
	} else {
		answer = jen.Id("Text").Op(":").Id("out")
	}

	f.Comment("//export " + symbol)
	f.Func().Id(symbol).Params(jen.Id("req").Op("*").Qual("C", "char")).Op("*").Qual("C", "char").Block(
		jen.Var().Id("q").Qual(StubPackage, query),
		jen.If(
			jen.Err().Op(":=").Qual("encoding/json", "Unmarshal").Call(
				jen.Index().Byte().Call(jen.Qual("C", "GoString").Call(jen.Id("req"))),
				jen.Op("&").Id("q"),
			),
			jen.Err().Op("!=").Nil(),
		).Block(
			jen.Return(jen.Id("reply").Call(jen.Qual(StubPackage, "PluginResponse").Values(
				jen.Id("Error").Op(":").Err().Dot("Error").Call(),
			))),
		),
		jen.List(jen.Id("out"), jen.Err()).Op(":=").Id("backend").Dot(method).Call(
			jen.Qual("context", "Background").Call(), jen.Id("q"),
		),
		jen.If(jen.Err().Op("!=").Nil()).Block(
			jen.Return(jen.Id("reply").Call(jen.Qual(StubPackage, "PluginResponse").Values(
				jen.Id("Error").Op(":").Err().Dot("Error").Call(),
			))),
		),
		jen.Return(jen.Id("reply").Call(jen.Qual(StubPackage, "PluginResponse").Values(answer))),
	)
}
