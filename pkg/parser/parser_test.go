package parser_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/parser"
	"github.com/kotadb/kotadb/pkg/symbol"
)

const goSample = `package widget

import "fmt"

type Widget struct {
	Name string
}

func (w *Widget) Render() string {
	return fmt.Sprintf(w.Name)
}

func NewWidget(name string) *Widget {
	return &Widget{Name: name}
}
`

func TestExtract_Go_FindsStructMethodAndCalls(t *testing.T) {
	t.Parallel()

	analysis, err := parser.Extract(context.Background(), "widget.go", "go", []byte(goSample))
	require.NoError(t, err)

	require.NotEmpty(t, analysis.Imports)
	require.Equal(t, "fmt", analysis.Imports[0].Path)

	var sawStruct, sawMethod, sawFunc bool
	for _, s := range analysis.Symbols {
		switch {
		case s.Kind == symbol.KindStruct && s.Name == "Widget":
			sawStruct = true
		case s.Kind == symbol.KindMethod && s.Name == "Render":
			sawMethod = true
		case s.Kind == symbol.KindFunction && s.Name == "NewWidget":
			sawFunc = true
		}
	}
	require.True(t, sawStruct, "expected Widget struct symbol")
	require.True(t, sawMethod, "expected Render method symbol")
	require.True(t, sawFunc, "expected NewWidget function symbol")

	var sawMethodCall bool
	for _, r := range analysis.References {
		if r.Kind == parser.MethodCall && r.Name == "Sprintf" {
			sawMethodCall = true
		}
	}
	require.True(t, sawMethodCall, "expected fmt.Sprintf to be recorded as a MethodCall reference")
}

func TestExtract_UnsupportedLanguageIsInvalidArgument(t *testing.T) {
	t.Parallel()

	_, err := parser.Extract(context.Background(), "f.zig", "zig", []byte("const x = 1;"))
	require.Error(t, err)
	require.Equal(t, kotaerr.InvalidArgument, kotaerr.Of(err))
}

func TestLanguageForExtension(t *testing.T) {
	t.Parallel()

	lang, ok := parser.LanguageForExtension("rs")
	require.True(t, ok)
	require.Equal(t, "rust", lang)

	_, ok = parser.LanguageForExtension("md")
	require.False(t, ok)
}

func TestSymbolID_DeterministicAcrossCalls(t *testing.T) {
	t.Parallel()

	id1 := parser.SymbolID("a.go", "", "Widget", symbol.KindStruct, 5, 1)
	id2 := parser.SymbolID("a.go", "", "Widget", symbol.KindStruct, 5, 1)
	require.Equal(t, id1.String(), id2.String())

	id3 := parser.SymbolID("a.go", "", "Widget", symbol.KindStruct, 6, 1)
	require.NotEqual(t, id1.String(), id3.String())
}
