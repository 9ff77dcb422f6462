package rewrite

import (
	"go/parser"
	"go/token"
	"testing"
)

func TestNamerSequence(t *testing.T) {
	n := NewNamer("")
	for i, want := range []string{"arg0", "arg1", "arg2"} {
		if got := n.Fresh().Name; got != want {
			t.Errorf("Fresh() #%d = %q, want %q", i, got, want)
		}
	}
	if !n.Taken("arg1") {
		t.Error("issued name arg1 is not reported as taken")
	}
}

func TestNamerSkipsReserved(t *testing.T) {
	n := NewNamer("tmp")
	n.Reserve("tmp0", "tmp1", "tmp3")
	got := []string{n.Fresh().Name, n.Fresh().Name}
	if got[0] != "tmp2" || got[1] != "tmp4" {
		t.Errorf("Fresh() = %v, want [tmp2 tmp4]", got)
	}
}

func TestNamerUniverse(t *testing.T) {
	n := NewNamer("float")
	// float32 and float64 are predeclared.
	for i := 0; i < 70; i++ {
		name := n.Fresh().Name
		if name == "float32" || name == "float64" {
			t.Fatalf("Fresh() returned predeclared %q", name)
		}
	}
	if !NewNamer("").Taken("len") {
		t.Error("len is not reserved")
	}
}

func TestNamerReserveFrom(t *testing.T) {
	f, err := parser.ParseFile(token.NewFileSet(), "x.go", "package p\nfunc f(arg0 int) { arg1 := arg0; _ = arg1 }\n", 0)
	if err != nil {
		t.Fatal(err)
	}
	n := NewNamer("")
	n.ReserveFrom(f)
	if got := n.Fresh().Name; got != "arg2" {
		t.Errorf("Fresh() = %q, want arg2", got)
	}
}

func TestNamerNeverReuses(t *testing.T) {
	n := NewNamer("")
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		if i%7 == 0 {
			n.Reserve("arg" + string(rune('0'+i%10)))
		}
		name := n.Fresh().Name
		if seen[name] {
			t.Fatalf("Fresh() repeated %q", name)
		}
		seen[name] = true
	}
}
