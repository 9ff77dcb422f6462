package rewrite

import (
	"errors"
	"strings"
	"testing"
)

func TestParseCall(t *testing.T) {
	tests := []struct {
		src      string
		path     string
		args     int
		ellipsis bool
	}{
		{"v.Reserve(v.Cap())", "v.Reserve", 1, false},
		{"v.Insert(v.Len()-1, v[0]+41)", "v.Insert", 2, false},
		{"r.M()", "r.M", 0, false},
		{"f(x)", "f", 1, false},
		{"a.b.c.d.Method(1, 2, 3)", "a.b.c.d.Method", 3, false},
		{"strings.Repeat(s, 3)", "strings.Repeat", 2, false},
		{"v.Append(xs...)", "v.Append", 1, true},
		{"v.Do(f(), g(h()), func() int { return v.Len() }())", "v.Do", 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			call, err := ParseCallString(tt.src)
			if err != nil {
				t.Fatalf("ParseCallString(%q): %v", tt.src, err)
			}
			if got := strings.Join(call.Path, "."); got != tt.path {
				t.Errorf("path = %q, want %q", got, tt.path)
			}
			if len(call.Args) != tt.args {
				t.Errorf("args = %d, want %d", len(call.Args), tt.args)
			}
			if call.Ellipsis != tt.ellipsis {
				t.Errorf("ellipsis = %v, want %v", call.Ellipsis, tt.ellipsis)
			}
		})
	}
}

func TestCallReceiverAndMethod(t *testing.T) {
	call, err := ParseCallString("a.b.c.M(x)")
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(call.Receiver(), "."); got != "a.b.c" {
		t.Errorf("Receiver() = %q, want a.b.c", got)
	}
	if call.Method() != "M" {
		t.Errorf("Method() = %q, want M", call.Method())
	}
	if call.String() != "a.b.c.M(x)" {
		t.Errorf("String() = %q, want a.b.c.M(x)", call.String())
	}

	fn, err := ParseCallString("f(x)")
	if err != nil {
		t.Fatal(err)
	}
	if len(fn.Receiver()) != 0 {
		t.Errorf("plain function Receiver() = %v, want empty", fn.Receiver())
	}
}

func TestParseCallRejects(t *testing.T) {
	tests := []struct {
		src    string
		detail string
	}{
		{"f().m(x)", "receiver path contains a call"},
		{"a.f().b.m(x)", "receiver path contains a call"},
		{"a[0].m(x)", "index or type argument list"},
		{"f[int](x)", "index or type argument list"},
		{"(a).m(x)", "parentheses"},
		{"(*p).m(x)", "parentheses"},
		{"func() {}()", "function literal"},
		{"x.(T).m()", "type assertion"},
		{"[]int{1}.m()", "composite literal"},
		{"v.m", "not a call expression"},
		{"1 + 2", "not a call expression"},
		{"v.m(x", ""},
		{"v.m(,)", ""},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, err := ParseCallString(tt.src)
			if err == nil {
				t.Fatalf("ParseCallString(%q) succeeded, want error", tt.src)
			}
			if !errors.Is(err, ErrUnsupportedSyntax) {
				t.Errorf("error %v does not wrap ErrUnsupportedSyntax", err)
			}
			var se *SyntaxError
			if !errors.As(err, &se) {
				t.Fatalf("error %T is not a *SyntaxError", err)
			}
			if !strings.Contains(err.Error(), expectedForm) {
				t.Errorf("error %q does not name the expected form", err)
			}
			if tt.detail != "" && !strings.Contains(se.Detail, tt.detail) {
				t.Errorf("detail = %q, want it to contain %q", se.Detail, tt.detail)
			}
		})
	}
}

func TestSyntaxErrorMessage(t *testing.T) {
	_, err := ParseCallString("f().m(x)")
	if err == nil {
		t.Fatal("expected error")
	}
	want := "unsupported syntax: expected a call of the form receiver.method(args...): receiver path contains a call in `f()`"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
