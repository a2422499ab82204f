package evaluator

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
)

// AllowList names the builtins a submitted program may call. print and input
// are supplied per run (they are bound to the run's writers and relay); the
// rest come from the interpreter's universe.
var AllowList = []string{
	"print", "input",
	"len", "str", "int", "float", "range",
	"list", "dict", "set", "tuple", "bool",
}

// Capabilities is the symbol table a program executes against.
type Capabilities struct {
	predeclared starlark.StringDict
	denied      map[string]bool
}

// NewCapabilities builds the allow-list table. Builtins of the interpreter
// universe that are not allowed are shadowed by stubs that fail when called,
// so `sorted(x)` faults the same way a missing name would.
func NewCapabilities(printFn, inputFn *starlark.Builtin) *Capabilities {
	allowed := make(map[string]bool, len(AllowList))
	for _, name := range AllowList {
		allowed[name] = true
	}

	predeclared := make(starlark.StringDict, len(starlark.Universe))
	deniedNames := make(map[string]bool)
	for name, v := range starlark.Universe {
		if _, isBuiltin := v.(*starlark.Builtin); !isBuiltin {
			continue // None, True, False
		}
		if allowed[name] {
			predeclared[name] = v
			continue
		}
		predeclared[name] = denied(name)
		deniedNames[name] = true
	}
	predeclared["print"] = printFn
	predeclared["input"] = inputFn

	return &Capabilities{predeclared: predeclared, denied: deniedNames}
}

// Names returns the callable names a program can use, sorted.
func (c *Capabilities) Names() []string {
	var names []string
	for name, v := range c.predeclared {
		if _, ok := v.(*starlark.Builtin); ok && !c.denied[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (c *Capabilities) table() starlark.StringDict { return c.predeclared }

func denied(name string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return nil, fmt.Errorf("name '%s' is not allowed", name)
	})
}
