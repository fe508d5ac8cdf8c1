/*
Copyright (C) 2023-2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package tree

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/launix-de/NonLockingReadMap"
)

/*
Declaration is one call pattern of a primitive.

Exactly one of Fn, Eval and Compile is set:
  - Fn is a kernel; all operands are evaluated before it runs
  - Eval receives the node and decides itself when to evaluate operands
  - Compile is a special form that builds its own node
*/
type Declaration struct {
	Name         string
	Desc         string
	MinParameter int
	MaxParameter int
	Params       []DeclarationParameter
	Returns      string // any | string | number | int | bool | func | list | array | nil
	Fn           func(...Value) Value
	Eval         func(n *Node, ctx EvalContext) *Future
	Compile      func(c *Compiler, call *AST) (*Node, error)
	Foldable     bool // safe to constant-fold when all args are literals
}

type DeclarationParameter struct {
	Name    string
	Type    string // any | string | number | int | bool | func | list | array | nil
	Desc    string
	Default func() Value // used when the argument is missing or nil
}

// Variadic is the MaxParameter of primitives without upper bound
const Variadic = 1 << 16

type patternSet struct {
	name     string
	patterns []*Declaration
}

func (p patternSet) GetKey() string     { return p.name }
func (p patternSet) ComputeSize() uint { return 24 + 8*uint(len(p.patterns)) }

var declarationTitles []string
var declarations = NonLockingReadMap.New[patternSet, string]()
var declareMutex sync.Mutex

func DeclareTitle(title string) {
	declareMutex.Lock()
	defer declareMutex.Unlock()
	declarationTitles = append(declarationTitles, "#"+title)
}

// Declare adds a call pattern; patterns of one name are matched in declaration order
func Declare(def *Declaration) {
	declareMutex.Lock()
	defer declareMutex.Unlock()
	set := patternSet{name: def.Name}
	if old := declarations.Get(def.Name); old != nil {
		set.patterns = append(set.patterns, old.patterns...)
	} else {
		declarationTitles = append(declarationTitles, def.Name)
	}
	set.patterns = append(set.patterns, def)
	declarations.Set(&set)
}

// Lookup returns all patterns registered under name
func Lookup(name string) []*Declaration {
	if set := declarations.Get(name); set != nil {
		return set.patterns
	}
	return nil
}

// Match selects the first pattern accepting nargs arguments
func Match(name string, nargs int) (*Declaration, error) {
	patterns := Lookup(name)
	if len(patterns) == 0 {
		return nil, Errorf(UnknownPrimitive, "unknown primitive %q", name)
	}
	for _, def := range patterns {
		if nargs >= def.MinParameter && nargs <= def.MaxParameter {
			return def, nil
		}
	}
	def := patterns[0]
	if nargs < def.MinParameter {
		return nil, Errorf(ArityMismatch, "function %s expects at least %d parameters, %d given", name, def.MinParameter, nargs)
	}
	return nil, Errorf(ArityMismatch, "function %s expects at most %d parameters, %d given", name, patterns[len(patterns)-1].MaxParameter, nargs)
}

func (def *Declaration) paramIndex(name string) int {
	for i, p := range def.Params {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Bind pads missing trailing arguments and substitutes defaults for nil
func (def *Declaration) Bind(args []Value) []Value {
	need := 0
	for i, p := range def.Params {
		if p.Default != nil {
			need = i + 1
		}
	}
	if len(args) < need {
		padded := make([]Value, need)
		copy(padded, args)
		args = padded
	}
	for i, p := range def.Params {
		if i < len(args) && p.Default != nil && args[i].IsNil() {
			args[i] = p.Default()
		}
	}
	return args
}

// slugify makes a filesystem-safe, lowercase slug from a chapter title.
func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "-")
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "chapter"
	}
	return b.String()
}

// WriteDocumentation generates Markdown docs:
// - index.md with links to chapters
// - one <chapter>.md file per chapter, containing all primitives of that chapter
func WriteDocumentation(folder string) error {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("failed to create folder %q: %w", folder, err)
	}

	type Chapter struct {
		Title string
		Slug  string
		Names []string
	}
	var chapters []*Chapter
	current := &Chapter{Title: "General", Slug: "general"}
	chapters = append(chapters, current)
	for _, t := range declarationTitles {
		if t[0] == '#' {
			current = &Chapter{Title: t[1:], Slug: slugify(t[1:])}
			chapters = append(chapters, current)
			continue
		}
		current.Names = append(current.Names, t)
	}

	index, err := os.Create(filepath.Join(folder, "index.md"))
	if err != nil {
		return err
	}
	defer index.Close()
	fmt.Fprint(index, "# Documentation\n\n")
	for _, ch := range chapters {
		if len(ch.Names) == 0 {
			continue
		}
		fmt.Fprintf(index, "- [%s](%s.md)\n", ch.Title, ch.Slug)

		f, err := os.Create(filepath.Join(folder, ch.Slug+".md"))
		if err != nil {
			return err
		}
		fmt.Fprintf(f, "# %s\n\n", ch.Title)
		for _, name := range ch.Names {
			for _, def := range Lookup(name) {
				writeDeclaration(f, def, "##")
			}
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

func writeDeclaration(w io.Writer, def *Declaration, h string) {
	fmt.Fprintf(w, "%s %s\n\n", h, def.Name)
	if def.Desc != "" {
		fmt.Fprintf(w, "%s\n\n", def.Desc)
	}
	if def.MaxParameter >= Variadic {
		fmt.Fprintf(w, "**Allowed number of parameters:** %d or more\n\n", def.MinParameter)
	} else {
		fmt.Fprintf(w, "**Allowed number of parameters:** %d–%d\n\n", def.MinParameter, def.MaxParameter)
	}
	fmt.Fprint(w, "### Parameters\n\n")
	if len(def.Params) == 0 {
		fmt.Fprint(w, "_This function has no parameters._\n\n")
	} else {
		for _, p := range def.Params {
			fmt.Fprintf(w, "- **%s** (`%s`): %s", p.Name, p.Type, p.Desc)
			if p.Default != nil {
				fmt.Fprintf(w, " (default: `%s`)", p.Default())
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "### Returns\n\n`%s`\n\n", def.Returns)
}

// Help prints an overview or the documentation of one primitive
func Help(w io.Writer, name string) error {
	if name == "" {
		fmt.Fprintln(w, "Available primitives:")
		for _, title := range declarationTitles {
			if title[0] == '#' {
				fmt.Fprintln(w, "")
				fmt.Fprintln(w, "-- "+title[1:]+" --")
			} else {
				fmt.Fprintln(w, "  "+title+": "+strings.Split(Lookup(title)[0].Desc, "\n")[0])
			}
		}
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "get further information by typing help(\"name\")")
		return nil
	}
	patterns := Lookup(name)
	if len(patterns) == 0 {
		return Errorf(UnknownPrimitive, "function not found: %s", name)
	}
	for _, def := range patterns {
		writeDeclaration(w, def, "#")
	}
	return nil
}
