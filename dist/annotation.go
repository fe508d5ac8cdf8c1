/*
Copyright (C) 2026  Carl-Philip Hänsch

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
package dist

import (
	"github.com/launix-de/arraytree/ir"
	"github.com/launix-de/arraytree/tree"
)

/*
ParseAnnotation reads the language form of a tile descriptor:

	list("tile", list("columns", 0, 3), list("rows", 2, 4))
	list("args", list("locality", 1, 2), list("tile", ...))

list("name", n) inside args overrides the name. Missing parts stay empty.
*/
func ParseAnnotation(v tree.Value) (name string, loc *ir.Locality, tiles map[string]ir.Range, err error) {
	tiles = make(map[string]ir.Range)
	l, err := v.AsList()
	if err != nil || len(l) == 0 {
		return "", nil, nil, tree.Errorf(tree.InvalidAnnotation, "annotation must be a non-empty list, found %s", v)
	}
	head, err := l[0].AsString()
	if err != nil {
		return "", nil, nil, tree.Errorf(tree.InvalidAnnotation, "annotation must start with a string, found %s", l[0])
	}
	var parts []tree.Value
	if head == "args" {
		parts = l[1:]
	} else {
		parts = []tree.Value{v}
	}
	for _, part := range parts {
		p, err := part.AsList()
		if err != nil || len(p) == 0 || p[0].Kind() != tree.KindString {
			return "", nil, nil, tree.Errorf(tree.InvalidAnnotation, "malformed annotation part %s", part)
		}
		switch p[0].Str() {
		case "tile":
			for _, axis := range p[1:] {
				a, err := axis.AsList()
				if err != nil || len(a) != 3 || a[0].Kind() != tree.KindString {
					return "", nil, nil, tree.Errorf(tree.InvalidAnnotation, "a tile range is list(axis, start, stop), found %s", axis)
				}
				start, err1 := a[1].AsInt()
				stop, err2 := a[2].AsInt()
				if err1 != nil || err2 != nil {
					return "", nil, nil, tree.Errorf(tree.InvalidAnnotation, "tile bounds must be integers, found %s", axis)
				}
				tiles[a[0].Str()] = ir.Range{Start: start, Stop: stop}
			}
		case "locality":
			if len(p) != 3 {
				return "", nil, nil, tree.Errorf(tree.InvalidAnnotation, "locality is list(\"locality\", id, count), found %s", part)
			}
			id, err1 := p[1].AsInt()
			count, err2 := p[2].AsInt()
			if err1 != nil || err2 != nil || id < 0 || count <= 0 || id >= count {
				return "", nil, nil, tree.Errorf(tree.InvalidAnnotation, "invalid locality %s", part)
			}
			loc = &ir.Locality{ID: uint32(id), Count: uint32(count)}
		case "name":
			if len(p) != 2 || p[1].Kind() != tree.KindString {
				return "", nil, nil, tree.Errorf(tree.InvalidAnnotation, "name is list(\"name\", string), found %s", part)
			}
			name = p[1].Str()
		default:
			return "", nil, nil, tree.Errorf(tree.InvalidAnnotation, "unknown annotation part %q", p[0].Str())
		}
	}
	return name, loc, tiles, nil
}

// FormatAnnotation is the inverse of ParseAnnotation; axes are listed outermost first
func FormatAnnotation(a *ir.Annotation) tree.Value {
	if a == nil {
		return tree.NewNil()
	}
	args := []tree.Value{tree.NewString("args"), tree.NewList([]tree.Value{tree.NewString("name"), tree.NewString(a.Name)})}
	if a.Locality != nil {
		args = append(args, tree.NewList([]tree.Value{tree.NewString("locality"), tree.NewInt(int64(a.Locality.ID)), tree.NewInt(int64(a.Locality.Count))}))
	}
	tile := []tree.Value{tree.NewString("tile")}
	for _, axis := range ir.Axes(ir.MaxRank) {
		if r, ok := a.Tiles[axis]; ok {
			tile = append(tile, tree.NewList([]tree.Value{tree.NewString(axis), tree.NewInt(r.Start), tree.NewInt(r.Stop)}))
		}
	}
	return tree.NewList(append(args, tree.NewList(tile)))
}

// Annotate attaches a validated tile descriptor to an array
func Annotate(v tree.Value, a *ir.Annotation) (tree.Value, error) {
	data, err := v.AsArray()
	if err != nil {
		return tree.NewNil(), err
	}
	if data.Rank() == 0 {
		return tree.NewNil(), tree.Errorf(tree.InvalidAnnotation, "scalars cannot be tiled")
	}
	norm, err := a.Normalize(data.Shape())
	if err != nil {
		return tree.NewNil(), err
	}
	return tree.NewArray(data).WithAnnotation(norm), nil
}

// annotateD implements annotate_d(value, name, annotation)
func annotateD(l *Locality, v, name, annotation tree.Value) (tree.Value, error) {
	n, err := name.AsString()
	if err != nil {
		return tree.NewNil(), err
	}
	loc := &ir.Locality{ID: l.ID(), Count: l.Count()}
	tiles := map[string]ir.Range{}
	if !annotation.IsNil() {
		override, parsed, t, err := ParseAnnotation(annotation)
		if err != nil {
			return tree.NewNil(), err
		}
		if override != "" {
			n = override
		}
		if parsed != nil {
			loc = parsed
		}
		tiles = t
	}
	return Annotate(v, ir.NewAnnotation(n, loc, tiles))
}

// participants is the number of localities sharing the array behind ann
func (l *Locality) participants(ann *ir.Annotation) uint32 {
	if ann != nil && ann.Locality != nil {
		return ann.Locality.Count
	}
	return l.Count()
}
