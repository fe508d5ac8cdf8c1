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
package storage

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/launix-de/arraytree/dist"
	"github.com/launix-de/arraytree/ir"
	"github.com/launix-de/arraytree/tree"
)

// ReadCSV parses a file of numbers into a float matrix. A first line that is not numeric is taken as header.
func ReadCSV(filename, delimiter string) (*ir.NodeData, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, tree.Errorf(tree.DomainError, "file_read_csv: %v", err)
	}
	defer f.Close()
	return parseCSV(f, filename, delimiter)
}

func parseCSV(in io.Reader, filename, delimiter string) (*ir.NodeData, error) {
	comma, size := utf8.DecodeRuneInString(delimiter)
	if size == 0 || size != len(delimiter) {
		return nil, tree.Errorf(tree.DomainError, "file_read_csv: delimiter must be one character, got %q", delimiter)
	}
	r := csv.NewReader(in)
	r.Comma = comma
	r.TrimLeadingSpace = true
	r.ReuseRecord = true
	var data []float64
	rows, columns := 0, -1
	for line := 1; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, tree.Errorf(tree.DomainError, "%s: %v", filename, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		row := make([]float64, len(record))
		numeric := true
		for i, field := range record {
			field = strings.TrimSpace(field)
			if field == "" {
				row[i] = math.NaN()
				continue
			}
			if row[i], err = strconv.ParseFloat(field, 64); err != nil {
				numeric = false
				break
			}
		}
		if !numeric {
			if rows == 0 && columns < 0 {
				columns = len(record) // header
				continue
			}
			return nil, tree.Errorf(tree.DomainError, "%s:%d: not a number in %q", filename, line, strings.Join(record, string(comma)))
		}
		if columns < 0 {
			columns = len(row)
		} else if len(row) != columns {
			return nil, tree.Errorf(tree.ShapeMismatch, "%s:%d: %d fields, expected %d", filename, line, len(row), columns)
		}
		data = append(data, row...)
		rows++
	}
	if columns < 0 {
		columns = 0
	}
	return ir.NewFloat64([]int{rows, columns}, data), nil
}

// rowTile keeps the rows of data that belong to l, annotated as tile of name
func rowTile(l *dist.Locality, data *ir.NodeData, name string) (tree.Value, error) {
	r := ir.TileRange(int64(data.Dim(0)), l.ID(), l.Count())
	part, err := data.Slice(0, int(r.Start), int(r.Stop))
	if err != nil {
		return tree.NewNil(), err
	}
	return dist.Annotate(tree.NewArray(part.Copy()), ir.NewAnnotation(name, &ir.Locality{ID: l.ID(), Count: l.Count()}, map[string]ir.Range{"rows": r}))
}

func nameArg(l *dist.Locality, v tree.Value, prefix string) string {
	if v.IsNil() {
		return l.NextName(prefix)
	}
	return tree.ToString(v)
}
