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
	"context"
	"database/sql"
	"math"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/launix-de/arraytree/dist"
	"github.com/launix-de/arraytree/ir"
	"github.com/launix-de/arraytree/tree"
)

// SQLTimeout bounds connecting to the database and running the query
var SQLTimeout = 5 * time.Minute

func openSQL(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

/*
ReadSQL runs query and returns its result set as float matrix, one row per
result row. NULL becomes NaN. driver is "mysql" or "postgres".
*/
func ReadSQL(ctx context.Context, driver, dsn, query string) (*ir.NodeData, error) {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()
	db, err := openSQL(ctx, driver, dsn)
	if err != nil {
		return nil, tree.Errorf(tree.DomainError, "sql_read: %v", err)
	}
	defer db.Close()
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, tree.Errorf(tree.DomainError, "sql_read: %v", err)
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, tree.Errorf(tree.DomainError, "sql_read: %v", err)
	}
	return scanRows(rows, len(columns))
}

// rowScanner is the part of *sql.Rows scanRows needs
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRows(rows rowScanner, columns int) (*ir.NodeData, error) {
	cells := make([]sql.NullFloat64, columns)
	dest := make([]any, columns)
	for i := range cells {
		dest[i] = &cells[i]
	}
	var data []float64
	n := 0
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, tree.Errorf(tree.UnsupportedDType, "sql_read: row %d: %v", n+1, err)
		}
		for _, c := range cells {
			if c.Valid {
				data = append(data, c.Float64)
			} else {
				data = append(data, math.NaN())
			}
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, tree.Errorf(tree.DomainError, "sql_read: %v", err)
	}
	return ir.NewFloat64([]int{n, columns}, data), nil
}

func initIngest() {
	tree.DeclareTitle("Ingestion")
	tree.Declare(&tree.Declaration{
		Name: "file_read_csv", Desc: "reads a CSV file of numbers into a float matrix; a non-numeric first line is skipped as header",
		MinParameter: 1, MaxParameter: 2,
		Params: []tree.DeclarationParameter{
			{Name: "filename", Type: "string", Desc: "path of the CSV file"},
			{Name: "delimiter", Type: "string", Desc: "field separator", Default: func() tree.Value { return tree.NewString(",") }},
		},
		Returns: "array",
		Fn: func(a ...tree.Value) tree.Value {
			data, err := ReadCSV(tree.ToString(a[0]), tree.ToString(a[1]))
			if err != nil {
				panic(err)
			}
			return tree.NewArray(data)
		},
	})
	tree.Declare(&tree.Declaration{
		Name: "file_read_csv_d", Desc: "reads a CSV file on every locality and keeps the local row tile",
		MinParameter: 1, MaxParameter: 3,
		Params: []tree.DeclarationParameter{
			{Name: "filename", Type: "string", Desc: "path of the CSV file, readable on every locality"},
			{Name: "name", Type: "string", Desc: "name of the distributed array; generated when nil"},
			{Name: "delimiter", Type: "string", Desc: "field separator", Default: func() tree.Value { return tree.NewString(",") }},
		},
		Returns: "array",
		Eval: dist.OnLocality(func(ctx context.Context, l *dist.Locality, a []tree.Value) (tree.Value, error) {
			data, err := ReadCSV(tree.ToString(a[0]), tree.ToString(a[2]))
			if err != nil {
				return tree.NewNil(), err
			}
			return rowTile(l, data, nameArg(l, a[1], "csv_array"))
		}),
	})
	tree.Declare(&tree.Declaration{
		Name: "sql_read", Desc: "runs a query against mysql or postgres and returns the result as float matrix",
		MinParameter: 3, MaxParameter: 3,
		Params: []tree.DeclarationParameter{
			{Name: "driver", Type: "string", Desc: "mysql or postgres"},
			{Name: "dsn", Type: "string", Desc: "data source name of the driver"},
			{Name: "query", Type: "string", Desc: "SELECT returning numeric columns"},
		},
		Returns: "array",
		Eval: dist.OnLocality(func(ctx context.Context, l *dist.Locality, a []tree.Value) (tree.Value, error) {
			data, err := ReadSQL(ctx, tree.ToString(a[0]), tree.ToString(a[1]), tree.ToString(a[2]))
			if err != nil {
				return tree.NewNil(), err
			}
			return tree.NewArray(data), nil
		}),
	})
	tree.Declare(&tree.Declaration{
		Name: "sql_read_d", Desc: "runs a query on every locality and keeps the local row tile of the result",
		MinParameter: 3, MaxParameter: 4,
		Params: []tree.DeclarationParameter{
			{Name: "driver", Type: "string", Desc: "mysql or postgres"},
			{Name: "dsn", Type: "string", Desc: "data source name of the driver"},
			{Name: "query", Type: "string", Desc: "SELECT returning numeric columns in a deterministic order"},
			{Name: "name", Type: "string", Desc: "name of the distributed array; generated when nil"},
		},
		Returns: "array",
		Eval: dist.OnLocality(func(ctx context.Context, l *dist.Locality, a []tree.Value) (tree.Value, error) {
			data, err := ReadSQL(ctx, tree.ToString(a[0]), tree.ToString(a[1]), tree.ToString(a[2]))
			if err != nil {
				return tree.NewNil(), err
			}
			return rowTile(l, data, nameArg(l, optional(a, 3), "sql_array"))
		}),
	})
}
