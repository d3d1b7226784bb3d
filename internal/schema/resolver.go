package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/duckmesh/duckxfer/internal/sqlbuild"
	"github.com/duckmesh/duckxfer/internal/store"
	"github.com/duckmesh/duckxfer/internal/transfer"
)

// Resolve discovers the columns of spec without transferring row data. Table
// specs are described through the store's metadata; raw queries are probed
// with a zero-row wrapper.
func Resolve(ctx context.Context, s store.Store, spec transfer.QuerySpec) ([]transfer.ColumnDescriptor, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.Mode == transfer.ModeRaw {
		return probe(ctx, s, spec.RawQuery)
	}
	return describe(ctx, s, spec.TableName)
}

func describe(ctx context.Context, s store.Store, table string) ([]transfer.ColumnDescriptor, error) {
	statement, err := sqlbuild.BuildDescribe(table)
	if err != nil {
		return nil, err
	}
	result, err := s.Query(ctx, statement)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, transfer.QueryError(err))
	}

	nameIndex := columnIndex(result.Columns, "column_name", "name")
	typeIndex := columnIndex(result.Columns, "column_type", "type")
	if nameIndex < 0 || typeIndex < 0 {
		return nil, transfer.Schemaf("describe %s returned unexpected columns %v", table, result.Columns)
	}

	columns := make([]transfer.ColumnDescriptor, 0, len(result.Rows))
	for _, row := range result.Rows {
		columns = append(columns, transfer.ColumnDescriptor{
			Name:     fmt.Sprint(row[nameIndex]),
			Type:     transfer.ParseTypeTag(fmt.Sprint(row[typeIndex])),
			Selected: true,
		})
	}
	if len(columns) == 0 {
		return nil, transfer.Schemaf("table %s has no columns", table)
	}
	return columns, nil
}

func probe(ctx context.Context, s store.Store, rawQuery string) ([]transfer.ColumnDescriptor, error) {
	statement, err := sqlbuild.BuildProbe(rawQuery)
	if err != nil {
		return nil, err
	}
	result, err := s.Query(ctx, statement)
	if err != nil {
		return nil, fmt.Errorf("probe query: %w", transfer.QueryError(err))
	}

	columns := make([]transfer.ColumnDescriptor, 0, len(result.Columns))
	for i, name := range result.Columns {
		declared := ""
		if i < len(result.ColumnTypes) {
			declared = result.ColumnTypes[i]
		}
		columns = append(columns, transfer.ColumnDescriptor{
			Name:     name,
			Type:     transfer.ParseTypeTag(declared),
			Selected: true,
		})
	}
	return columns, nil
}

func columnIndex(columns []string, candidates ...string) int {
	for _, candidate := range candidates {
		for i, column := range columns {
			if strings.EqualFold(column, candidate) {
				return i
			}
		}
	}
	return -1
}
