package core

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueKind discriminates the type of a cell value
type ValueKind int

const (
	// KindNull is an absent value; every transform propagates it
	KindNull ValueKind = iota

	// KindText is a string value
	KindText

	// KindNumber is a float64 value
	KindNumber
)

// Value is a single nullable cell of a Dataset column.
//
// Values are immutable by convention: transforms return new Values and
// never modify their input, which is what makes row-level processing
// safe to parallelize without locks.
type Value struct {
	Kind ValueKind
	Text string
	Num  float64
}

// Null returns the null value
func Null() Value {
	return Value{Kind: KindNull}
}

// Text returns a text value
func Text(s string) Value {
	return Value{Kind: KindText, Text: s}
}

// Number returns a numeric value
func Number(f float64) Value {
	return Value{Kind: KindNumber, Num: f}
}

// IsNull reports whether the value is null. A text value that is empty
// or whitespace-only is treated as null by every transform, so it
// counts as null here too.
func (v Value) IsNull() bool {
	if v.Kind == KindNull {
		return true
	}
	return v.Kind == KindText && strings.TrimSpace(v.Text) == ""
}

// String renders the value for delimited export. Numbers use the
// shortest representation that round-trips, so a rounded coordinate
// never grows trailing zeros that would fake extra precision.
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	default:
		return ""
	}
}

// Float returns the numeric interpretation of the value. Text values
// are parsed; the second return is false when no number can be read.
func (v Value) Float() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindText:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Column is a named, ordered sequence of values
type Column struct {
	Name   string
	Values []Value
}

// Dataset is an ordered collection of named columns sharing a row
// count. Rows are positionally aligned: row i of every column belongs
// to the same record. There is no row identity beyond position.
type Dataset struct {
	Table   string
	Columns []Column
}

// NewDataset creates an empty dataset for the named table
func NewDataset(table string) *Dataset {
	return &Dataset{Table: table}
}

// AddColumn appends a column. Every column after the first must carry
// the same number of rows.
func (d *Dataset) AddColumn(name string, values []Value) error {
	if len(d.Columns) > 0 && len(values) != d.Rows() {
		return fmt.Errorf("column %q has %d rows, dataset %q has %d", name, len(values), d.Table, d.Rows())
	}
	if _, ok := d.Column(name); ok {
		return fmt.Errorf("column %q already exists in dataset %q", name, d.Table)
	}
	d.Columns = append(d.Columns, Column{Name: name, Values: values})
	return nil
}

// Rows returns the shared row count
func (d *Dataset) Rows() int {
	if len(d.Columns) == 0 {
		return 0
	}
	return len(d.Columns[0].Values)
}

// Column returns the named column
func (d *Dataset) Column(name string) (*Column, bool) {
	for i := range d.Columns {
		if d.Columns[i].Name == name {
			return &d.Columns[i], true
		}
	}
	return nil, false
}

// ColumnNames returns the column names in order
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// SelectRows builds a new dataset containing only the rows whose index
// is in keep, preserving both column order and relative row order.
func (d *Dataset) SelectRows(keep []int) *Dataset {
	out := NewDataset(d.Table)
	for _, col := range d.Columns {
		values := make([]Value, 0, len(keep))
		for _, i := range keep {
			values = append(values, col.Values[i])
		}
		out.Columns = append(out.Columns, Column{Name: col.Name, Values: values})
	}
	return out
}
