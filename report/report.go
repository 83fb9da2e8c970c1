// Package report turns record lists into a tabular series or a printed table.
package report

import (
	"fmt"
	"io"

	"github.com/Financial-Times/wbgapi-catalog/wbgapi"
	"github.com/jedib0t/go-pretty/v6/table"
)

const (
	DefaultKeyField   = "id"
	DefaultValueField = "value"
)

type Option func(*options)

type options struct {
	keyField   string
	valueField string
}

// WithKeyField selects the field used as the row key.
func WithKeyField(field string) Option {
	return func(o *options) {
		o.keyField = field
	}
}

// WithValueField selects the field shown as the row value.
func WithValueField(field string) Option {
	return func(o *options) {
		o.valueField = field
	}
}

func newOptions(opts []Option) options {
	o := options{keyField: DefaultKeyField, valueField: DefaultValueField}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Series is a named column of values indexed by record key, in record order.
type Series struct {
	Name   string   `json:"name"`
	Index  []string `json:"index"`
	Values []string `json:"values"`
}

func (s *Series) Len() int {
	return len(s.Index)
}

// Get returns the value stored under key.
func (s *Series) Get(key string) (string, bool) {
	for i, k := range s.Index {
		if k == key {
			return s.Values[i], true
		}
	}
	return "", false
}

// NewSeries builds a Series from records. A key seen twice keeps its first position
// and its last value.
func NewSeries(records []wbgapi.Record, name string, opts ...Option) *Series {
	o := newOptions(opts)
	s := &Series{Name: name, Index: []string{}, Values: []string{}}
	positions := map[string]int{}
	for _, rec := range records {
		key := rec.Str(o.keyField)
		value := rec.Str(o.valueField)
		if i, found := positions[key]; found {
			s.Values[i] = value
			continue
		}
		positions[key] = len(s.Index)
		s.Index = append(s.Index, key)
		s.Values = append(s.Values, value)
	}
	return s
}

// PrintInfo writes a human readable table of records to w.
func PrintInfo(w io.Writer, records []wbgapi.Record, opts ...Option) {
	o := newOptions(opts)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{o.keyField, o.valueField})
	for _, rec := range records {
		t.AppendRow(table.Row{rec.Str(o.keyField), rec.Str(o.valueField)})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d elements", len(records))})
	t.Render()
}
