// models/reference.go
package models

// CodeEntry is one row of the S-57 code/value data dictionary.
// CSV tags match the dictionary headers exactly.
type CodeEntry struct {
	ColumnName string `csv:"column_name"`
	Code       string `csv:"code"`
	Value      string `csv:"value"`
}

// FieldDefinition is one row of a per-layer field description CSV, used to
// set friendly aliases and pop-up descriptions on the hosted layer.
type FieldDefinition struct {
	Name        string `csv:"name"`
	Alias       string `csv:"alias"`
	Description string `csv:"description"`
}
