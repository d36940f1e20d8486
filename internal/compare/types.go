// Package compare classifies every populated source table against the target
// schema and its records.
package compare

import "time"

// Category is the comparison outcome for one source table.
type Category string

const (
	// MissingInTarget means the table does not exist in the target.
	MissingInTarget Category = "missing_in_target"
	// IdenticalRecords means counts match and every row matches on the
	// source's non-null columns.
	IdenticalRecords Category = "identical_records"
	// CompatibleDiff means the target can hold every source value but the
	// records differ.
	CompatibleDiff Category = "compatible_diff"
	// IncompatibleDiff means at least one source column carrying data is
	// absent from the target.
	IncompatibleDiff Category = "incompatible_diff"
)

// ColumnDataLoss describes a data-carrying column the target cannot hold.
type ColumnDataLoss struct {
	Column           string   `json:"column"`
	DataType         string   `json:"data_type"`
	NonNullCount     int64    `json:"non_null_count"`
	BusinessCritical bool     `json:"business_critical"`
	SampleValues     []string `json:"sample_values"`
}

// TableClassification is the immutable comparison result for one table.
// MissingColumns and NullOnlyColumns split the source columns absent from the
// target by whether they hold data; for a table missing in the target that is
// every column, and MissingColumns is left empty.
type TableClassification struct {
	Table             string           `json:"table"`
	Category          Category         `json:"category"`
	SourceRecordCount int64            `json:"source_record_count"`
	TargetRecordCount *int64           `json:"target_record_count"`
	MissingColumns    []string         `json:"missing_columns"`
	NullOnlyColumns   []string         `json:"null_only_columns"`
	ColumnDataLoss    []ColumnDataLoss `json:"column_data_loss,omitempty"`
}

// TableError is a probe failure isolated to one table.
type TableError struct {
	Table string `json:"table"`
	Error string `json:"error"`
}

// Result is the outcome of one comparison pass. Tables that failed to probe
// appear only in Errors and are not counted.
type Result struct {
	TotalTables      int                   `json:"total_tables"`
	MissingInTarget  int                   `json:"missing_in_target"`
	IdenticalRecords int                   `json:"identical_records"`
	CompatibleDiff   int                   `json:"compatible_diff"`
	IncompatibleDiff int                   `json:"incompatible_diff"`
	Tables           []TableClassification `json:"tables"`
	Errors           []TableError          `json:"errors,omitempty"`
	ComparedAt       time.Time             `json:"compared_at"`
}

// ByCategory returns the classified tables of one category in result order.
func (r *Result) ByCategory(c Category) []TableClassification {
	var out []TableClassification
	for _, t := range r.Tables {
		if t.Category == c {
			out = append(out, t)
		}
	}
	return out
}

// Table returns the classification of one table.
func (r *Result) Table(name string) (TableClassification, bool) {
	for _, t := range r.Tables {
		if t.Table == name {
			return t, true
		}
	}
	return TableClassification{}, false
}

func (r *Result) add(tc TableClassification) {
	r.Tables = append(r.Tables, tc)
	r.TotalTables++
	switch tc.Category {
	case MissingInTarget:
		r.MissingInTarget++
	case IdenticalRecords:
		r.IdenticalRecords++
	case CompatibleDiff:
		r.CompatibleDiff++
	case IncompatibleDiff:
		r.IncompatibleDiff++
	}
}
