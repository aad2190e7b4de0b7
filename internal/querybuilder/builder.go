// Package querybuilder turns a validated data request into parameterised
// Athena SQL. It performs no I/O.
package querybuilder

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sh3r4rd/audit_data_requests/internal/model"
)

// Outcome classifies a build attempt.
type Outcome int

const (
	Generated Outcome = iota
	// TableUnavailable means the target table or partition is missing; it may
	// appear once data lands.
	TableUnavailable
	// NoSqlGenerated means the request selects nothing.
	NoSqlGenerated
	// InvalidField means a PII type or data path could not be used safely.
	InvalidField
)

func (o Outcome) String() string {
	switch o {
	case Generated:
		return "Generated"
	case TableUnavailable:
		return "TableUnavailable"
	case NoSqlGenerated:
		return "NoSqlGenerated"
	case InvalidField:
		return "InvalidField"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Table describes the query target as seen in the data catalog.
type Table struct {
	Database  string
	Name      string
	Available bool
	Message   string
}

// Ref is the fully qualified table reference.
func (t Table) Ref() string {
	return quoteIdent(t.Database) + "." + quoteIdent(t.Name)
}

// Lookups are the static field-path tables.
type Lookups struct {
	IdentifierPaths map[model.IdentifierType]string
	PIIPaths        map[string]string
}

// DefaultLookups returns the production tables.
func DefaultLookups() Lookups {
	return Lookups{IdentifierPaths: model.IdentifierTypeEventPaths, PIIPaths: model.PIITypeDataPaths}
}

// Input is everything a build needs.
type Input struct {
	Table          Table
	DateFrom       string
	DateTo         string
	IdentifierType model.IdentifierType
	Identifiers    []string
	PIITypes       []string
	DataPaths      []string
}

// InputFor builds an Input from request params.
func InputFor(p model.RequestParams, table Table) Input {
	return Input{
		Table:          table,
		DateFrom:       p.DateFrom,
		DateTo:         p.DateTo,
		IdentifierType: p.IdentifierType,
		Identifiers:    p.Identifiers,
		PIITypes:       p.PIITypes,
		DataPaths:      p.DataPaths,
	}
}

// Query is a build result. When Outcome is not Generated only Message is set.
type Query struct {
	Outcome Outcome
	Message string

	SQL          string
	TableRef     string
	Parameters   []string // Athena execution parameters, in placeholder order
	IDParameters []string // raw identifiers substituted, for audit logs
}

const partitionColumn = "datetime"

// Build generates the query for in. Results for equal inputs are identical.
func Build(in Input, lk Lookups) Query {
	if !in.Table.Available {
		msg := in.Table.Message
		if msg == "" {
			msg = fmt.Sprintf("Athena table %s is not available", in.Table.Ref())
		}
		return Query{Outcome: TableUnavailable, Message: msg}
	}

	eventPath, ok := lk.IdentifierPaths[in.IdentifierType]
	if !ok {
		return Query{Outcome: InvalidField, Message: fmt.Sprintf("unknown identifier type %q", in.IdentifierType)}
	}
	if len(in.Identifiers) == 0 {
		return Query{Outcome: NoSqlGenerated, Message: "no identifiers supplied, no SQL generated"}
	}

	columns, err := resolveColumns(in.PIITypes, in.DataPaths, lk.PIIPaths)
	if err != nil {
		return Query{Outcome: InvalidField, Message: err.Error()}
	}
	if len(columns) == 0 {
		return Query{Outcome: NoSqlGenerated, Message: "no PII types or data paths resolved, no SQL generated"}
	}

	from, to, err := partitionBounds(in.DateFrom, in.DateTo)
	if err != nil {
		return Query{Outcome: InvalidField, Message: err.Error()}
	}

	params := make([]string, 0, len(in.Identifiers)+2)
	preds := make([]string, 0, len(in.Identifiers))
	for _, id := range in.Identifiers {
		lit, err := Literal(id)
		if err != nil {
			return Query{Outcome: InvalidField, Message: fmt.Sprintf("identifier %q: %v", id, err)}
		}
		preds = append(preds, eventPath+" = ?")
		params = append(params, lit)
	}
	fromLit, _ := Literal(from)
	toLit, _ := Literal(to)
	params = append(params, fromLit, toLit)

	selects := make([]string, 0, len(columns))
	for _, c := range columns {
		selects = append(selects, c+" AS "+quoteIdent(Alias(c)))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(selects, ", "))
	b.WriteString(" FROM ")
	b.WriteString(in.Table.Ref())
	b.WriteString(" WHERE (")
	b.WriteString(strings.Join(preds, " OR "))
	b.WriteString(") AND ")
	b.WriteString(partitionColumn)
	b.WriteString(" >= ? AND ")
	b.WriteString(partitionColumn)
	b.WriteString(" <= ?")

	ids := make([]string, len(in.Identifiers))
	copy(ids, in.Identifiers)
	return Query{
		Outcome:      Generated,
		SQL:          b.String(),
		TableRef:     in.Table.Ref(),
		Parameters:   params,
		IDParameters: ids,
	}
}

func resolveColumns(piiTypes, dataPaths []string, piiPaths map[string]string) ([]string, error) {
	seen := make(map[string]bool)
	var cols []string
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}

	pii := append([]string(nil), piiTypes...)
	sort.Strings(pii)
	for _, t := range pii {
		p, ok := piiPaths[t]
		if !ok {
			return nil, fmt.Errorf("unknown PII type %q", t)
		}
		add(p)
	}
	for _, p := range dataPaths {
		if err := ValidatePath(p); err != nil {
			return nil, fmt.Errorf("data path %q: %w", p, err)
		}
		add(p)
	}
	return cols, nil
}

// ValidatePath accepts dot/bracket field paths such as
// "restricted.passport[0].documentnumber".
func ValidatePath(p string) error {
	return model.CheckFieldPath(p)
}

// Alias derives the result column name for a field path by dropping the
// root segment and brackets: "restricted.birthdate[0].value" becomes
// "birthdate0_value".
func Alias(p string) string {
	if i := strings.Index(p, "."); i >= 0 {
		p = p[i+1:]
	}
	r := strings.NewReplacer("[", "", "]", "", ".", "_")
	return r.Replace(p)
}

// Literal renders v as a single-quoted SQL string literal for use as an
// execution parameter. Embedded quotes are doubled; control characters are
// rejected.
func Literal(v string) (string, error) {
	if err := model.CheckNoControl(v); err != nil {
		return "", err
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'", nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// partitionBounds returns the first and last hourly partition values of the
// range, e.g. "2021/08/21/00" and "2021/08/21/23".
func partitionBounds(dateFrom, dateTo string) (string, string, error) {
	from, err := time.Parse(model.DateLayout, dateFrom)
	if err != nil {
		return "", "", fmt.Errorf("dateFrom %q: %w", dateFrom, err)
	}
	to, err := time.Parse(model.DateLayout, dateTo)
	if err != nil {
		return "", "", fmt.Errorf("dateTo %q: %w", dateTo, err)
	}
	return from.Format(model.PartitionDateLayout) + "/00", to.Format(model.PartitionDateLayout) + "/23", nil
}
