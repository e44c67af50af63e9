// Package softdelete implements the discard/restore lifecycle for kept records and keeps
// the denormalised counters on their parent aggregates in step.
package softdelete

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/odyssey-bi/backoffice/internal/shared"
)

var (
	// ErrAlreadyDiscarded is returned when discarding a record that is already discarded.
	ErrAlreadyDiscarded = errors.New("softdelete: record already discarded")
	// ErrNotDiscarded is returned when restoring a record that is kept.
	ErrNotDiscarded = errors.New("softdelete: record is not discarded")
)

var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Counter describes a parent column that must equal the number of kept children.
type Counter struct {
	Name        string
	ParentTable string
	Column      string
	ChildTable  string
	ForeignKey  string
}

// ChildGuard blocks discarding a parent while kept rows in Table reference it.
type ChildGuard struct {
	Table      string
	ForeignKey string
	Label      string
}

// Spec describes one soft-deletable table.
type Spec struct {
	Table    string
	Counters []Counter
	Guards   []ChildGuard
}

// Counters maintained by the back office.
var (
	CompanyProjects = Counter{
		Name:        "companies.projects_count",
		ParentTable: "companies",
		Column:      "projects_count",
		ChildTable:  "projects",
		ForeignKey:  "company_id",
	}
	CompanyUsers = Counter{
		Name:        "companies.users_count",
		ParentTable: "companies",
		Column:      "users_count",
		ChildTable:  "users",
		ForeignKey:  "company_id",
	}
)

// Specs for the soft-deletable tables.
var (
	Companies = Spec{
		Table: "companies",
		Guards: []ChildGuard{
			{Table: "projects", ForeignKey: "company_id", Label: "projects"},
			{Table: "users", ForeignKey: "company_id", Label: "users"},
		},
	}
	Projects = Spec{
		Table:    "projects",
		Counters: []Counter{CompanyProjects},
		Guards:   []ChildGuard{{Table: "dashboards", ForeignKey: "project_id", Label: "dashboards"}},
	}
	Dashboards = Spec{Table: "dashboards"}
	Users      = Spec{Table: "users", Counters: []Counter{CompanyUsers}}
)

// AllCounters lists every maintained counter, in repair order.
func AllCounters() []Counter {
	return []Counter{CompanyProjects, CompanyUsers}
}

// CounterByName finds a maintained counter.
func CounterByName(name string) (Counter, bool) {
	for _, c := range AllCounters() {
		if c.Name == name {
			return c, true
		}
	}
	return Counter{}, false
}

// Validate rejects identifiers that are not plain lower-case SQL names.
func (c Counter) Validate() error {
	for _, ident := range []string{c.ParentTable, c.Column, c.ChildTable, c.ForeignKey} {
		if !identPattern.MatchString(ident) {
			return fmt.Errorf("softdelete: counter %q: bad identifier %q", c.Name, ident)
		}
	}
	return nil
}

// Validate checks the table, counters and guards.
func (s Spec) Validate() error {
	if !identPattern.MatchString(s.Table) {
		return fmt.Errorf("softdelete: bad table %q", s.Table)
	}
	for _, c := range s.Counters {
		if err := c.Validate(); err != nil {
			return err
		}
		if c.ChildTable != s.Table {
			return fmt.Errorf("softdelete: counter %q does not count %s", c.Name, s.Table)
		}
	}
	for _, g := range s.Guards {
		if !identPattern.MatchString(g.Table) || !identPattern.MatchString(g.ForeignKey) {
			return fmt.Errorf("softdelete: bad guard on %s", s.Table)
		}
	}
	return nil
}

// counter returns the spec's counter keyed by foreign key.
func (s Spec) counter(foreignKey string) (Counter, bool) {
	for _, c := range s.Counters {
		if c.ForeignKey == foreignKey {
			return c, true
		}
	}
	return Counter{}, false
}

func invalidTransition(err error) error {
	return fmt.Errorf("%w: %w", shared.ErrValidationFailed, err)
}

func activeChildren(table string, g ChildGuard) error {
	label := g.Label
	if label == "" {
		label = g.Table
	}
	return fmt.Errorf("softdelete: %s has kept %s: %w", table, label, shared.ErrHasActiveChildren)
}
