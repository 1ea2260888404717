// Package glpi holds the vocabulary of the remote GLPI REST API: search
// queries, search results, search-option metadata and the error taxonomy.
package glpi

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
)

// Item types searched by this client.
const (
	ItemTicket      = "Ticket"
	ItemUser        = "User"
	ItemGroupUser   = "Group_User"
	ItemProfileUser = "Profile_User"
)

// Search types understood by GLPI criteria.
const (
	SearchEquals   = "equals"
	SearchMoreThan = "morethan"
	SearchLessThan = "lessthan"
	SearchContains = "contains"
)

// LinkAnd joins criteria with AND semantics.
const LinkAnd = "AND"

// Criterion is a single search condition.
type Criterion struct {
	Field      string
	SearchType string
	Value      string
}

// Equals builds an equality criterion.
func Equals(field string, value any) Criterion {
	return Criterion{Field: field, SearchType: SearchEquals, Value: fmt.Sprint(value)}
}

// Query is a GLPI search request. Criteria are always joined with AND.
type Query struct {
	Criteria []Criterion

	// Range is the "start-end" window of rows to return (e.g. "0-0").
	Range string

	// SortField and Order control result ordering.
	SortField string
	Order     string

	// ExcludeDeleted adds is_deleted=0 so trashed tickets are not counted.
	ExcludeDeleted bool
}

// Where appends a criterion and returns the query for chaining.
func (q Query) Where(c Criterion) Query {
	q.Criteria = append(append([]Criterion(nil), q.Criteria...), c)
	return q
}

// Values encodes the query as GLPI query-string parameters.
//
// Example:
//
//	criteria[0][field]=8&criteria[0][searchtype]=equals&criteria[0][value]=1&
//	criteria[1][link]=AND&criteria[1][field]=2&...&range=0-0
func (q Query) Values() url.Values {
	v := url.Values{}
	for i, c := range q.Criteria {
		prefix := fmt.Sprintf("criteria[%d]", i)
		if i > 0 {
			v.Set(prefix+"[link]", LinkAnd)
		}
		v.Set(prefix+"[field]", c.Field)
		v.Set(prefix+"[searchtype]", c.SearchType)
		v.Set(prefix+"[value]", c.Value)
	}
	if q.Range != "" {
		v.Set("range", q.Range)
	}
	if q.SortField != "" {
		v.Set("sort", q.SortField)
	}
	if q.Order != "" {
		v.Set("order", q.Order)
	}
	if q.ExcludeDeleted {
		v.Set("is_deleted", "0")
	}
	return v
}

var criteriaParam = regexp.MustCompile(`^criteria\[(\d+)\]\[(field|searchtype|value)\]$`)

// ParseCriteria decodes the criteria encoded by Query.Values, ordered by index.
func ParseCriteria(v url.Values) []Criterion {
	byIndex := map[int]*Criterion{}
	for key := range v {
		m := criteriaParam.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		c, ok := byIndex[idx]
		if !ok {
			c = &Criterion{}
			byIndex[idx] = c
		}
		switch m[2] {
		case "field":
			c.Field = v.Get(key)
		case "searchtype":
			c.SearchType = v.Get(key)
		case "value":
			c.Value = v.Get(key)
		}
	}

	indexes := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]Criterion, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, *byIndex[idx])
	}
	return out
}
