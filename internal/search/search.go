package search

import "fmt"

// Predicate is one structured filter on listing search: a field, an operator,
// and a value. The same descriptor list drives both backends, so adding a
// filter means adding a descriptor, not another query-builder branch.
type Predicate struct {
	Field string // city, state, zip, beds, price_cents
	Op    string // eq, gte, lte
	Value any
}

var predicateColumns = map[string]string{
	"city":        "city",
	"state":       "state",
	"zip":         "zip",
	"beds":        "beds",
	"price_cents": "price_cents",
}

var predicateOps = map[string]string{
	"eq":  "=",
	"gte": ">=",
	"lte": "<=",
}

// Valid reports whether the predicate names a known field and operator.
func (p Predicate) Valid() bool {
	_, fieldOK := predicateColumns[p.Field]
	_, opOK := predicateOps[p.Op]
	return fieldOK && opOK
}

// SQLClause renders the predicate as a parameterized SQL fragment using the
// given placeholder number.
func (p Predicate) SQLClause(argN int) string {
	return fmt.Sprintf("l.%s %s $%d", predicateColumns[p.Field], predicateOps[p.Op], argN)
}

// MeiliFilter renders the predicate in Meilisearch filter syntax.
func (p Predicate) MeiliFilter() string {
	if s, ok := p.Value.(string); ok {
		return fmt.Sprintf("%s %s %q", p.Field, predicateOps[p.Op], s)
	}
	return fmt.Sprintf("%s %s %v", p.Field, predicateOps[p.Op], p.Value)
}

// Query describes a listing search request. Text may be empty for a pure
// filter browse.
type Query struct {
	Text    string
	Filters []Predicate
	Limit   int
	Offset  int
}

// Result is a single listing hit returned to the caller.
type Result struct {
	ID         string  `json:"id"`
	Address    string  `json:"address"`
	City       string  `json:"city"`
	State      string  `json:"state"`
	Zip        string  `json:"zip"`
	PriceCents int64   `json:"priceCents"`
	Beds       int     `json:"beds"`
	Baths      float64 `json:"baths"`
	Snippet    string  `json:"snippet"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a listing search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ListingRecord is the data we index for a listing.
type ListingRecord struct {
	ID          string  `json:"id"`
	Address     string  `json:"address"`
	City        string  `json:"city"`
	State       string  `json:"state"`
	Zip         string  `json:"zip"`
	Description string  `json:"description"`
	PriceCents  int64   `json:"price_cents"`
	Beds        int     `json:"beds"`
	Baths       float64 `json:"baths"`
	Sqft        int     `json:"sqft"`
	Status      string  `json:"status"`
}
