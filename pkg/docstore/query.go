package docstore

import (
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
)

// Direction orders query results.
type Direction int

const (
	// Asc sorts smallest first.
	Asc Direction = iota
	// Desc sorts largest first.
	Desc
)

// Filter compares the value at Path with Value.
type Filter struct {
	Path  string
	Op    string
	Value interface{}
}

// Order sorts by the value at Path.
type Order struct {
	Path      string
	Direction Direction
}

// Query selects documents of one collection. Methods return modified copies.
type Query struct {
	Collection string
	Filters    []Filter
	Orders     []Order
	LimitN     int
}

// NewQuery selects every document of collection.
func NewQuery(collection string) Query {
	return Query{Collection: collection}
}

// Where keeps documents whose field at path satisfies op value.
// Supported operators: ==, !=, <, <=, >, >=.
func (q Query) Where(path, op string, value interface{}) Query {
	q.Filters = append(append([]Filter{}, q.Filters...), Filter{Path: path, Op: op, Value: value})
	return q
}

// OrderBy sorts by the field at path. Documents without the field are dropped.
func (q Query) OrderBy(path string, dir Direction) Query {
	q.Orders = append(append([]Order{}, q.Orders...), Order{Path: path, Direction: dir})
	return q
}

// Limit caps the number of results; zero means no cap.
func (q Query) Limit(n int) Query {
	q.LimitN = n
	return q
}

var supportedOps = map[string]bool{"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

func (q Query) validate() error {
	if q.Collection == "" {
		return invalidArgument(nil, "query without collection")
	}
	for _, f := range q.Filters {
		if !supportedOps[f.Op] {
			return invalidArgument(nil, "unsupported operator %q", f.Op)
		}
	}
	if q.LimitN < 0 {
		return invalidArgument(nil, "negative limit %d", q.LimitN)
	}
	return nil
}

// apply evaluates q in memory over docs of its collection.
func (q Query) apply(docs []*Document) []*Document {
	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		if q.matches(d.Fields) {
			out = append(out, d)
		}
	}
	if len(q.Orders) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.Orders {
				a, _ := out[i].Fields.Lookup(o.Path)
				b, _ := out[j].Fields.Lookup(o.Path)
				c := compareValues(a, b)
				if c == 0 {
					continue
				}
				if o.Direction == Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.LimitN > 0 && len(out) > q.LimitN {
		out = out[:q.LimitN]
	}
	return out
}

func (q Query) matches(f Fields) bool {
	for _, o := range q.Orders {
		if _, ok := f.Lookup(o.Path); !ok {
			return false
		}
	}
	for _, flt := range q.Filters {
		v, ok := f.Lookup(flt.Path)
		if !ok {
			return false
		}
		want := normalize(flt.Value)
		got := normalize(v)
		switch flt.Op {
		case "==":
			if !reflect.DeepEqual(got, want) {
				return false
			}
		case "!=":
			if reflect.DeepEqual(got, want) {
				return false
			}
		default:
			if typeRank(got) != typeRank(want) {
				return false
			}
			c := compareValues(got, want)
			if (flt.Op == "<" && c >= 0) || (flt.Op == "<=" && c > 0) ||
				(flt.Op == ">" && c <= 0) || (flt.Op == ">=" && c < 0) {
				return false
			}
		}
	}
	return true
}

// normalize brings Go values to their JSON-shaped equivalents.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case string, bool, float64, nil:
		return v
	default:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.String {
			return rv.String()
		}
		return v
	}
}

// typeRank orders mixed types the way Firestore does.
func typeRank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	case []interface{}:
		return 5
	default:
		return 6
	}
}

// compareValues returns -1, 0 or 1. Strings that both parse as timestamps are
// compared as instants so mixed offsets and precisions order correctly.
func compareValues(a, b interface{}) int {
	a, b = normalize(a), normalize(b)
	if ra, rb := typeRank(a), typeRank(b); ra != rb {
		return cmpInt(ra, rb)
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	case string:
		y := b.(string)
		if looksLikeTimestamp(x) && looksLikeTimestamp(y) {
			tx, errX := model.ParseTimestamp(x)
			ty, errY := model.ParseTimestamp(y)
			if errX == nil && errY == nil {
				return tx.Compare(ty)
			}
		}
		return strings.Compare(x, y)
	default:
		return 0
	}
}

func looksLikeTimestamp(s string) bool {
	return len(s) >= 20 && s[4] == '-' && s[7] == '-' && (s[10] == 'T' || s[10] == ' ')
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
