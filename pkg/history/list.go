package history

import (
	"context"
	"net/url"
	"sort"
	"strconv"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/log"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/docstore"
)

// Report listing orders.
const (
	OrderNewest   = "newest"
	OrderOldest   = "oldest"
	OrderMaxScore = "maxscore"
	OrderMinScore = "minscore"
)

const (
	// DefaultListLimit is used when a listing sets no limit.
	DefaultListLimit = 50
	maxListLimit     = 1000
	defaultField     = "mean"
)

var (
	statFields = []string{"mean", "median", "stdev", "min", "max"}
	orders     = []string{OrderNewest, OrderOldest, OrderMaxScore, OrderMinScore}
)

// ListQuery selects stored reports. Exactly one of Image and Aggregate is set.
type ListQuery struct {
	Image     string
	Aggregate *bool
	// GE and LE bound the CVSS statistic named by Field, inclusively.
	GE    *float64
	LE    *float64
	Field string
	Order string
	Limit int
}

func invalid(format string, args ...interface{}) error {
	return errdefs.User("", errdefs.ErrInvalidArguments, format, args...)
}

// ParseListQuery reads a ListQuery from request parameters and validates it.
func ParseListQuery(values url.Values) (ListQuery, error) {
	q := ListQuery{
		Image: values.Get("image"),
		Field: values.Get("field"),
		Order: values.Get("order"),
	}
	if s := values.Get("aggregate"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return q, invalid("`aggregate` must be true or false")
		}
		q.Aggregate = &b
	}
	bounds := []struct {
		name string
		dst  **float64
	}{{"ge", &q.GE}, {"le", &q.LE}}
	for _, b := range bounds {
		s := values.Get(b.name)
		if s == "" {
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return q, invalid("`%s` must be a number", b.name)
		}
		*b.dst = &f
	}
	if s := values.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return q, invalid("`limit` must be a positive integer")
		}
		q.Limit = n
	}
	return q, q.Validate()
}

// Validate checks the parameter combination and fills defaults.
func (q *ListQuery) Validate() error {
	if (q.Image == "") == (q.Aggregate == nil) {
		return invalid("exactly one of `image` and `aggregate` must be set")
	}
	if q.GE != nil && q.LE != nil && *q.GE > *q.LE {
		return invalid("`le` must be greater than `ge`")
	}
	if q.Field == "" {
		q.Field = defaultField
	}
	if !lo.Contains(statFields, q.Field) {
		return invalid("`field` must be one of %v", statFields)
	}
	if q.Order == "" {
		q.Order = OrderNewest
	}
	if !lo.Contains(orders, q.Order) {
		return invalid("`order` must be one of %v", orders)
	}
	if q.Limit == 0 {
		q.Limit = DefaultListLimit
	}
	if q.Limit < 0 || q.Limit > maxListLimit {
		return invalid("`limit` must be between 1 and %d", maxListLimit)
	}
	return nil
}

// List returns the reports in collection matching q. The store is queried
// by equality only; the score window, ordering and limit are applied here.
func List(ctx context.Context, docs docstore.Store, collection string, q ListQuery) ([]model.ReportData, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	logger := log.NewLogger(ctx)

	dq := docstore.NewQuery(collection)
	if q.Image != "" {
		dq = dq.Where(CanonicalNamePath, "==", q.Image)
	} else {
		dq = dq.Where("aggregate", "==", *q.Aggregate)
	}
	found, err := docstore.All(docs.Documents(ctx, dq))
	if err != nil {
		return nil, err
	}

	out := make([]model.ReportData, 0, len(found))
	for _, doc := range found {
		data, err := Decode(doc)
		if err != nil {
			logger.Warn("skipping undecodable report", zap.String("id", doc.Ref.ID), zap.Error(err))
			continue
		}
		score, _ := data.Cvss.Field(q.Field)
		if q.GE != nil && score < *q.GE {
			continue
		}
		if q.LE != nil && score > *q.LE {
			continue
		}
		out = append(out, *data)
	}

	score := func(d model.ReportData) float64 {
		v, _ := d.Cvss.Field(q.Field)
		return v
	}
	sort.SliceStable(out, func(i, j int) bool {
		switch q.Order {
		case OrderOldest:
			return out[i].Timestamp.Before(out[j].Timestamp)
		case OrderMaxScore:
			return score(out[i]) > score(out[j])
		case OrderMinScore:
			return score(out[i]) < score(out[j])
		default:
			return out[i].Timestamp.After(out[j].Timestamp)
		}
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
