package reconcile

import (
	"github.com/sells-group/agcensus/internal/quickstats"
)

const (
	// AggregateCategory marks the record holding the county total.
	AggregateCategory = "NOT SPECIFIED"
	// TotalDomain is a synthetic domain that restates the total. Its
	// records are never summed with real breakdowns.
	TotalDomain = "TOTAL"
)

// Provenance records where a reconciled value came from.
type Provenance int

const (
	// Absent means no usable value exists.
	Absent Provenance = iota
	// Actual is a total reported by NASS.
	Actual
	// Reconstructed is a sum of disclosed subcategories of one domain.
	Reconstructed
)

func (p Provenance) String() string {
	switch p {
	case Actual:
		return "actual"
	case Reconstructed:
		return "reconstructed"
	default:
		return "absent"
	}
}

// Result is the reconciled value for one (metric, county).
type Result struct {
	Value      float64
	Provenance Provenance
	// Domain is the domain summed for a Reconstructed result.
	Domain string
	// Members is the number of values summed for a Reconstructed result.
	Members int
}

// Present reports whether r carries a value.
func (r Result) Present() bool { return r.Provenance != Absent }

// Reconcile picks a single value for the records of one metric in one
// county:
//
//  1. a disclosed aggregate total (domaincat_desc NOT SPECIFIED) is used
//     as is; the first disclosed one wins if several are present, so a
//     withheld duplicate total does not force reconstruction;
//  2. otherwise the disclosed subcategories are grouped by domain_desc,
//     skipping the TOTAL domain, and the largest group is summed. Equal
//     sized groups resolve to the lexically smallest domain label;
//  3. otherwise the result is Absent.
//
// Summing never crosses domains: each domain partitions the same farms a
// different way.
func Reconcile(records []quickstats.Record) Result {
	groups := make(map[string]*group)

	for _, rec := range records {
		p := ParseValue(rec.Value)
		if rec.DomainCatDesc == AggregateCategory {
			if p.OK {
				return Result{Value: p.Value, Provenance: Actual}
			}
			continue
		}
		if rec.DomainDesc == TotalDomain || !p.OK {
			continue
		}
		g, ok := groups[rec.DomainDesc]
		if !ok {
			g = &group{}
			groups[rec.DomainDesc] = g
		}
		g.sum += p.Value
		g.n++
	}

	best, ok := largest(groups)
	if !ok {
		return Result{}
	}
	g := groups[best]
	return Result{Value: g.sum, Provenance: Reconstructed, Domain: best, Members: g.n}
}

type group struct {
	sum float64
	n   int
}

func largest(groups map[string]*group) (string, bool) {
	var best string
	found := false
	for domain, g := range groups {
		if !found || g.n > groups[best].n || (g.n == groups[best].n && domain < best) {
			best = domain
			found = true
		}
	}
	return best, found
}
