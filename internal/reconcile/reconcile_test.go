package reconcile

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/agcensus/internal/quickstats"
)

func total(value string) quickstats.Record {
	return quickstats.Record{DomainDesc: TotalDomain, DomainCatDesc: AggregateCategory, Value: value}
}

func sub(domain, category, value string) quickstats.Record {
	return quickstats.Record{DomainDesc: domain, DomainCatDesc: category, Value: value}
}

func TestReconcile_WithheldTotalReconstructsFromDomain(t *testing.T) {
	got := Reconcile([]quickstats.Record{
		total("(D)"),
		sub("A", "X", "100"),
		sub("A", "Y", "50"),
	})
	assert.Equal(t, 150.0, got.Value)
	assert.Equal(t, Reconstructed, got.Provenance)
	assert.Equal(t, "A", got.Domain)
	assert.Equal(t, 2, got.Members)
}

func TestReconcile_DisclosedTotal(t *testing.T) {
	got := Reconcile([]quickstats.Record{total("1,234")})
	assert.Equal(t, Result{Value: 1234, Provenance: Actual}, got)
}

func TestReconcile_DisclosedTotalWinsOverSubcategories(t *testing.T) {
	got := Reconcile([]quickstats.Record{
		sub("AREA OPERATED", "AREA OPERATED: (1.0 TO 9.9 ACRES)", "900"),
		sub("AREA OPERATED", "AREA OPERATED: (10.0 TO 49.9 ACRES)", "900"),
		total("17"),
	})
	assert.Equal(t, 17.0, got.Value)
	assert.Equal(t, Actual, got.Provenance)
}

func TestReconcile_FirstDisclosedTotalWins(t *testing.T) {
	got := Reconcile([]quickstats.Record{total("(D)"), total("5"), total("7")})
	assert.Equal(t, 5.0, got.Value)
	assert.Equal(t, Actual, got.Provenance)
}

func TestReconcile_LargerDomainChosenNeverSummedAcross(t *testing.T) {
	got := Reconcile([]quickstats.Record{
		total("(D)"),
		sub("AREA OPERATED", "a", "10"),
		sub("AREA OPERATED", "b", "20"),
		sub("AREA OPERATED", "c", "30"),
		sub("ORGANIZATION", "family", "1000"),
		sub("ORGANIZATION", "corp", "(D)"),
	})
	assert.Equal(t, 60.0, got.Value)
	assert.Equal(t, "AREA OPERATED", got.Domain)
	assert.Equal(t, 3, got.Members)
}

func TestReconcile_TotalDomainExcluded(t *testing.T) {
	got := Reconcile([]quickstats.Record{
		total("(D)"),
		sub(TotalDomain, "something", "999"),
		sub(TotalDomain, "other", "999"),
		sub("SALES", "x", "4"),
	})
	assert.Equal(t, 4.0, got.Value)
	assert.Equal(t, "SALES", got.Domain)
}

func TestReconcile_TieBreakLexical(t *testing.T) {
	recs := []quickstats.Record{
		sub("ZEBRA", "z1", "1"),
		sub("ZEBRA", "z2", "1"),
		sub("APPLE", "a1", "5"),
		sub("APPLE", "a2", "5"),
	}
	for i := 0; i < 20; i++ {
		got := Reconcile(recs)
		require.Equal(t, "APPLE", got.Domain)
		require.Equal(t, 10.0, got.Value)
	}
}

func TestReconcile_SingleMemberGroupEligible(t *testing.T) {
	got := Reconcile([]quickstats.Record{total("(D)"), sub("A", "x", "8"), sub("B", "y", "(D)")})
	assert.Equal(t, 8.0, got.Value)
	assert.Equal(t, Reconstructed, got.Provenance)
}

func TestReconcile_Absent(t *testing.T) {
	tests := map[string][]quickstats.Record{
		"no records":         nil,
		"withheld total":     {total("(D)")},
		"all withheld":       {total("(D)"), sub("A", "x", "(D)"), sub("A", "y", "")},
		"unparseable values": {total("N/A"), sub("A", "x", "N/A")},
		"only total domain":  {total("(D)"), sub(TotalDomain, "x", "12")},
	}
	for name, recs := range tests {
		t.Run(name, func(t *testing.T) {
			got := Reconcile(recs)
			assert.Equal(t, Absent, got.Provenance)
			assert.False(t, got.Present())
			assert.Zero(t, got.Value)
		})
	}
}

func TestReconcile_UnparseableTotalFallsBack(t *testing.T) {
	got := Reconcile([]quickstats.Record{total("N/A"), sub("A", "x", "3")})
	assert.Equal(t, Reconstructed, got.Provenance)
	assert.Equal(t, 3.0, got.Value)
}

// Randomized checks over generated county record sets.
func TestReconcile_Properties(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for iter := 0; iter < 500; iter++ {
		var recs []quickstats.Record
		sizes := map[string]int{}
		sums := map[string]float64{}

		for _, d := range []string{"D1", "D2"} {
			n := rng.IntN(5)
			for i := 0; i < n; i++ {
				v := float64(rng.IntN(1000))
				recs = append(recs, sub(d, fmt.Sprintf("%s-%d", d, i), strconv.FormatFloat(v, 'f', -1, 64)))
				sizes[d]++
				sums[d] += v
			}
			// Withheld members never count.
			recs = append(recs, sub(d, d+"-w", "(D)"))
		}
		rng.Shuffle(len(recs), func(i, j int) { recs[i], recs[j] = recs[j], recs[i] })

		disclosedTotal := rng.IntN(3) == 0
		if disclosedTotal {
			recs = append(recs, total("4,321"))
		} else {
			recs = append(recs, total("(D)"))
		}

		got := Reconcile(recs)
		switch {
		case disclosedTotal:
			require.Equal(t, Result{Value: 4321, Provenance: Actual}, got)
		case sizes["D1"] == 0 && sizes["D2"] == 0:
			require.Equal(t, Absent, got.Provenance)
		default:
			want := "D1"
			if sizes["D2"] > sizes["D1"] {
				want = "D2"
			}
			require.Equal(t, Reconstructed, got.Provenance)
			require.Equal(t, want, got.Domain)
			require.Equal(t, sizes[want], got.Members)
			require.InDelta(t, sums[want], got.Value, 1e-9)
		}
	}
}

func TestProvenanceString(t *testing.T) {
	assert.Equal(t, "actual", Actual.String())
	assert.Equal(t, "reconstructed", Reconstructed.String())
	assert.Equal(t, "absent", Absent.String())
}
