package config

const (
	farmOperations = "FARM OPERATIONS - NUMBER OF OPERATIONS"
	areaOperated   = "AREA OPERATED"
)

// grassSeedSpecies lists the per-species grass seed columns summed into
// grass_seed_acres. Redtop has no default metric but is summed when a
// configured catalog provides it.
var grassSeedSpecies = []string{
	"grass_seed_bentgrass_acres",
	"grass_seed_bermudagrass_acres",
	"grass_seed_bluegrass_acres",
	"grass_seed_bromegrass_acres",
	"grass_seed_fescue_acres",
	"grass_seed_orchardgrass_acres",
	"grass_seed_redtop_acres",
	"grass_seed_ryegrass_acres",
	"grass_seed_sudangrass_acres",
	"grass_seed_timothy_acres",
	"grass_seed_wheatgrass_acres",
}

// DefaultMetrics returns the 2022 Census of Agriculture county catalog.
// The slice order is the processing order.
func DefaultMetrics() []MetricConfig {
	m := []MetricConfig{
		// Land and operations
		{Name: "farms", Description: farmOperations},
		{Name: "land_owned_acres", Description: "AG LAND, OWNED, IN FARMS - ACRES"},
		{Name: "land_rented_acres", Description: "AG LAND, RENTED FROM OTHERS, IN FARMS - ACRES"},
		{Name: "cropland_acres", Description: "AG LAND, CROPLAND - ACRES"},
		{Name: "harvested_cropland_acres", Description: "AG LAND, CROPLAND, HARVESTED - ACRES"},
		{Name: "irrigated_acres", Description: "AG LAND, IRRIGATED - ACRES", Filters: map[string]string{"prodn_practice_desc": "IRRIGATED"}},

		// Financials
		{Name: "market_value_total_dollars", Description: "COMMODITY TOTALS - SALES, MEASURED IN $"},
		{Name: "crops_sales_dollars", Description: "CROP TOTALS - SALES, MEASURED IN $"},
		{Name: "livestock_sales_dollars", Description: "ANIMAL TOTALS, INCL PRODUCTS - SALES, MEASURED IN $"},
		{Name: "gov_payments_dollars", Description: "GOVT PROGRAMS, FEDERAL - RECEIPTS, MEASURED IN $"},

		// Crops
		{Name: "apples_acres", Description: "APPLES - ACRES BEARING & NON-BEARING"},
		{Name: "wheat_acres", Description: "WHEAT - ACRES HARVESTED"},
		{Name: "rice_acres", Description: "RICE - ACRES HARVESTED"},
		{Name: "hazelnuts_acres", Description: "HAZELNUTS - ACRES BEARING & NON-BEARING"},
		{Name: "grass_seed_bentgrass_acres", Description: "GRASSES, BENTGRASS, SEED - ACRES HARVESTED"},
		{Name: "grass_seed_bermudagrass_acres", Description: "GRASSES, BERMUDA GRASS, SEED - ACRES HARVESTED"},
		{Name: "grass_seed_bluegrass_acres", Description: "GRASSES, BLUEGRASS, KENTUCKY, SEED - ACRES HARVESTED"},
		{Name: "grass_seed_bromegrass_acres", Description: "GRASSES, BROMEGRASS, SEED - ACRES HARVESTED"},
		{Name: "grass_seed_fescue_acres", Description: "GRASSES, FESCUE, SEED - ACRES HARVESTED"},
		{Name: "grass_seed_orchardgrass_acres", Description: "GRASSES, ORCHARDGRASS, SEED - ACRES HARVESTED"},
		{Name: "grass_seed_ryegrass_acres", Description: "GRASSES, RYEGRASS, SEED - ACRES HARVESTED"},
		{Name: "grass_seed_sudangrass_acres", Description: "GRASSES, SUDANGRASS, SEED - ACRES HARVESTED"},
		{Name: "grass_seed_timothy_acres", Description: "GRASSES, TIMOTHY, SEED - ACRES HARVESTED"},
		{Name: "grass_seed_wheatgrass_acres", Description: "GRASSES, WHEATGRASS, SEED - ACRES HARVESTED"},
		{Name: "corn_acres", Description: "CORN, GRAIN - ACRES HARVESTED"},
		{Name: "corn_silage_acres", Description: "CORN, SILAGE - ACRES HARVESTED"},
		{Name: "hay_acres", Description: "HAY - ACRES HARVESTED"},
		{Name: "haylage_acres", Description: "HAYLAGE - ACRES HARVESTED"},

		// Livestock
		{Name: "beef_cattle_head", Description: "CATTLE, COWS, BEEF - INVENTORY"},
		{Name: "dairy_cattle_head", Description: "CATTLE, COWS, MILK - INVENTORY"},
	}

	// Farm counts by size of operation.
	sizes := []struct{ name, bucket string }{
		{"farms_1_9_acres", "(1.0 TO 9.9 ACRES)"},
		{"farms_10_49_acres", "(10.0 TO 49.9 ACRES)"},
		{"farms_50_69_acres", "(50.0 TO 69.9 ACRES)"},
		{"farms_70_99_acres", "(70.0 TO 99.9 ACRES)"},
		{"farms_100_139_acres", "(100 TO 139 ACRES)"},
		{"farms_140_179_acres", "(140 TO 179 ACRES)"},
		{"farms_180_499_acres", "(180 TO 499 ACRES)"},
		{"farms_500_999_acres", "(500 TO 999 ACRES)"},
		{"farms_1000_1999_acres", "(1,000 TO 1,999 ACRES)"},
		{"farms_2000_plus_acres", "(2,000 OR MORE ACRES)"},
	}
	for _, s := range sizes {
		m = append(m, MetricConfig{
			Name:        s.name,
			Description: farmOperations,
			Filters: map[string]string{
				"domain_desc":    areaOperated,
				"domaincat_desc": areaOperated + ": " + s.bucket,
			},
		})
	}
	return m
}

// DefaultDerived returns the derived aggregate columns.
func DefaultDerived() []DerivedConfig {
	return []DerivedConfig{
		{Name: "land_in_farms_acres", Components: []string{"land_owned_acres", "land_rented_acres"}},
		{Name: "grass_seed_acres", Components: append([]string(nil), grassSeedSpecies...)},
	}
}
