package domain

// LocationUsage is the declared usage of a storage location as reported by
// the inventory subsystem.
type LocationUsage string

const (
	UsageInternal   LocationUsage = "internal"
	UsageTransit    LocationUsage = "transit"
	UsageSupplier   LocationUsage = "supplier"
	UsageCustomer   LocationUsage = "customer"
	UsageInventory  LocationUsage = "inventory"
	UsageProduction LocationUsage = "production"
	UsageView       LocationUsage = "view"
)

// LocationClass is the coarse classification used to tell transfer legs apart.
type LocationClass string

const (
	ClassInternal LocationClass = "internal"
	ClassTransit  LocationClass = "transit"
	ClassExternal LocationClass = "external"
)

type Location struct {
	ID    string
	Name  string
	Usage LocationUsage
}

// ClassifyLocation maps a location to internal, transit or external.
// Unknown or missing locations are external so they never take part in
// leg matching.
func ClassifyLocation(loc *Location) LocationClass {
	if loc == nil {
		return ClassExternal
	}
	switch loc.Usage {
	case UsageInternal:
		return ClassInternal
	case UsageTransit:
		return ClassTransit
	default:
		return ClassExternal
	}
}
