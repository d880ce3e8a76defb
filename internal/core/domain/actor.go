package domain

type Capability string

const (
	CapQuantityManager            Capability = "quantity_manager"
	CapPurchaseRequisitionManager Capability = "purchase_requisition_manager"
)

// Actor is the identity on whose behalf an engine operation runs. It is
// always passed explicitly.
type Actor struct {
	ID           string
	Capabilities []Capability
}

func NewActor(id string, caps ...Capability) Actor {
	return Actor{ID: id, Capabilities: caps}
}

func (a Actor) Has(c Capability) bool {
	for _, have := range a.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}
