package models

// DeliveryStatus is the canonical carrier-independent delivery state.
type DeliveryStatus string

const (
	DeliveryPending        DeliveryStatus = "PENDING"
	DeliveryPickedUp       DeliveryStatus = "PICKED_UP"
	DeliveryInTransit      DeliveryStatus = "IN_TRANSIT"
	DeliveryOutForDelivery DeliveryStatus = "OUT_FOR_DELIVERY"
	DeliveryAtDepot        DeliveryStatus = "DEPOT_TRANSPORTEUR"
	DeliveryDelivered      DeliveryStatus = "DELIVERED"
	DeliveryReturned       DeliveryStatus = "RETOUR"
	DeliveryFailed         DeliveryStatus = "FAILED"
	DeliveryCancelled      DeliveryStatus = "CANCELLED"
)

var deliveryStatuses = map[DeliveryStatus]struct{}{
	DeliveryPending:        {},
	DeliveryPickedUp:       {},
	DeliveryInTransit:      {},
	DeliveryOutForDelivery: {},
	DeliveryAtDepot:        {},
	DeliveryDelivered:      {},
	DeliveryReturned:       {},
	DeliveryFailed:         {},
	DeliveryCancelled:      {},
}

func (s DeliveryStatus) Valid() bool {
	_, ok := deliveryStatuses[s]
	return ok
}

// Terminal statuses are never polled again.
func (s DeliveryStatus) Terminal() bool {
	switch s {
	case DeliveryDelivered, DeliveryReturned, DeliveryCancelled:
		return true
	}
	return false
}

type BusinessStatus string

const (
	OrderDraft          BusinessStatus = "draft"
	OrderPreparing      BusinessStatus = "preparing"
	OrderOutForDelivery BusinessStatus = "out_for_delivery"
	OrderHeldAtDepot    BusinessStatus = "held_at_depot"
	OrderDelivered      BusinessStatus = "delivered"
	OrderReturned       BusinessStatus = "returned"
	OrderCancelled      BusinessStatus = "cancelled"
)

func (s BusinessStatus) Terminal() bool {
	switch s {
	case OrderDelivered, OrderReturned, OrderCancelled:
		return true
	}
	return false
}

type Transporter string

const (
	TransporterNone          Transporter = ""
	TransporterAramex        Transporter = "ARAMEX"
	TransporterFirstDelivery Transporter = "FIRST_DELIVERY"
	TransporterOurCompany    Transporter = "OUR_COMPANY"
)

func (t Transporter) Valid() bool {
	switch t {
	case TransporterAramex, TransporterFirstDelivery, TransporterOurCompany:
		return true
	}
	return false
}

// External is true for carriers we have to poll.
func (t Transporter) External() bool {
	return t == TransporterAramex || t == TransporterFirstDelivery
}

type ReturnStatus string

const (
	ReturnNone      ReturnStatus = "NONE"
	ReturnPending   ReturnStatus = "PENDING"
	ReturnInTransit ReturnStatus = "IN_TRANSIT"
	ReturnStocked   ReturnStatus = "STOCKED"
)

func (s ReturnStatus) rank() int {
	switch s {
	case ReturnPending:
		return 1
	case ReturnInTransit:
		return 2
	case ReturnStocked:
		return 3
	default:
		return 0
	}
}

// CanAdvanceTo forbids any move backwards along NONE -> PENDING -> IN_TRANSIT -> STOCKED.
func (s ReturnStatus) CanAdvanceTo(next ReturnStatus) bool {
	if s == ReturnStocked {
		return false
	}
	return next.rank() >= s.rank()
}

type Direction string

const (
	DirectionOutbound Direction = "OUTBOUND"
	DirectionReturn   Direction = "RETURN"
)
