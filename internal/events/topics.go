package events

// Topic constants for domain events emitted by the fulfillment core.
const (
	TopicShipmentStatusChanged = "shipment.status_changed"
	TopicShipmentDelivered     = "shipment.delivered"
	TopicShipmentReturned      = "shipment.returned"
	TopicCODCollected          = "cod.collected"
	TopicCODFailed             = "cod.failed"
	TopicCODReturned           = "cod.returned"
)
