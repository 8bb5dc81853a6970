package scale

import "context"

// Querier denotes anything able to perform a single weight query round trip
type Querier interface {

	// QueryWeight performs one query against the scale and returns the reading
	// in the native unit of the device (kilograms)
	QueryWeight(ctx context.Context) (float64, error)
}

// Device denotes a network attached scale
type Device interface {
	Querier

	// Addr returns the network address of the scale device
	Addr() string
}

// EventSource denotes a producer of stable weight events
type EventSource interface {

	// Run starts producing events until the context is cancelled, upon which the
	// returned channel is closed
	Run(ctx context.Context) (<-chan StableWeight, error)
}
