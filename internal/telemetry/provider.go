package telemetry

// Provider synthesizes samples on demand, one per tick
type Provider interface {
	Next(timestamp int64) Sample
}
