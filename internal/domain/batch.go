package domain

// BatchResult summarises one poll cycle of a pipeline.
type BatchResult struct {
	// Selected is how many pending items the cycle picked up.
	Selected int
	// Succeeded is how many of them reached their success status.
	Succeeded int
}
