package topic

// Filter wildcards used by watchers that follow every sync instance.
const (
	// Wildcard stands for one topic level, e.g. the instance id in
	// fleet/v1/health/+.
	Wildcard = "+"

	// MultiWildcard stands for the remaining levels and may only close a filter,
	// e.g. fleet/v1/#.
	MultiWildcard = "#"
)
