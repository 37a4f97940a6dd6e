package push

// Result reports the outcome of one Push call. It is never mutated after
// construction.
type Result struct {
	// OK is true only when every recipient was reached.
	OK bool
	// Message describes the failure; empty on full success.
	Message string
	// SuccessCount is how many recipients were reached before the call
	// returned.
	SuccessCount int
}

func failure(message string, reached int) Result {
	return Result{Message: message, SuccessCount: reached}
}

func success(reached int) Result {
	return Result{OK: true, SuccessCount: reached}
}
