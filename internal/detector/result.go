package detector

// Result is the outcome of one analyzer call within a tick. A failed call
// carries Err and leaves the fields it feeds at their last-known values.
type Result[T any] struct {
	Value T
	Err   error

	// Skipped is set when the analyzer was not run (not configured or not due).
	Skipped bool
}

// OK reports whether the analyzer ran and succeeded.
func (r Result[T]) OK() bool { return !r.Skipped && r.Err == nil }

func succeeded[T any](v T) Result[T] { return Result[T]{Value: v} }

func failed[T any](err error) Result[T] { return Result[T]{Err: err} }

func skipped[T any]() Result[T] { return Result[T]{Skipped: true} }
