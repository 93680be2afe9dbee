package netx

// Result is the outcome of a degrade-to-sentinel network call: either a value or
// Offline. Callers unpack it with Get, so the unavailable case is always visible
// at the call site.
type Result[T any] struct {
	value  T
	ok     bool
	reason string
}

func Ok[T any](v T) Result[T] {
	return Result[T]{value: v, ok: true}
}

func Offline[T any](reason string) Result[T] {
	if reason == "" {
		reason = "offline"
	}
	return Result[T]{reason: reason}
}

func (r Result[T]) Get() (T, bool) { return r.value, r.ok }

func (r Result[T]) IsOffline() bool { return !r.ok }

// Reason describes why the result is Offline; empty for Ok.
func (r Result[T]) Reason() string {
	if r.ok {
		return ""
	}
	return r.reason
}

func (r Result[T]) OrElse(def T) T {
	if r.ok {
		return r.value
	}
	return def
}
