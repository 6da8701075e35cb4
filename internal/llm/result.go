package llm

// ErrorSentinel is returned in place of a continuation when inference fails.
const ErrorSentinel = " [Error in generation]"

// Result carries either a generated continuation or the failure that prevented one.
type Result struct {
	continuation string
	err          error
}

// Ok wraps a successful continuation.
func Ok(continuation string) Result {
	return Result{continuation: continuation}
}

// Failed wraps an inference failure.
func Failed(err error) Result {
	return Result{err: err}
}

// Continuation returns the generated text and whether generation succeeded.
func (r Result) Continuation() (string, bool) {
	if r.err != nil {
		return "", false
	}
	return r.continuation, true
}

// Err returns the failure cause, or nil for a successful result.
func (r Result) Err() error {
	return r.err
}

// String renders the result for callers that only accept text. Failures become ErrorSentinel.
func (r Result) String() string {
	if r.err != nil {
		return ErrorSentinel
	}
	return r.continuation
}
