package enums

// OutboxDLQErrorReason records why the relay parked an outbox event.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts: the broker kept failing until the attempt
	// budget ran out.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable: the broker rejected the event outright.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	// OutboxDLQReasonInvalidEnvelope: the stored row could not be turned back
	// into an event.
	OutboxDLQReasonInvalidEnvelope OutboxDLQErrorReason = "invalid_envelope"
)

func (r OutboxDLQErrorReason) String() string { return string(r) }

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable, OutboxDLQReasonInvalidEnvelope:
		return true
	}
	return false
}

// Requeueable reports whether sending the stored row through the relay again
// can succeed. A bad envelope fails identically on every pass.
func (r OutboxDLQErrorReason) Requeueable() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
