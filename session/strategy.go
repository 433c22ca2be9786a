package session

// DeliveryStrategy selects how a completed child's output reaches its
// caller. The inbox path is canonical; the alternates are kept as an
// explicit, pluggable choice rather than a hard-coded behavior.
type DeliveryStrategy string

const (
	// DeliverInbox posts the output as a mailbox message to the caller.
	DeliverInbox DeliveryStrategy = "inbox"
	// DeliverResume forces an immediate wake of the caller with the output.
	DeliverResume DeliveryStrategy = "resume"
	// DeliverPersist archives the output for recall without a mailbox message.
	DeliverPersist DeliveryStrategy = "persist"
)

// ParseDeliveryStrategy maps a config string to a strategy, falling back to
// the inbox path for unknown values.
func ParseDeliveryStrategy(s string) DeliveryStrategy {
	switch DeliveryStrategy(s) {
	case DeliverResume:
		return DeliverResume
	case DeliverPersist:
		return DeliverPersist
	default:
		return DeliverInbox
	}
}
