package domain

// Action tokens understood by notification channels.
const (
	ActionAccept       = "accept"
	ActionDecline      = "decline"
	ActionComplete     = "complete"
	ActionCancel       = "cancel"
	ActionMessage      = "message"
	ActionContactBuyer = "contact_buyer"
)

// Statuses lists order statuses in lifecycle order.
var Statuses = []string{StatusNew, StatusAssigned, StatusAccepted, StatusDeclined, StatusCompleted, StatusCancelled}

var statusLabels = map[string]string{
	StatusNew:       "Order created",
	StatusAssigned:  "Supplier assigned",
	StatusAccepted:  "Order accepted",
	StatusDeclined:  "Order declined",
	StatusCompleted: "Order completed",
	StatusCancelled: "Order cancelled",
}

// StatusLabel returns the human readable label recorded in status_change messages.
func StatusLabel(status string) string {
	if l, ok := statusLabels[status]; ok {
		return l
	}
	return "Status changed to " + status
}

// ValidStatus reports whether s is a known order status.
func ValidStatus(s string) bool {
	_, ok := statusLabels[s]
	return ok
}

// ActionsFor lists the action tokens a recipient may take on an order in the given status.
func ActionsFor(status string) []string {
	switch status {
	case StatusNew, StatusAssigned:
		return []string{ActionAccept, ActionDecline, ActionMessage, ActionContactBuyer}
	case StatusAccepted:
		return []string{ActionComplete, ActionCancel, ActionMessage, ActionContactBuyer}
	default:
		return []string{ActionMessage}
	}
}
