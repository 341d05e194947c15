package notify

import (
	"fmt"
	"strings"

	"supplyrouter/internal/domain"
)

// RenderSummary formats the order card sent with every notification.
func RenderSummary(o domain.Order) string {
	return fmt.Sprintf("Order #%s\n\n%s\n\nStatus: %s", o.ID, o.Text, domain.StatusLabel(o.Status))
}

// FormatThread renders an order thread one message per line.
func FormatThread(msgs []domain.OrderMessage) string {
	if len(msgs) == 0 {
		return "No messages"
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		var marker string
		switch m.Kind {
		case domain.MessageSystem:
			marker = "[system]"
		case domain.MessageStatusChange:
			marker = "[status]"
		default:
			marker = "[text]"
		}
		lines = append(lines, marker+" "+m.Text)
	}
	return strings.Join(lines, "\n")
}
