package orders

import "strings"

type Status string

const (
	StatusNew            Status = "NEW"
	StatusConfirmed      Status = "CONFIRMED"
	StatusInProgress     Status = "IN_PROGRESS"
	StatusReady          Status = "READY"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
	StatusReturned       Status = "RETURNED"
)

// AllStatuses in lifecycle order.
var AllStatuses = []Status{
	StatusNew, StatusConfirmed, StatusInProgress, StatusReady,
	StatusOutForDelivery, StatusDelivered, StatusCancelled, StatusReturned,
}

var validNext = map[Status]map[Status]bool{
	StatusNew:            {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:      {StatusInProgress: true, StatusCancelled: true},
	StatusInProgress:     {StatusReady: true, StatusCancelled: true},
	StatusReady:          {StatusOutForDelivery: true, StatusDelivered: true, StatusReturned: true},
	StatusOutForDelivery: {StatusDelivered: true, StatusReturned: true},
	StatusDelivered:      {},
	StatusCancelled:      {},
	StatusReturned:       {StatusCancelled: true},
}

var statusLabels = map[Status]string{
	StatusNew:            "New",
	StatusConfirmed:      "Confirmed",
	StatusInProgress:     "In progress",
	StatusReady:          "Ready",
	StatusOutForDelivery: "Out for delivery",
	StatusDelivered:      "Delivered",
	StatusCancelled:      "Cancelled",
	StatusReturned:       "Returned",
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// IsTerminal reports statuses with no outgoing transition.
func IsTerminal(s Status) bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

func Label(s Status) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// ParseStatus accepts any letter case.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := validNext[st]
	return st, ok
}
