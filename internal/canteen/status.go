package canteen

type Status string

const (
	StatusPending   Status = "pending"
	StatusServing   Status = "serving"
	StatusServed    Status = "served"
	StatusCancelled Status = "cancelled"
)

// ActiveStatuses occupy slot capacity.
var ActiveStatuses = []Status{StatusPending, StatusServing}

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusServing: true, StatusCancelled: true},
	StatusServing:   {StatusServed: true},
	StatusServed:    {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Active() bool {
	return s == StatusPending || s == StatusServing
}

func (s Status) Terminal() bool {
	return s == StatusServed || s == StatusCancelled
}
