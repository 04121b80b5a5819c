package orders

type TxStatus string

const (
	TxProcessing TxStatus = "Processing"
	TxSuccess    TxStatus = "Success"
	TxExpired    TxStatus = "Expired"
)

func (s TxStatus) Terminal() bool { return s == TxSuccess || s == TxExpired }

type OrderStatus string

const (
	OrderAwaitingPayment OrderStatus = "AwaitingPayment"
	OrderInTransit       OrderStatus = "InTransit"
	OrderDelivered       OrderStatus = "Delivered"
	OrderCancelled       OrderStatus = "Cancelled"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderAwaitingPayment: {OrderInTransit: true, OrderCancelled: true},
	OrderInTransit:       {OrderDelivered: true},
	OrderDelivered:       {},
	OrderCancelled:       {},
}

func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

// TransitionTo moves the order forward or reports why it cannot.
func (o *Order) TransitionTo(to OrderStatus) error {
	if !CanTransition(o.Status, to) {
		return &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: to}
	}
	o.Status = to
	return nil
}

// ParseOrderStatus accepts the persisted spelling only.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(s)
	_, ok := validNext[st]
	return st, ok
}
