package order

// OrderState implements the state pattern for order lifecycle transitions.
type OrderState interface {
	Status() Status
	OnPaymentSucceeded(o *Order) (OrderState, error)
	OnCancelled(o *Order) (OrderState, error)
	OnProcessing(o *Order) (OrderState, error)
	OnReady(o *Order) (OrderState, error)
	OnDelivered(o *Order) (OrderState, error)
}

func stateFor(s Status) (OrderState, error) {
	switch s {
	case StatusPending:
		return pendingState{}, nil
	case StatusPaid:
		return paidState{}, nil
	case StatusProcessing:
		return processingState{}, nil
	case StatusReady:
		return readyState{}, nil
	case StatusDelivered:
		return deliveredState{}, nil
	case StatusCancelled:
		return cancelledState{}, nil
	}
	return nil, ErrUnknownStatus
}

// rejectAll is embedded so each state only spells out the transitions it allows.
type rejectAll struct{}

func (rejectAll) OnPaymentSucceeded(*Order) (OrderState, error) { return nil, ErrInvalidStateTransition }
func (rejectAll) OnCancelled(*Order) (OrderState, error)        { return nil, ErrInvalidStateTransition }
func (rejectAll) OnProcessing(*Order) (OrderState, error)       { return nil, ErrInvalidStateTransition }
func (rejectAll) OnReady(*Order) (OrderState, error)            { return nil, ErrInvalidStateTransition }
func (rejectAll) OnDelivered(*Order) (OrderState, error)        { return nil, ErrInvalidStateTransition }

type pendingState struct{ rejectAll }

func (pendingState) Status() Status { return StatusPending }

func (pendingState) OnPaymentSucceeded(*Order) (OrderState, error) { return paidState{}, nil }
func (pendingState) OnCancelled(*Order) (OrderState, error)        { return cancelledState{}, nil }

type paidState struct{ rejectAll }

func (paidState) Status() Status { return StatusPaid }

func (paidState) OnProcessing(*Order) (OrderState, error) { return processingState{}, nil }
func (paidState) OnCancelled(*Order) (OrderState, error)  { return cancelledState{}, nil }

type processingState struct{ rejectAll }

func (processingState) Status() Status { return StatusProcessing }

func (processingState) OnReady(*Order) (OrderState, error) { return readyState{}, nil }

type readyState struct{ rejectAll }

func (readyState) Status() Status { return StatusReady }

func (readyState) OnDelivered(*Order) (OrderState, error) { return deliveredState{}, nil }

type deliveredState struct{ rejectAll }

func (deliveredState) Status() Status { return StatusDelivered }

type cancelledState struct{ rejectAll }

func (cancelledState) Status() Status { return StatusCancelled }
