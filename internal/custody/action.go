package custody

// Action is a requested custody transition. The concrete types below are the
// only implementations; Decide rejects anything else.
type Action interface {
	isAction()
}

// Initiate opens a handoff from the current custodian to a receiver.
type Initiate struct {
	ToUserID string
	ToRole   Role
}

// Confirm accepts an open handoff. The receiver records where the exchange
// happened and may re-measure the package.
type Confirm struct {
	Location   Location
	Weight     *float64
	Dimensions *PackageDimensions
}

// Dispute rejects an open handoff with a reason. The handoff record stays in
// place so the sender can re-initiate or cancel.
type Dispute struct {
	Reason string
}

// Reinitiate returns a disputed handoff to its pending state. Note is the
// sender's response to the dispute reason.
type Reinitiate struct {
	Note string
}

// CancelHandoff withdraws a pending handoff; only the initiator may do so.
type CancelHandoff struct{}

// CancelDelivery moves the delivery to its cancelled terminal state.
type CancelDelivery struct{}

// UpdateLocation records the package position while in transit.
type UpdateLocation struct {
	Location Location
}

func (Initiate) isAction()       {}
func (Confirm) isAction()        {}
func (Dispute) isAction()        {}
func (Reinitiate) isAction()     {}
func (CancelHandoff) isAction()  {}
func (CancelDelivery) isAction() {}
func (UpdateLocation) isAction() {}
