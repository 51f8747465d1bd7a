package bot

import "context"

// OutboundMessage is one reply to a user. A non-empty ProposalID asks the
// transport to attach yes/no buttons bound to that proposal.
type OutboundMessage struct {
	UserID     int64
	Text       string
	ProposalID string
}

// Messenger delivers messages to users.
type Messenger interface {
	Send(ctx context.Context, msg OutboundMessage) error
}
