package mqtt

import (
	"context"

	"github.com/kilianp07/lastmile/core/model"
)

// Publisher pushes route plans and at-risk alerts to drivers and
// supervisors.
type Publisher interface {
	// PublishRoute sends the route to the vehicle specific topic and
	// returns the message identifier drivers acknowledge.
	PublishRoute(ctx context.Context, requestID string, r model.Route) (messageID string, err error)

	// PublishAlert broadcasts an at-risk alert.
	PublishAlert(ctx context.Context, a model.AtRiskAlert) error
}
