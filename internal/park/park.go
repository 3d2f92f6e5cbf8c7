package park

import (
	"relaydesk/internal/models"
)

const DefaultLimit = 50

// Parker keeps new-message records that arrived for a conversation nobody
// was looking at, so they can be merged when that conversation is opened.
type Parker interface {
	// Park stores msgs under scope. Implementations keep at most their limit
	// of the most recent records per scope.
	Park(scope string, msgs []models.Message) error
	// Drain returns and forgets everything parked under scope, oldest first.
	Drain(scope string) ([]models.Message, error)
}

// Scope returns the parking scope of a conversation.
func Scope(instanceID, contactID string) string {
	return instanceID + "/" + contactID
}
