package audit

import (
	"context"
	"log"
	"strings"

	"github.com/oncoportal/platform/internal/shared/events"
	"github.com/oncoportal/platform/internal/shared/types"
)

// Subscriber projects domain events from the bus into audit entries.
type Subscriber struct {
	ledger *Ledger
}

// NewSubscriber creates an audit subscriber
func NewSubscriber(ledger *Ledger) *Subscriber {
	return &Subscriber{ledger: ledger}
}

// Start subscribes to all domain events. Runs until ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context, bus events.EventBus) error {
	return bus.Subscribe(ctx, "*", "audit-projector", s.handle)
}

func (s *Subscriber) handle(ctx context.Context, event events.Event) error {
	entry := entryFromEvent(event)
	if err := s.ledger.Append(ctx, entry); err != nil {
		log.Printf("Failed to audit event %s (%s): %v", event.ID, event.Type, err)
		return err
	}
	return nil
}

// entryFromEvent maps a domain event to an audit entry. Event types follow
// the source.resource.verb convention (accounts.user.created,
// chat.document.indexed, his.patient.synced).
func entryFromEvent(event events.Event) *AuditEntry {
	resourceType, action := splitEventType(event.Type)

	changes, _ := event.Data.(map[string]any)
	resourceID := extractResourceID(resourceType, changes)

	entry := NewEntry(actorType(event.ActorRole), event.ActorID, action, resourceType, resourceID, changes)
	entry.Timestamp = event.Timestamp
	entry.CorrelationID = event.CorrelationID
	entry.ActorIP = event.ActorIP
	return entry
}

// splitEventType breaks source.resource.verb into a resource type and a
// normalized action
func splitEventType(eventType string) (resourceType, action string) {
	parts := strings.Split(eventType, ".")
	if len(parts) < 3 {
		return eventType, ActionUpdate
	}

	resourceType = strings.Join(parts[1:len(parts)-1], ".")
	switch parts[len(parts)-1] {
	case "created", "uploaded":
		action = ActionCreate
	case "updated":
		action = ActionUpdate
	case "deleted":
		action = ActionDelete
	case "login":
		action = ActionLogin
	case "logout":
		action = ActionLogout
	default:
		// Domain verbs (verified, indexed, synced, sent, ...) stand on
		// their own.
		action = parts[len(parts)-1]
	}
	return resourceType, action
}

// extractResourceID pulls the subject's ID out of the event payload, trying
// the resource's own key first
func extractResourceID(resourceType string, data map[string]any) *types.ID {
	if data == nil {
		return nil
	}

	keys := []string{
		strings.ReplaceAll(resourceType, ".", "_") + "_id",
		"user_id", "session_id", "document_id", "message_id",
		"patient_id", "request_id",
	}
	for _, key := range keys {
		if raw, ok := data[key]; ok {
			if s, ok := raw.(string); ok && s != "" {
				id := types.ID(s)
				return &id
			}
		}
	}
	return nil
}

func actorType(role string) ActorType {
	switch role {
	case "patient":
		return ActorPatient
	case "clinician":
		return ActorClinician
	case "administrator":
		return ActorAdministrator
	default:
		return ActorSystem
	}
}
