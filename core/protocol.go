package core

// Event names of the document synchronization protocol.
const (
	EventJoinDocument     = "join-document"
	EventDocumentSnapshot = "document-snapshot"
	EventEditOperation    = "edit-operation"
	EventPersistSnapshot  = "persist-snapshot"
	EventError            = "error"
)

// Event names spoken by the first generation of editor clients. They map one to
// one onto the events above; only the outbound edit event has a distinct name.
const (
	LegacyEventGetDocument    = "get-document"
	LegacyEventLoadDocument   = "load-document"
	LegacyEventSendChanges    = "send-changes"
	LegacyEventReceiveChanges = "receive-changes"
	LegacyEventSaveChanges    = "save-changes"
)

// Dialect selects the event names a session is answered with.
type Dialect int

const (
	DialectCurrent Dialect = iota
	DialectLegacy
)

// OutboundEvent translates a server to client event into the session's dialect.
func (d Dialect) OutboundEvent(event string) string {
	if d != DialectLegacy {
		return event
	}
	switch event {
	case EventDocumentSnapshot:
		return LegacyEventLoadDocument
	case EventEditOperation:
		return LegacyEventReceiveChanges
	}
	return event
}
