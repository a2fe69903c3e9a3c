package model

// JobEventType is the kind of change a job row suffered.
type JobEventType string

const (
	JobEventInsert JobEventType = "insert"
	JobEventUpdate JobEventType = "update"
	JobEventDelete JobEventType = "delete"
)

// JobEvent is a change notification for a job row. On deletes only the ID and
// OwnerID of the job are guaranteed to be set.
type JobEvent struct {
	Type JobEventType
	Job  Job
}
