package types

// Event is the canonical payload broadcast for every engine transition. The
// attribute map holds stringified fields so subscribers need no schema per
// event type.
type Event struct {
	Type       string
	Attributes map[string]string
}
