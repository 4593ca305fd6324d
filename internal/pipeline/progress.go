package pipeline

// EventKind identifies a pipeline progress event.
type EventKind int

const (
	// EventTrimming is sent before silence trimming starts.
	EventTrimming EventKind = iota
	// EventEnrolling is sent before speaker enrollment starts.
	EventEnrolling
	// EventChunksPlanned carries the number of chunks about to be dispatched.
	EventChunksPlanned
	// EventChunkStarted is sent when a worker picks up a chunk.
	EventChunkStarted
	// EventChunkDone is sent when a chunk finished, successfully or not.
	EventChunkDone
)

// Event reports pipeline progress.
type Event struct {
	Kind  EventKind
	Chunk int
	Total int
	Err   error
}

// ProgressFunc receives progress events.
type ProgressFunc func(Event)
