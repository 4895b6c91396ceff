// Package reliability tracks sent-but-unacknowledged segments for the
// Quantum sender: the in-flight table described in spec.md §3.
package reliability

import "time"

// Entry is one sent-but-unacknowledged segment.
type Entry struct {
	SeqID        int32
	LastSend     time.Time
	Bytes        []byte
	RetransCount int
}

// End returns the byte offset just past this entry's payload — the value a
// cumulative ACK must reach or exceed to confirm it.
func (e Entry) End() int32 {
	return e.SeqID + int32(len(e.Bytes))
}

// InFlight is the seq_id-keyed table of outstanding segments. Not safe for
// concurrent use; the sender confines all mutation to its single send-loop
// goroutine (see spec.md §5).
type InFlight struct {
	entries map[int32]*Entry
}

// NewInFlight returns an empty in-flight table.
func NewInFlight() *InFlight {
	return &InFlight{entries: make(map[int32]*Entry)}
}

// Add records a freshly sent segment. retransCount is 0 for a first send.
func (f *InFlight) Add(seqID int32, bytes []byte, sendTime time.Time, retransCount int) {
	f.entries[seqID] = &Entry{
		SeqID:        seqID,
		LastSend:     sendTime,
		Bytes:        bytes,
		RetransCount: retransCount,
	}
}

// Get returns the entry at seqID, if any.
func (f *InFlight) Get(seqID int32) (Entry, bool) {
	e, ok := f.entries[seqID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// MarkResent updates an entry's send timestamp and bumps its retransmission
// count in place, returning the updated entry.
func (f *InFlight) MarkResent(seqID int32, sendTime time.Time) (Entry, bool) {
	e, ok := f.entries[seqID]
	if !ok {
		return Entry{}, false
	}
	e.LastSend = sendTime
	e.RetransCount++
	return *e, true
}

// Remove drops an entry without returning it (used when a stuck
// retransmission is abandoned per spec.md §4.5.8).
func (f *InFlight) Remove(seqID int32) {
	delete(f.entries, seqID)
}

// Len returns the number of outstanding segments.
func (f *InFlight) Len() int {
	return len(f.entries)
}

// SmallestSeqID returns the lowest outstanding seq_id. The second return
// value is false when the table is empty.
func (f *InFlight) SmallestSeqID() (int32, bool) {
	first := true
	var smallest int32
	for seq := range f.entries {
		if first || seq < smallest {
			smallest = seq
			first = false
		}
	}
	return smallest, !first
}

// LargestSeqID returns the highest outstanding seq_id. The second return
// value is false when the table is empty.
func (f *InFlight) LargestSeqID() (int32, bool) {
	first := true
	var largest int32
	for seq := range f.entries {
		if first || seq > largest {
			largest = seq
			first = false
		}
	}
	return largest, !first
}

// RetireUpTo removes and returns every entry whose end offset is covered by
// a cumulative ACK at ackID (entry.End() <= ackID), i.e. every segment the
// receiver has now fully confirmed.
func (f *InFlight) RetireUpTo(ackID int32) []Entry {
	var retired []Entry
	for seq, e := range f.entries {
		if e.End() <= ackID {
			retired = append(retired, *e)
			delete(f.entries, seq)
		}
	}
	return retired
}
