package replica

import "replikv/internal/wire"

// Log is the replica's in-memory log: an ordered, zero-indexed sequence of
// entries. It is append-only except for truncation ordered by a newer leader,
// and lives only as long as the process.
type Log struct {
	entries []wire.Entry
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Append adds entries at the tail.
func (l *Log) Append(entries ...wire.Entry) {
	l.entries = append(l.entries, entries...)
}

// Entry returns the entry at index i. The caller checks bounds.
func (l *Log) Entry(i int) wire.Entry {
	return l.entries[i]
}

// TermAt returns the term of the entry at index i, or -1 when i is outside
// the log. The -1 sentinel matches the last_term field of an append that has
// nothing earlier to match against.
func (l *Log) TermAt(i int) int {
	if i < 0 || i >= len(l.entries) {
		return -1
	}
	return l.entries[i].Term
}

// LastIndex returns the index of the last entry, or -1 for an empty log.
func (l *Log) LastIndex() int {
	return len(l.entries) - 1
}

// LastTerm returns the term of the last entry, or -1 for an empty log.
func (l *Log) LastTerm() int {
	return l.TermAt(len(l.entries) - 1)
}

// Suffix returns a copy of the entries from index from to the tail. An
// out-of-range from yields an empty slice.
func (l *Log) Suffix(from int) []wire.Entry {
	if from < 0 {
		from = 0
	}
	if from >= len(l.entries) {
		return nil
	}
	suffix := make([]wire.Entry, len(l.entries)-from)
	copy(suffix, l.entries[from:])
	return suffix
}

// Slice returns a copy of entries[from..to] inclusive, clamped to the log's
// bounds.
func (l *Log) Slice(from, to int) []wire.Entry {
	if from < 0 {
		from = 0
	}
	if to >= len(l.entries) {
		to = len(l.entries) - 1
	}
	if from > to {
		return nil
	}
	out := make([]wire.Entry, to-from+1)
	copy(out, l.entries[from:to+1])
	return out
}

// TruncateTo discards every entry at index n and beyond, keeping the first n
// entries.
func (l *Log) TruncateTo(n int) {
	if n < 0 {
		n = 0
	}
	if n < len(l.entries) {
		l.entries = l.entries[:n]
	}
}

// Replace swaps the whole log for the given entries. Used when a leader with
// nothing earlier to match against ships its log wholesale.
func (l *Log) Replace(entries []wire.Entry) {
	l.entries = make([]wire.Entry, len(entries))
	copy(l.entries, entries)
}
