package audio

import (
	"sync"
)

// firstIndex is the index both mappings start from after a reset
const firstIndex = 1

// Queue is an index-keyed buffer of synthesized segments that releases them in
// strict index order. Real content lives in the main mapping; filler clips used
// to mask synthesis latency live in a separate filler mapping and are dropped as
// soon as real content supersedes them.
//
// Producers (synthesis jobs) and the single consumer (the playback loop) share
// one mutex for every operation.
type Queue struct {
	mu             sync.Mutex
	main           map[int]*Segment
	filler         map[int]*Segment
	expectedMain   int
	expectedFiller int
	playing        bool

	ready chan struct{}
}

// NewQueue creates an empty queue expecting index 1 in both mappings
func NewQueue() *Queue {
	return &Queue{
		main:           make(map[int]*Segment),
		filler:         make(map[int]*Segment),
		expectedMain:   firstIndex,
		expectedFiller: firstIndex,
		ready:          make(chan struct{}, 1),
	}
}

// Insert stores seg under its index in the filler or main mapping. The first
// writer wins: an index that is already occupied, or that playback has already
// moved past, is ignored. Returns whether the segment was stored.
func (q *Queue) Insert(seg *Segment) bool {
	if seg == nil {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	target, floor := q.main, q.expectedMain
	if seg.Filler {
		target, floor = q.filler, q.expectedFiller
	}
	if seg.Index < floor {
		return false
	}
	if _, exists := target[seg.Index]; exists {
		return false
	}
	target[seg.Index] = seg

	// Wake the consumer without blocking the producer
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// PopNext removes and returns the next segment to play, or nil if the segment
// the consumer is waiting for has not arrived yet.
//
// The main segment at the expected index always wins; taking it discards every
// pending filler and rewinds the filler index. While real content at or beyond
// the expected filler position exists, fillers are discarded instead of played.
func (q *Queue) PopNext() *Segment {
	q.mu.Lock()
	defer q.mu.Unlock()

	if seg, ok := q.main[q.expectedMain]; ok {
		delete(q.main, q.expectedMain)
		q.expectedMain++
		q.dropFillersLocked()
		return seg
	}

	if len(q.filler) == 0 {
		return nil
	}
	for index := range q.main {
		if index >= q.expectedFiller {
			q.dropFillersLocked()
			return nil
		}
	}

	if seg, ok := q.filler[q.expectedFiller]; ok {
		delete(q.filler, q.expectedFiller)
		q.expectedFiller++
		return seg
	}
	return nil
}

func (q *Queue) dropFillersLocked() {
	if len(q.filler) > 0 {
		q.filler = make(map[int]*Segment)
	}
	q.expectedFiller = firstIndex
}

// Reset clears both mappings and rewinds both indices to 1
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.main = make(map[int]*Segment)
	q.filler = make(map[int]*Segment)
	q.expectedMain = firstIndex
	q.expectedFiller = firstIndex
}

// SetPlaying records whether the consumer is currently playing a segment
func (q *Queue) SetPlaying(playing bool) {
	q.mu.Lock()
	q.playing = playing
	q.mu.Unlock()
}

// HasPendingAudio reports whether anything is buffered or playing. It backs the
// "assistant is speaking" signal.
func (q *Queue) HasPendingAudio() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing || len(q.main) > 0 || len(q.filler) > 0
}

// Len returns the number of buffered segments across both mappings
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.main) + len(q.filler)
}

// expectedIndex returns the main index the consumer is waiting for
func (q *Queue) expectedIndex() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.expectedMain
}

// Ready returns a channel that receives after an insert. It lets the consumer
// wake early instead of waiting out its poll interval.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}
