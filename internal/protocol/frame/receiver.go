package frame

import (
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// Capacity of the receive buffer.
	Capacity = 192
	// DefaultStaleAfter is the inter-byte gap after which buffered bytes are
	// no longer treated as the start of the frame in progress.
	DefaultStaleAfter = 64 * time.Millisecond
)

// Handler receives each complete, checksum-valid frame. recovered is true for
// frames extracted by the resynchronization scan.
type Handler func(f Frame, recovered bool)

// ReceiverStats counts receive-path outcomes since the last Reset.
type ReceiverStats struct {
	Frames    uint64
	Recovered uint64
	Resyncs   uint64
	Discarded uint64
}

// Receiver assembles length-prefixed frames from a byte stream and recovers
// intact frames hidden inside corrupted runs.
//
// After a bad head the receiver resyncs: every arriving byte rescans the
// buffer for a complete checksum-valid frame at any offset. Bytes that could
// still grow into a frame stay buffered until a frame surfaces or the stream
// goes stale.
type Receiver struct {
	buf        [Capacity]byte
	start, end int
	resync     bool
	last       time.Time
	staleAfter time.Duration
	handler    Handler
	stats      ReceiverStats
}

// NewReceiver returns a Receiver delivering to h. staleAfter <= 0 disables the
// inter-byte timeout.
func NewReceiver(staleAfter time.Duration, h Handler) *Receiver {
	return &Receiver{staleAfter: staleAfter, handler: h}
}

// Feed appends bytes that arrived at the given time, delivering every frame
// they complete.
func (r *Receiver) Feed(data []byte, at time.Time) {
	for _, c := range data {
		r.push(c, at)
	}
}

// Expire abandons buffered bytes once the stream has been quiet longer than
// the stale timeout. Complete frames still hidden in them are delivered.
func (r *Receiver) Expire(now time.Time) {
	if r.Pending() > 0 && r.stale(now) {
		log.Debug().Msgf("frame.Receiver.Expire quiet=%s pending=%d", now.Sub(r.last), r.Pending())
		r.flush()
	}
}

// Pending returns the number of buffered bytes not yet part of a frame.
func (r *Receiver) Pending() int {
	return r.end - r.start
}

// Idle reports whether no partial frame is buffered.
func (r *Receiver) Idle() bool {
	return r.Pending() == 0
}

func (r *Receiver) Stats() ReceiverStats {
	return r.stats
}

// Reset discards buffered bytes and counters.
func (r *Receiver) Reset() {
	r.start, r.end = 0, 0
	r.resync = false
	r.stats = ReceiverStats{}
	r.last = time.Time{}
}

func (r *Receiver) stale(at time.Time) bool {
	return r.staleAfter > 0 && at.Sub(r.last) > r.staleAfter
}

func (r *Receiver) push(c byte, at time.Time) {
	if r.Pending() > 0 && r.stale(at) {
		log.Debug().Msgf("frame.Receiver.push stale gap=%s pending=%d", at.Sub(r.last), r.Pending())
		r.flush()
	}
	r.last = at

	if r.end == len(r.buf) {
		if r.start == 0 {
			r.flush()
		} else {
			r.compact()
		}
	}
	r.buf[r.end] = c
	r.end++
	r.evaluate()
}

// evaluate delivers every complete frame in the buffer.
func (r *Receiver) evaluate() {
	for r.Pending() > 0 {
		if r.resync {
			if !r.scan(false) {
				return
			}
			continue
		}
		n := r.Pending()
		if n < 2 {
			return
		}
		want := int(r.buf[r.start+OffLength]) + 2
		if want < MinLen || want > len(r.buf) {
			r.startResync()
			continue
		}
		if n < want {
			return
		}
		f := Frame(r.buf[r.start : r.start+want])
		if !Validate(f) {
			log.Debug().Msgf("frame.Receiver.evaluate checksum mismatch frame=%s", f)
			r.startResync()
			continue
		}
		r.stats.Frames++
		r.deliver(f, false)
		r.consume(want)
	}
}

// startResync drops the bad head byte and switches to scanning.
func (r *Receiver) startResync() {
	r.stats.Resyncs++
	r.discard(1)
	r.resync = true
}

// scan delivers the first complete, checksum-valid frame found at any offset,
// discarding the bytes in front of it, and reports whether one was found.
// Otherwise it keeps the bytes from the first head that could still become a
// frame, or none when final is set.
func (r *Receiver) scan(final bool) bool {
	keep := r.end
	for i := r.start; i < r.end; i++ {
		n := r.end - i
		if n < 2 {
			keep = min(keep, i)
			break
		}
		want := int(r.buf[i+OffLength]) + 2
		if want < MinLen || want > len(r.buf) {
			continue
		}
		if want > n {
			keep = min(keep, i)
			continue
		}
		f := Frame(r.buf[i : i+want])
		if !Validate(f) {
			continue
		}
		r.discard(i - r.start)
		r.resync = false
		r.stats.Recovered++
		r.deliver(f, true)
		r.consume(want)
		return true
	}
	if final {
		keep = r.end
	}
	r.discard(keep - r.start)
	if r.Pending() == 0 {
		r.resync = false
	}
	return false
}

// flush gives up on the frame in progress: hidden complete frames are
// delivered and everything else is dropped.
func (r *Receiver) flush() {
	if r.Pending() == 0 {
		return
	}
	if !r.resync {
		r.startResync()
	}
	for r.Pending() > 0 && r.scan(true) {
	}
	r.resync = false
}

func (r *Receiver) deliver(f Frame, recovered bool) {
	if r.handler != nil {
		r.handler(f, recovered)
	}
}

func (r *Receiver) discard(n int) {
	if n <= 0 {
		return
	}
	r.stats.Discarded += uint64(n)
	log.Debug().Msgf("frame.Receiver.discard bytes=%d pending=%d", n, r.Pending()-n)
	r.consume(n)
}

func (r *Receiver) consume(n int) {
	r.start += n
	if r.start >= r.end {
		r.start, r.end = 0, 0
	}
}

// compact moves buffered bytes to the front of the buffer.
func (r *Receiver) compact() {
	n := copy(r.buf[:], r.buf[r.start:r.end])
	r.start, r.end = 0, n
}
