// Package wire implements the fixed-size datagram format exchanged between
// workers and the aggregator. Every message is exactly 16 bytes: two
// big-endian unsigned 64-bit fields holding the worker ID and the worker's
// cumulative progress counter. A zero counter doubles as the registration
// signal, so an update's value is always at least 1.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// MessageSize is the exact length of every datagram on the wire. Anything
// shorter or longer is malformed and must be dropped by the receiver.
const MessageSize = 16

var (
	// ErrBadLength reports a datagram whose size is not MessageSize.
	ErrBadLength = errors.New("datagram length mismatch")
	// ErrWorkerIDRange reports an ID field that overflows the uint32 worker
	// ID space.
	ErrWorkerIDRange = errors.New("worker id out of range")
)

// Kind classifies a decoded message.
type Kind string

const (
	// KindRegistration announces a worker to the aggregator before its
	// first increment.
	KindRegistration Kind = "registration"
	// KindUpdate carries a worker's cumulative progress counter.
	KindUpdate Kind = "update"
)

// Message is one worker-to-aggregator datagram.
type Message struct {
	// WorkerID identifies the sending worker. IDs are assigned by the
	// caller and carried in an 8-byte field on the wire.
	WorkerID uint32
	// Value is the worker's cumulative iteration count. Zero means the
	// message is a registration, not a progress report.
	Value uint64
}

// Registration builds the announce message for a worker.
func Registration(workerID uint32) Message {
	return Message{WorkerID: workerID}
}

// Update builds a cumulative progress message. A zero value would decode as
// a registration, so callers report progress only for counts of at least 1.
func Update(workerID uint32, value uint64) Message {
	return Message{WorkerID: workerID, Value: value}
}

// Kind reports whether the message registers a worker or updates its
// progress.
func (m Message) Kind() Kind {
	if m.Value == 0 {
		return KindRegistration
	}
	return KindUpdate
}

// Marshal encodes m into its 16-byte wire form.
func (m Message) Marshal() []byte {
	buf := make([]byte, MessageSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(m.WorkerID))
	binary.BigEndian.PutUint64(buf[8:16], m.Value)
	return buf
}

// Unmarshal decodes one datagram. It returns ErrBadLength for any payload
// that is not exactly MessageSize bytes and ErrWorkerIDRange when the ID
// field does not fit a uint32; receivers treat both as malformed input to
// drop, never as a fatal condition.
func Unmarshal(data []byte) (Message, error) {
	if len(data) != MessageSize {
		return Message{}, fmt.Errorf("%w: got %d bytes, want %d", ErrBadLength, len(data), MessageSize)
	}
	id := binary.BigEndian.Uint64(data[0:8])
	if id > math.MaxUint32 {
		return Message{}, fmt.Errorf("%w: %d", ErrWorkerIDRange, id)
	}
	return Message{
		WorkerID: uint32(id),
		Value:    binary.BigEndian.Uint64(data[8:16]),
	}, nil
}
