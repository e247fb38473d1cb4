// Package message provides the delivery envelope handed from broker clients to the relay and
// the normalization applied before a payload reaches the pipe.
package message

// Payload is the canonical alias for raw message body
type Payload = []byte

// Terminator ends every line written to the pipe
const Terminator = '\n'

const quote = '"'

// Delivery is a single broker message awaiting a settle decision (ack or release)
type Delivery struct {
	ID          string // Broker-assigned delivery identifier, for logging
	Tag         uint64 // Numeric delivery tag (AMQP), zero elsewhere
	Stream      string // Redis stream the entry came from
	Body        Payload
	Redelivered bool
}

// Normalize strips one leading and one trailing double quote and appends the terminator.
// The returned slice never aliases body.
func Normalize(body Payload) []byte {
	b := body
	if len(b) > 0 && b[0] == quote {
		b = b[1:]
	}
	if len(b) > 0 && b[len(b)-1] == quote {
		b = b[:len(b)-1]
	}

	line := make([]byte, 0, len(b)+1)
	line = append(line, b...)
	return append(line, Terminator)
}
