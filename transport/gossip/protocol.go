package gossip

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/amaydixit11/meld/transport"
)

// protocolID identifies the single libp2p stream protocol carrying
// JSON-encoded envelopes, length-prefixed exactly as the teacher's sync
// protocol frames its messages.
const protocolID = "/meld/gossip/1.0.0"

const maxEnvelopeBytes = 10 * 1024 * 1024

func writeEnvelope(w io.Writer, env transport.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("gossip: encode envelope: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("gossip: write length prefix: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func readEnvelope(r io.Reader) (transport.Envelope, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return transport.Envelope{}, err
	}
	if length > maxEnvelopeBytes {
		return transport.Envelope{}, fmt.Errorf("gossip: envelope too large: %d bytes", length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return transport.Envelope{}, err
	}
	var env transport.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return transport.Envelope{}, fmt.Errorf("gossip: decode envelope: %w", err)
	}
	return env, nil
}
