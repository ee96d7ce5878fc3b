package gossip

import (
	"bytes"
	"encoding/gob"
)

// EventWire carries one settlement event over pubsub.
type EventWire struct {
	Event []byte // gob-encoded swap.Event
}

// OrdersWire carries an order book snapshot over a sync stream.
type OrdersWire struct {
	Orders []byte // gob-encoded []*swap.OrderRecord
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
