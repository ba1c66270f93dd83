package propagation

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Wire message types. Everything that crosses the worker boundary is a
// msgpack-encoded envelope; the two sides share no memory.
const (
	MsgInitTLEs   = "init_tles"
	MsgPropagate  = "propagate"
	MsgChunk      = "propagation_chunk"
	MsgComplete   = "propagation_complete"
	MsgTLEsReady  = "tles_ready"
	MsgWorkerFail = "error"
)

type envelope struct {
	Type string             `msgpack:"type"`
	Seq  uint64             `msgpack:"seq"`
	Body msgpack.RawMessage `msgpack:"body"`
}

type tleLines struct {
	NORADID int    `msgpack:"noradId"`
	Line1   string `msgpack:"line1"`
	Line2   string `msgpack:"line2"`
}

type initTLEs struct {
	TLEData []tleLines `msgpack:"tleData"`
	Date    time.Time  `msgpack:"date"`
}

type propagate struct {
	Date           time.Time    `msgpack:"date"`
	FrustumPlanes  [][4]float64 `msgpack:"frustumPlanes"`
	ReferencePoint *[3]float64  `msgpack:"referencePoint"`
	Frame          Frame        `msgpack:"frame"`
}

// Chunk is a bounded batch of samples. Offset is the index of the first
// sample in the batch order; Total is the batch size.
type Chunk struct {
	Samples []Sample `msgpack:"chunk"`
	Offset  int      `msgpack:"offset"`
	Total   int      `msgpack:"total"`
}

// Complete summarizes a finished batch.
type Complete struct {
	Date       time.Time `msgpack:"date"`
	Count      int       `msgpack:"count"`
	Errors     int       `msgpack:"errors"`
	DurationMs int64     `msgpack:"durationMs"`
}

type workerError struct {
	Message string `msgpack:"message"`
}

func encode(typ string, seq uint64, body any) ([]byte, error) {
	raw, err := msgpack.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s body: %w", typ, err)
	}
	data, err := msgpack.Marshal(envelope{Type: typ, Seq: seq, Body: raw})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", typ, err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("decoding envelope: %w", err)
	}
	return env, nil
}

func decodeBody(env envelope, v any) error {
	if err := msgpack.Unmarshal(env.Body, v); err != nil {
		return fmt.Errorf("decoding %s body: %w", env.Type, err)
	}
	return nil
}
