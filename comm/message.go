package comm

import (
	"bytes"
	"encoding/base64"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/go-lattice/lattice/algebra"
	"github.com/go-lattice/lattice/clock"
)

// Structs

// Update is the versioned unit of anti-entropy between
// nodes: one committed operation together with the clock
// of the originating node at the moment of commit and the
// schema version it was built against.
type Update struct {
	Table         string        `msgpack:"table"`
	Column        string        `msgpack:"column"`
	Key           string        `msgpack:"key"`
	Kind          algebra.Kind  `msgpack:"kind"`
	Value         algebra.Value `msgpack:"value"`
	Origin        string        `msgpack:"origin"`
	Clock         clock.Clock   `msgpack:"clock"`
	SchemaVersion uint32        `msgpack:"schema_version"`
}

// Batch is the wire message exchanged between a sender
// and a peer's receiver.
type Batch struct {
	Sender  string   `msgpack:"sender"`
	Updates []Update `msgpack:"updates"`
}

// Functions

// EncodeUpdate marshals an update into one base64 log
// line terminated by a newline symbol. The line format
// keeps the durable logs greppable and framing trivial.
func EncodeUpdate(u *Update) ([]byte, error) {

	data, err := msgpack.Marshal(u)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal update to msgpack")
	}

	line := make([]byte, base64.StdEncoding.EncodedLen(len(data)), (base64.StdEncoding.EncodedLen(len(data)) + 1))
	base64.StdEncoding.Encode(line, data)
	line = append(line, '\n')

	return line, nil
}

// DecodeUpdate parses one log line back into an update.
func DecodeUpdate(line []byte) (*Update, error) {

	line = bytes.TrimRight(line, "\r\n")

	data := make([]byte, base64.StdEncoding.DecodedLen(len(line)))
	n, err := base64.StdEncoding.Decode(data, line)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base64 in update log line")
	}

	u := new(Update)

	err = msgpack.Unmarshal(data[:n], u)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal update from msgpack")
	}

	return u, nil
}

// EncodeBatch marshals a batch into one newline-terminated
// wire line.
func EncodeBatch(b *Batch) ([]byte, error) {

	data, err := msgpack.Marshal(b)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal batch to msgpack")
	}

	line := make([]byte, base64.StdEncoding.EncodedLen(len(data)), (base64.StdEncoding.EncodedLen(len(data)) + 1))
	base64.StdEncoding.Encode(line, data)
	line = append(line, '\n')

	return line, nil
}

// DecodeBatch parses one wire line back into a batch.
func DecodeBatch(line []byte) (*Batch, error) {

	line = bytes.TrimRight(line, "\r\n")

	data := make([]byte, base64.StdEncoding.DecodedLen(len(line)))
	n, err := base64.StdEncoding.Decode(data, line)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base64 in batch line")
	}

	b := new(Batch)

	err = msgpack.Unmarshal(data[:n], b)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal batch from msgpack")
	}

	return b, nil
}
