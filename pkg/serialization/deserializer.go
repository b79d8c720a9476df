package serialization

import (
	"bytes"
	"encoding/binary"
	"io"
)

type Deserializer struct {
	r   *bytes.Reader
	err error
}

func NewDeserializer(data []byte) *Deserializer {
	return &Deserializer{r: bytes.NewReader(data)}
}

func (d *Deserializer) Read(p []byte) {
	if d.err != nil {
		return
	}
	_, d.err = io.ReadFull(d.r, p)
}

func (d *Deserializer) ReadUint64() uint64 {
	if d.err != nil {
		return 0
	}
	var u uint64
	d.err = binary.Read(d.r, binary.BigEndian, &u)
	return u
}

func (d *Deserializer) ReadInt() int {
	return int(d.ReadUint64())
}

// ReadByteSlice reads a length-prefixed byte slice.
func (d *Deserializer) ReadByteSlice() []byte {
	if d.err != nil {
		return nil
	}
	// Read length as a uint32
	var length uint32
	d.err = binary.Read(d.r, binary.BigEndian, &length)
	if d.err != nil {
		return nil
	}
	buf := make([]byte, length)
	d.Read(buf)
	return buf
}

// ReadString reads a length-prefixed string.
func (d *Deserializer) ReadString() string {
	return string(d.ReadByteSlice())
}

func (d *Deserializer) Err() error {
	if d.err == io.EOF {
		return nil // EOF is expected
	}
	return d.err
}
