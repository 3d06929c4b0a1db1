package command

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	frameMagic     = "PDRV"
	frameVersion   = 1
	frameHeaderLen = 4 + 1 + 4

	// MaxPayload bounds a single command or response
	MaxPayload = 8 << 20
)

var (
	ErrBadFrame      = errors.New("bad frame")
	ErrFrameTooLarge = errors.New("frame too large")
)

// frame layout: magic | version u8 | payload length u32 BE | JSON payload
func writeFrame(w io.Writer, v any) error {
	payload, err := jsonMarshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	buf := bytes.NewBuffer(make([]byte, 0, frameHeaderLen+len(payload)))
	buf.WriteString(frameMagic)
	buf.WriteByte(frameVersion)
	_ = binary.Write(buf, binary.BigEndian, uint32(len(payload)))
	buf.Write(payload)

	_, err = w.Write(buf.Bytes())
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, frameHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	if string(header[:4]) != frameMagic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadFrame, header[:4])
	}
	if header[4] != frameVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadFrame, header[4])
	}

	size := binary.BigEndian.Uint32(header[5:9])
	if size > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
