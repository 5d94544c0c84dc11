package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tornado80/sosgame/internal/cipher"
)

// maxFrameLen guards against a corrupt or hostile length prefix turning
// into an unbounded allocation; no legitimate Packet in this protocol is
// anywhere close to this size.
const maxFrameLen = 16 << 20

// framePool reuses the frame-header+ciphertext buffer across calls instead
// of allocating one per packet.
var framePool = NewBytePool(4096)

// WritePacket encodes p, encrypts it through table, frames it as
// len(uint32 big-endian) || payload, and writes it to w. A short write is
// treated the same as any other transport error: the caller closes the
// connection.
func WritePacket(w io.Writer, table *cipher.Table, p Packet) error {
	plain, err := Encode(p)
	if err != nil {
		return fmt.Errorf("encoding packet: %w", err)
	}

	frame := framePool.Get(4 + len(plain))
	defer framePool.Put(frame)

	binary.BigEndian.PutUint32(frame[:4], uint32(len(plain)))
	table.Encrypt(frame[4:], plain)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadPacket reads one length-prefixed, byte-permuted frame from r and
// decodes it into a Packet. A short read on the length or the body leaves
// the connection considered dead; callers must close it on any error
// return here.
func ReadPacket(r io.Reader, table *cipher.Table) (Packet, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading frame length: %w", err)
	}

	n := binary.BigEndian.Uint32(header[:])
	if n == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	if n > maxFrameLen {
		return nil, fmt.Errorf("frame length %d exceeds limit %d", n, maxFrameLen)
	}

	cipherText := framePool.Get(int(n))
	defer framePool.Put(cipherText)
	if _, err := io.ReadFull(r, cipherText); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}

	table.DecryptInPlace(cipherText)

	p, err := Decode(cipherText)
	if err != nil {
		return nil, fmt.Errorf("decoding packet: %w", err)
	}
	return p, nil
}
