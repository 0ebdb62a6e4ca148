package coverage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf16"

	"fortio.org/safecast"
)

// Block types and header constants of the JaCoCo execution data format.
const (
	blockHeader    byte = 0x01
	blockSession   byte = 0x10
	blockExecution byte = 0x11

	formatMagic   uint16 = 0xC0C0
	FormatVersion uint16 = 0x1007
)

// ErrInvalidFile is returned for input that is not execution data.
var ErrInvalidFile = errors.New("invalid execution data file")

// ErrVersion is returned for execution data of an unsupported version.
var ErrVersion = errors.New("incompatible execution data version")

// Reader decodes an execution data stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Read decodes every block and hands session and class events to v. The
// stream must start with a header block; more headers may follow, as in
// files appended to by several runs.
func (rd *Reader) Read(v Visitor) error {
	first := true
	for {
		typ, err := rd.r.ReadByte()
		if errors.Is(err, io.EOF) {
			if first {
				return fmt.Errorf("%w: empty input", ErrInvalidFile)
			}
			return nil
		}
		if err != nil {
			return err
		}
		if first && typ != blockHeader {
			return fmt.Errorf("%w: missing header", ErrInvalidFile)
		}
		first = false

		switch typ {
		case blockHeader:
			err = rd.readHeader()
		case blockSession:
			err = rd.readSession(v)
		case blockExecution:
			err = rd.readExecution(v)
		default:
			err = fmt.Errorf("%w: unknown block type %#x", ErrInvalidFile, typ)
		}
		if err != nil {
			return err
		}
	}
}

func (rd *Reader) readHeader() error {
	var hdr struct {
		Magic   uint16
		Version uint16
	}
	if err := binary.Read(rd.r, binary.BigEndian, &hdr); err != nil {
		return fmt.Errorf("reading header: %w", unexpected(err))
	}
	if hdr.Magic != formatMagic {
		return fmt.Errorf("%w: bad magic %#x", ErrInvalidFile, hdr.Magic)
	}
	if hdr.Version != FormatVersion {
		return fmt.Errorf("%w: %#x", ErrVersion, hdr.Version)
	}
	return nil
}

func (rd *Reader) readSession(v Visitor) error {
	id, err := rd.readUTF()
	if err != nil {
		return fmt.Errorf("reading session id: %w", err)
	}
	var times [2]int64
	if err := binary.Read(rd.r, binary.BigEndian, &times); err != nil {
		return fmt.Errorf("reading session %q: %w", id, unexpected(err))
	}
	return v.VisitSession(SessionInfo{ID: id, Start: times[0], Dump: times[1]})
}

func (rd *Reader) readExecution(v Visitor) error {
	var id int64
	if err := binary.Read(rd.r, binary.BigEndian, &id); err != nil {
		return fmt.Errorf("reading class id: %w", unexpected(err))
	}
	name, err := rd.readUTF()
	if err != nil {
		return fmt.Errorf("reading class name: %w", err)
	}
	probes, err := rd.readBools()
	if err != nil {
		return fmt.Errorf("reading probes of %s: %w", name, err)
	}
	return v.VisitClass(ExecutionData{ID: id, Name: name, Probes: probes})
}

// readVarInt reads an unsigned 32-bit value in 7-bit groups, low group first.
func (rd *Reader) readVarInt() (int, error) {
	var v uint32
	for shift := uint(0); shift < 35; shift += 7 {
		b, err := rd.r.ReadByte()
		if err != nil {
			return 0, unexpected(err)
		}
		if shift == 28 && b&0x70 != 0 {
			return 0, fmt.Errorf("%w: varint overflows 32 bits", ErrInvalidFile)
		}
		v |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			n, err := safecast.Conv[int](v)
			if err != nil {
				return 0, fmt.Errorf("%w: %w", ErrInvalidFile, err)
			}
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: varint too long", ErrInvalidFile)
}

// maxPrealloc bounds the up-front allocation for a probe array; longer
// arrays grow as their bytes arrive.
const maxPrealloc = 1 << 16

// readBools reads a varint length followed by the values packed eight to a
// byte, least significant bit first.
func (rd *Reader) readBools() ([]bool, error) {
	n, err := rd.readVarInt()
	if err != nil {
		return nil, err
	}
	out := make([]bool, 0, min(n, maxPrealloc))
	for len(out) < n {
		b, err := rd.r.ReadByte()
		if err != nil {
			return nil, unexpected(err)
		}
		for bit := 0; bit < 8 && len(out) < n; bit++ {
			out = append(out, b&(1<<bit) != 0)
		}
	}
	return out, nil
}

// readUTF reads a length-prefixed modified UTF-8 string.
func (rd *Reader) readUTF() (string, error) {
	var n uint16
	if err := binary.Read(rd.r, binary.BigEndian, &n); err != nil {
		return "", unexpected(err)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rd.r, b); err != nil {
		return "", unexpected(err)
	}
	return decodeModifiedUTF8(b)
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Writer encodes execution data. It implements Visitor, so a Reader can be
// piped straight into it.
type Writer struct {
	w   *bufio.Writer
	err error
}

// NewWriter writes the file header to w and returns a Writer. Call Flush when
// done.
func NewWriter(w io.Writer) *Writer {
	wr := &Writer{w: bufio.NewWriter(w)}
	wr.writeByte(blockHeader)
	wr.writeUint16(formatMagic)
	wr.writeUint16(FormatVersion)
	return wr
}

// VisitSession writes a session block.
func (wr *Writer) VisitSession(info SessionInfo) error {
	wr.writeByte(blockSession)
	wr.writeUTF(info.ID)
	wr.writeInt64(info.Start)
	wr.writeInt64(info.Dump)
	return wr.err
}

// VisitClass writes an execution block. Classes without any hit are skipped.
func (wr *Writer) VisitClass(data ExecutionData) error {
	if !data.HasHits() {
		return wr.err
	}
	wr.writeByte(blockExecution)
	wr.writeInt64(data.ID)
	wr.writeUTF(data.Name)
	wr.writeBools(data.Probes)
	return wr.err
}

// WriteStore writes one session holding every entry of s.
func (wr *Writer) WriteStore(info SessionInfo, s *Store) error {
	if err := wr.VisitSession(info); err != nil {
		return err
	}
	for _, d := range s.Contents() {
		if err := wr.VisitClass(d); err != nil {
			return err
		}
	}
	return wr.err
}

// Flush writes buffered data to the underlying writer.
func (wr *Writer) Flush() error {
	if wr.err != nil {
		return wr.err
	}
	return wr.w.Flush()
}

func (wr *Writer) writeByte(b byte) {
	if wr.err == nil {
		wr.err = wr.w.WriteByte(b)
	}
}

func (wr *Writer) writeUint16(v uint16) {
	if wr.err == nil {
		wr.err = binary.Write(wr.w, binary.BigEndian, v)
	}
}

func (wr *Writer) writeInt64(v int64) {
	if wr.err == nil {
		wr.err = binary.Write(wr.w, binary.BigEndian, v)
	}
}

func (wr *Writer) writeVarInt(v uint32) {
	for v&^0x7F != 0 {
		wr.writeByte(byte(v&0x7F) | 0x80)
		v >>= 7
	}
	wr.writeByte(byte(v))
}

func (wr *Writer) writeBools(values []bool) {
	n32, err := safecast.Conv[uint32](len(values))
	if err != nil && wr.err == nil {
		wr.err = err
	}
	wr.writeVarInt(n32)
	var buf byte
	n := 0
	for _, v := range values {
		if v {
			buf |= 1 << n
		}
		n++
		if n == 8 {
			wr.writeByte(buf)
			buf, n = 0, 0
		}
	}
	if n > 0 {
		wr.writeByte(buf)
	}
}

func (wr *Writer) writeUTF(s string) {
	b := encodeModifiedUTF8(s)
	n, err := safecast.Conv[uint16](len(b))
	if err != nil {
		if wr.err == nil {
			wr.err = fmt.Errorf("string too long for execution data: %d bytes", len(b))
		}
		return
	}
	wr.writeUint16(n)
	if wr.err == nil {
		_, wr.err = wr.w.Write(b)
	}
}

// encodeModifiedUTF8 encodes s the way Java's DataOutput.writeUTF does: NUL
// takes two bytes and characters outside the BMP are written as surrogate
// pairs of three bytes each.
func encodeModifiedUTF8(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, c := range utf16.Encode([]rune(s)) {
		switch {
		case c != 0 && c < 0x80:
			out = append(out, byte(c))
		case c < 0x800:
			out = append(out, byte(0xC0|c>>6), byte(0x80|c&0x3F))
		default:
			out = append(out, byte(0xE0|c>>12), byte(0x80|(c>>6)&0x3F), byte(0x80|c&0x3F))
		}
	}
	return out
}

func decodeModifiedUTF8(b []byte) (string, error) {
	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return "", fmt.Errorf("%w: malformed string", ErrInvalidFile)
			}
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return "", fmt.Errorf("%w: malformed string", ErrInvalidFile)
			}
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			return "", fmt.Errorf("%w: malformed string", ErrInvalidFile)
		}
	}
	return string(utf16.Decode(units)), nil
}
