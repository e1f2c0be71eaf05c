package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"slices"
	"time"
)

const sessionFormatVersionCurrent = 1

const flagElevated = 1 << 0

// Codec is the compact binary form of a [Session]. It satisfies the codec
// contract of the Redis store.
type Codec struct{}

// Marshal encodes s.
func (Codec) Marshal(s Session) ([]byte, error) { return Encode(&s) }

// Unmarshal decodes data.
func (Codec) Unmarshal(data []byte) (Session, error) {
	s, err := Decode(data)
	if err != nil {
		return Session{}, err
	}
	return *s, nil
}

// Encode writes s in the current schema version.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionCurrent)

	for _, f := range []struct{ name, v string }{
		{"session id", s.ID},
		{"principal id", s.PrincipalID},
		{"tenant id", s.TenantID},
		{"role", s.Role},
	} {
		if err := writeString8(&buf, f.name, f.v); err != nil {
			return nil, err
		}
	}

	writeInt64(&buf, s.CreatedAt.UnixNano())
	writeInt64(&buf, s.LastActivityAt.UnixNano())

	addr := []byte{}
	if s.Origin.Addr.IsValid() {
		addr = s.Origin.Addr.AsSlice()
	}
	buf.WriteByte(byte(len(addr)))
	buf.Write(addr)
	if err := writeString8(&buf, "country", s.Origin.Country); err != nil {
		return nil, err
	}

	buf.Write(s.AgentHash[:])

	writeInt64(&buf, int64(s.IdleTimeout))
	writeInt64(&buf, int64(s.AbsoluteTimeout))
	_ = binary.Write(&buf, binary.BigEndian, s.Slot)

	var flags byte
	if s.Elevated {
		flags |= flagElevated
	}
	buf.WriteByte(flags)

	if len(s.Values) > 255 {
		return nil, errors.New("too many session values")
	}
	buf.WriteByte(byte(len(s.Values)))
	keys := make([]string, 0, len(s.Values))
	for k := range s.Values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := writeString8(&buf, "value key", k); err != nil {
			return nil, err
		}
		v := s.Values[k]
		if len(v) > 0xFFFF {
			return nil, fmt.Errorf("session value %q too long", k)
		}
		_ = binary.Write(&buf, binary.BigEndian, uint16(len(v)))
		buf.WriteString(v)
	}

	return buf.Bytes(), nil
}

// Decode parses data produced by [Encode].
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent {
		return nil, fmt.Errorf("unsupported session schema version %d", version)
	}

	s := &Session{}
	for _, dst := range []*string{&s.ID, &s.PrincipalID, &s.TenantID, &s.Role} {
		if *dst, err = readString8(reader); err != nil {
			return nil, err
		}
	}

	created, err := readInt64(reader)
	if err != nil {
		return nil, err
	}
	last, err := readInt64(reader)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = time.Unix(0, created)
	s.LastActivityAt = time.Unix(0, last)

	addrLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	switch addrLen {
	case 0:
	case 4, 16:
		raw := make([]byte, addrLen)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		s.Origin.Addr, _ = netip.AddrFromSlice(raw)
	default:
		return nil, errors.New("invalid origin address length")
	}
	if s.Origin.Country, err = readString8(reader); err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(reader, s.AgentHash[:]); err != nil {
		return nil, err
	}

	idle, err := readInt64(reader)
	if err != nil {
		return nil, err
	}
	abs, err := readInt64(reader)
	if err != nil {
		return nil, err
	}
	s.IdleTimeout = time.Duration(idle)
	s.AbsoluteTimeout = time.Duration(abs)

	if err := binary.Read(reader, binary.BigEndian, &s.Slot); err != nil {
		return nil, err
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	s.Elevated = flags&flagElevated != 0

	count, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if count > 0 {
		s.Values = make(map[string]string, count)
	}
	for i := 0; i < int(count); i++ {
		k, err := readString8(reader)
		if err != nil {
			return nil, err
		}
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		v := make([]byte, n)
		if _, err := io.ReadFull(reader, v); err != nil {
			return nil, err
		}
		s.Values[k] = string(v)
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes after session")
	}
	return s, nil
}

func writeString8(buf *bytes.Buffer, name, v string) error {
	if len(v) > 255 {
		return fmt.Errorf("%s too long", name)
	}
	buf.WriteByte(byte(len(v)))
	buf.WriteString(v)
	return nil
}

func writeInt64(buf *bytes.Buffer, v int64) {
	_ = binary.Write(buf, binary.BigEndian, v)
}

func readString8(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readInt64(r *bytes.Reader) (int64, error) {
	var v int64
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}
