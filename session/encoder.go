package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// Record blob layout (version 1). The header is fixed-width so the rotation
// and revocation Lua scripts can read the expiry and flip the revoked flag
// at known offsets without decoding the variable tail.
//
//	[0]     version
//	[1]     flags (bit 0: revoked)
//	[2:10]  expiresAt  (unix, big endian)
//	[10:18] createdAt  (unix, big endian)
//	[18:26] revokedAt  (unix, big endian; zero while active)
//	[26:]   userID, familyID (len byte + bytes each),
//	        deviceInfo (len uint16 + bytes), ip (len byte + bytes)
const (
	recordVersionV1 byte = 1

	flagRevoked byte = 1 << 0
)

var errRecordTooLarge = errors.New("session record field too large")

func encodeRecord(rec *Record) ([]byte, error) {
	if len(rec.UserID) > 255 || len(rec.FamilyID) > 255 || len(rec.IP) > 255 {
		return nil, errRecordTooLarge
	}
	if len(rec.DeviceInfo) > 65535 {
		return nil, errRecordTooLarge
	}

	var buf bytes.Buffer
	buf.WriteByte(recordVersionV1)

	var flags byte
	if rec.Revoked {
		flags |= flagRevoked
	}
	buf.WriteByte(flags)

	for _, v := range []int64{rec.ExpiresAt, rec.CreatedAt, rec.RevokedAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}

	buf.WriteByte(byte(len(rec.UserID)))
	buf.WriteString(rec.UserID)
	buf.WriteByte(byte(len(rec.FamilyID)))
	buf.WriteString(rec.FamilyID)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(rec.DeviceInfo))); err != nil {
		return nil, err
	}
	buf.WriteString(rec.DeviceInfo)
	buf.WriteByte(byte(len(rec.IP)))
	buf.WriteString(rec.IP)

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, ErrRecordCorrupt
	}
	if version != recordVersionV1 {
		return nil, ErrRecordCorrupt
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, ErrRecordCorrupt
	}

	rec := &Record{
		Revoked: flags&flagRevoked != 0,
	}

	for _, dst := range []*int64{&rec.ExpiresAt, &rec.CreatedAt, &rec.RevokedAt} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, ErrRecordCorrupt
		}
	}

	if rec.UserID, err = readShortString(reader); err != nil {
		return nil, ErrRecordCorrupt
	}
	if rec.FamilyID, err = readShortString(reader); err != nil {
		return nil, ErrRecordCorrupt
	}

	var deviceLen uint16
	if err := binary.Read(reader, binary.BigEndian, &deviceLen); err != nil {
		return nil, ErrRecordCorrupt
	}
	device := make([]byte, deviceLen)
	if _, err := io.ReadFull(reader, device); err != nil {
		return nil, ErrRecordCorrupt
	}
	rec.DeviceInfo = string(device)

	if rec.IP, err = readShortString(reader); err != nil {
		return nil, ErrRecordCorrupt
	}

	return rec, nil
}

func readShortString(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
