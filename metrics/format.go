package metrics

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"sort"
)

// Packet layout, little endian, one item after another:
//
//	type(1) nameLen(1) name valueFloat64(8) tagCount(1) {keyLen(1) key valLen(1) val}*
const (
	maxStringLen = 255
)

var (
	errNameTooLong = errors.New("<prefix>.<name> must be shorter than 256")
	errTooManyTags = errors.New("tag count must be less than 256")
	errStringLong  = errors.New("string length must be less than 256")
)

func formatItem(buf *bytes.Buffer, prefix string, it item) error {
	buf.WriteByte(uint8(it.mt))
	if err := writeName(buf, prefix, it.name); err != nil {
		return err
	}
	writeFloat64(buf, it.value)
	return writeTags(buf, it.tags)
}

func writeName(buf *bytes.Buffer, prefix string, name string) error {
	if prefix == "" {
		return writeString(buf, name)
	}
	length := len(prefix) + len(name) + 1
	if length > maxStringLen {
		return errNameTooLong
	}
	buf.WriteByte(uint8(length))
	buf.WriteString(prefix)
	buf.WriteByte('.')
	buf.WriteString(name)
	return nil
}

func writeTags(buf *bytes.Buffer, tags []tag) error {
	if len(tags) > maxStringLen {
		return errTooManyTags
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].key < tags[j].key })
	buf.WriteByte(uint8(len(tags)))
	for _, tg := range tags {
		if err := writeString(buf, tg.key); err != nil {
			return err
		}
		if err := writeString(buf, tg.value); err != nil {
			return err
		}
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > maxStringLen {
		return errStringLong
	}
	buf.WriteByte(uint8(len(s)))
	buf.WriteString(s)
	return nil
}

func writeFloat64(buf *bytes.Buffer, value float64) {
	vv := [8]byte{}
	binary.LittleEndian.PutUint64(vv[:], math.Float64bits(value))
	buf.Write(vv[:])
}
