package header

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// appendBytesField appends a length-delimited field.
func appendBytesField(buf []byte, field protowire.Number, b []byte) []byte {
	buf = protowire.AppendTag(buf, field, protowire.BytesType)
	return protowire.AppendBytes(buf, b)
}

// bytesFieldSize is the encoded size of a length-delimited field.
func bytesFieldSize(field protowire.Number, n int) int {
	return protowire.SizeTag(field) + protowire.SizeBytes(n)
}

// readFields walks the fields of an encoded message. Only length-delimited
// fields are passed to fn; fields of other wire types are skipped.
func readFields(b []byte, fn func(field protowire.Number, data []byte) error) error {
	for len(b) > 0 {
		field, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: reading field key: %s", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(field, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: reading field %d: %s", ErrMalformed, field, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		data, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return fmt.Errorf("%w: reading field %d: %s", ErrMalformed, field, protowire.ParseError(n))
		}
		if err := fn(field, data); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
