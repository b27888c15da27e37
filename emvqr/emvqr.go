// Package emvqr contains the tag-length-value primitives of the
// EMV merchant-presented QR code payload format.
package emvqr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	TagLength      = 2
	LengthDigits   = 2
	MaxValueLength = 99

	ChecksumTag    = "63"
	ChecksumLength = 4
)

var (
	ErrValueTooLong     = errors.New("value longer than 99 bytes")
	ErrInvalidTag       = errors.New("tag must be two digits")
	ErrMalformed        = errors.New("malformed payload")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// FieldError identifies the tag of the field that could not be encoded.
type FieldError struct {
	Tag string
	Err error
}

func (fe *FieldError) Error() string {
	return fmt.Sprintf("tag %s: %v", fe.Tag, fe.Err)
}

func (fe *FieldError) Unwrap() error {
	return fe.Err
}

// Field is a single data object of the payload.
type Field struct {
	Tag   string
	Value string
}

// Encode returns tag + two digit zero-padded byte length + value.
func Encode(tag, value string) (string, error) {
	if !validTag(tag) {
		return "", &FieldError{Tag: tag, Err: ErrInvalidTag}
	}
	if len(value) > MaxValueLength {
		return "", &FieldError{Tag: tag, Err: ErrValueTooLong}
	}

	var sb strings.Builder
	sb.Grow(TagLength + LengthDigits + len(value))
	sb.WriteString(tag)
	if len(value) < 10 {
		sb.WriteByte('0')
	}
	sb.WriteString(strconv.Itoa(len(value)))
	sb.WriteString(value)
	return sb.String(), nil
}

func (f Field) Encode() (string, error) {
	return Encode(f.Tag, f.Value)
}

// Fields is an ordered list of fields. Encoding preserves the order.
type Fields []Field

func (fs Fields) Encode() (string, error) {
	var sb strings.Builder
	for _, field := range fs {
		encoded, err := field.Encode()
		if err != nil {
			return "", err
		}
		sb.WriteString(encoded)
	}
	return sb.String(), nil
}

// Get returns the value of the first field with the given tag.
func (fs Fields) Get(tag string) (string, bool) {
	for _, field := range fs {
		if field.Tag == tag {
			return field.Value, true
		}
	}
	return "", false
}

// Composite encodes the subfields in order and returns a field
// under tag whose value is their concatenation.
func Composite(tag string, subfields Fields) (Field, error) {
	value, err := subfields.Encode()
	if err != nil {
		return Field{}, fmt.Errorf("composite %s: %w", tag, err)
	}
	return Field{Tag: tag, Value: value}, nil
}

// Parse splits a payload into its top level fields.
// Nested templates can be parsed by calling Parse on a field value.
func Parse(payload string) (Fields, error) {
	fields := make(Fields, 0, 16)

	offset := 0
	for offset < len(payload) {
		if offset+TagLength+LengthDigits > len(payload) {
			return nil, fmt.Errorf("%w: truncated header at offset %d", ErrMalformed, offset)
		}
		tag := payload[offset : offset+TagLength]
		if !validTag(tag) {
			return nil, fmt.Errorf("%w: invalid tag '%s' at offset %d", ErrMalformed, tag, offset)
		}
		offset += TagLength

		lengthStr := payload[offset : offset+LengthDigits]
		length, err := strconv.Atoi(lengthStr)
		if err != nil || length < 0 {
			return nil, fmt.Errorf("%w: invalid length '%s' for tag %s", ErrMalformed, lengthStr, tag)
		}
		offset += LengthDigits

		if offset+length > len(payload) {
			return nil, fmt.Errorf("%w: tag %s needs %d bytes, got %d", ErrMalformed, tag, length, len(payload)-offset)
		}
		fields = append(fields, Field{Tag: tag, Value: payload[offset : offset+length]})
		offset += length
	}

	return fields, nil
}

func validTag(tag string) bool {
	if len(tag) != TagLength {
		return false
	}
	for i := 0; i < len(tag); i++ {
		if tag[i] < '0' || tag[i] > '9' {
			return false
		}
	}
	return true
}
