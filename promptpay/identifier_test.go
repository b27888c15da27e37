package promptpay

import (
	"errors"
	"testing"
)

func TestNormalizeIdentifier(t *testing.T) {
	tests := []struct {
		raw      string
		kind     IdentifierKind
		expected string
	}{
		{raw: "0812345678", kind: Phone, expected: "66812345678"},
		{raw: "66812345678", kind: Phone, expected: "66812345678"},
		{raw: "081-234-5678", kind: Phone, expected: "66812345678"},
		{raw: " 081 234 5678 ", kind: Phone, expected: "66812345678"},
		{raw: "+66 81 234 5678", kind: Phone, expected: "66812345678"},
		{raw: "812345678", kind: Phone, expected: "66812345678"},
		{raw: "1234567890123", kind: NationalID, expected: "1234567890123"},
		{raw: "1-2345-67890-12-3", kind: NationalID, expected: "1234567890123"},
		// national ids are not length checked
		{raw: "0123", kind: NationalID, expected: "0123"},
		// only ASCII digits are kept
		{raw: "081๒345678", kind: Phone, expected: "6681345678"},
	}

	for _, test := range tests {
		id, err := NormalizeIdentifier(test.raw, test.kind)
		if err != nil {
			t.Fatalf("unexpected error normalizing '%v': %v", test.raw, err)
		}
		if id.Digits() != test.expected {
			t.Fatalf("expected '%v' but got '%v'", test.expected, id.Digits())
		}
		if id.Kind() != test.kind {
			t.Fatalf("expected kind %v but got %v", test.kind, id.Kind())
		}
	}
}

func TestNormalizeIdentifierIdempotent(t *testing.T) {
	first, err := NormalizeIdentifier("0812345678", Phone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := NormalizeIdentifier(first.Digits(), Phone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("normalizing again changed identifier from '%v' to '%v'", first, second)
	}
}

func TestNormalizeIdentifierErrors(t *testing.T) {
	invalid := []string{"", "   ", "abc", "--", "โทร"}
	for _, raw := range invalid {
		for _, kind := range []IdentifierKind{Phone, NationalID} {
			_, err := NormalizeIdentifier(raw, kind)
			if !errors.Is(err, ErrInvalidIdentifier) {
				t.Fatalf("expected error '%v' for '%v' (%v) but got '%v'", ErrInvalidIdentifier, raw, kind, err)
			}
		}
	}

	_, err := NormalizeIdentifier("0812345678", IdentifierKind(7))
	if !errors.Is(err, ErrUnsupportedIdentifierKind) {
		t.Fatalf("expected error '%v' but got '%v'", ErrUnsupportedIdentifierKind, err)
	}
}

func TestParseIdentifierKind(t *testing.T) {
	tests := []struct {
		input    string
		expected IdentifierKind
	}{
		{input: "PHONE", expected: Phone},
		{input: "phone", expected: Phone},
		{input: " NATIONAL_ID ", expected: NationalID},
		{input: Phone.String(), expected: Phone},
		{input: NationalID.String(), expected: NationalID},
	}

	for _, test := range tests {
		kind, err := ParseIdentifierKind(test.input)
		if err != nil {
			t.Fatalf("unexpected error parsing '%v': %v", test.input, err)
		}
		if kind != test.expected {
			t.Fatalf("expected %v but got %v", test.expected, kind)
		}
	}

	if _, err := ParseIdentifierKind("EMAIL"); !errors.Is(err, ErrUnsupportedIdentifierKind) {
		t.Fatalf("expected error '%v' but got '%v'", ErrUnsupportedIdentifierKind, err)
	}
}
