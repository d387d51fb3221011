package payments

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestValidateTransactionID(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "twelve digits", input: "412345678901", want: "412345678901"},
		{name: "twelve alphanumeric", input: "9876543210AB", want: "9876543210AB"},
		{name: "bank prefix with padding", input: "  ab1234567890  ", want: "AB1234567890"},
		{name: "sixteen digits", input: "4123456789012345", want: "4123456789012345"},
		{name: "full width digits", input: "４１２３４５６７８９０１", want: "412345678901"},
		{name: "sequential", input: "123456789012", wantErr: ErrTransactionIDSynthetic},
		{name: "reverse sequential", input: "987654321098", wantErr: ErrTransactionIDSynthetic},
		{name: "repeated", input: "111111111111", wantErr: ErrTransactionIDSynthetic},
		{name: "zeros", input: "0000000000", wantErr: ErrTransactionIDSynthetic},
		{name: "repeated letters", input: "AAAAAAAAAAAA", wantErr: ErrTransactionIDSynthetic},
		{name: "too short", input: "123456789", wantErr: ErrTransactionIDFormat},
		{name: "too long", input: "12345678901234567", wantErr: ErrTransactionIDFormat},
		{name: "punctuation", input: "4123-4567-8901", wantErr: ErrTransactionIDFormat},
		{name: "blank", input: "   ", wantErr: ErrTransactionIDRequired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateTransactionID(tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if !errors.Is(err, ErrInvalidTransactionID) {
					t.Fatalf("expected error to wrap ErrInvalidTransactionID")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestValidateScreenshot(t *testing.T) {
	shot, err := ValidateScreenshot(Screenshot{Data: pngHeader, ContentType: "application/pdf"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shot.ContentType != "image/png" {
		t.Fatalf("expected sniffed png, got %q", shot.ContentType)
	}
	if shot.Extension() != "png" {
		t.Fatalf("expected png extension, got %q", shot.Extension())
	}

	if _, err := ValidateScreenshot(Screenshot{}); !errors.Is(err, ErrScreenshotEmpty) {
		t.Fatalf("expected empty error, got %v", err)
	}

	large := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, MaxScreenshotBytes)...)
	if _, err := ValidateScreenshot(Screenshot{Data: large}); !errors.Is(err, ErrScreenshotTooLarge) {
		t.Fatalf("expected too large error, got %v", err)
	}

	if _, err := ValidateScreenshot(Screenshot{Data: []byte("%PDF-1.7 not an image")}); !errors.Is(err, ErrScreenshotNotImage) {
		t.Fatalf("expected not image error, got %v", err)
	}
}

func TestDataURLRoundTrip(t *testing.T) {
	encoded := EncodeDataURL(Screenshot{Data: pngHeader, ContentType: "image/png"})
	if !strings.HasPrefix(encoded, "data:image/png;base64,") {
		t.Fatalf("unexpected prefix: %s", encoded)
	}
	decoded, err := ParseDataURL(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(decoded.Data, pngHeader) || decoded.ContentType != "image/png" {
		t.Fatalf("unexpected decode: %+v", decoded)
	}

	if _, err := ParseDataURL("data:image/png,rawbytes"); !errors.Is(err, ErrInvalidScreenshot) {
		t.Fatalf("expected malformed data url error, got %v", err)
	}
	if _, err := ParseDataURL("data:image/png;base64,@@@"); !errors.Is(err, ErrInvalidScreenshot) {
		t.Fatalf("expected invalid base64 error, got %v", err)
	}
}
