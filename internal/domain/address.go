package domain

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// ErrInvalidAddress is returned when a shipping address is incomplete or malformed.
var ErrInvalidAddress = errors.New("invalid address")

var (
	phonePattern      = regexp.MustCompile(`^[0-9]{10}$`)
	postalCodePattern = regexp.MustCompile(`^[1-9][0-9]{5}$`)
)

// AddressError lists the fields that failed validation.
type AddressError struct {
	Fields []string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidAddress.Error(), strings.Join(e.Fields, ", "))
}

// Unwrap exposes ErrInvalidAddress for errors.Is.
func (e *AddressError) Unwrap() error { return ErrInvalidAddress }

// NormalizeAddress trims every field and strips separators from the phone number.
func NormalizeAddress(addr Address) Address {
	addr.Name = strings.TrimSpace(addr.Name)
	addr.Phone = normalizePhone(addr.Phone)
	addr.Email = strings.TrimSpace(addr.Email)
	addr.Street = strings.TrimSpace(addr.Street)
	addr.Locality = strings.TrimSpace(addr.Locality)
	addr.Landmark = strings.TrimSpace(addr.Landmark)
	addr.PostalCode = strings.TrimSpace(addr.PostalCode)
	addr.City = strings.TrimSpace(addr.City)
	addr.State = strings.TrimSpace(addr.State)
	return addr
}

// ValidateAddress checks required fields on a normalized address.
func ValidateAddress(addr Address) error {
	var fields []string
	if addr.Name == "" {
		fields = append(fields, "name")
	}
	if !phonePattern.MatchString(addr.Phone) {
		fields = append(fields, "phone")
	}
	if addr.Email != "" {
		if _, err := mail.ParseAddress(addr.Email); err != nil {
			fields = append(fields, "email")
		}
	}
	if addr.Street == "" {
		fields = append(fields, "street")
	}
	if !ValidPostalCode(addr.PostalCode) {
		fields = append(fields, "postalCode")
	}
	if addr.City == "" {
		fields = append(fields, "city")
	}
	if addr.State == "" {
		fields = append(fields, "state")
	}
	if len(fields) > 0 {
		return &AddressError{Fields: fields}
	}
	return nil
}

// ValidPostalCode reports whether the value is a 6-digit PIN code.
func ValidPostalCode(code string) bool {
	return postalCodePattern.MatchString(strings.TrimSpace(code))
}

func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
	phone = replacer.Replace(phone)
	phone = strings.TrimPrefix(phone, "+91")
	if len(phone) == 11 && strings.HasPrefix(phone, "0") {
		phone = phone[1:]
	}
	return phone
}
