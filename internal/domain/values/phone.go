package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// PhoneNumber represents a validated E.164 phone number value object
type PhoneNumber struct {
	number string
}

var e164Regex = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// NewPhoneNumber creates a new PhoneNumber with E.164 validation
func NewPhoneNumber(number string) (PhoneNumber, error) {
	if number == "" {
		return PhoneNumber{}, fmt.Errorf("phone number cannot be empty")
	}

	normalized := normalizePhone(number)

	if !e164Regex.MatchString(normalized) {
		return PhoneNumber{}, fmt.Errorf("phone number %q is not in E.164 format", number)
	}

	return PhoneNumber{number: normalized}, nil
}

// MustNewPhoneNumber creates PhoneNumber and panics on error (for tests)
func MustNewPhoneNumber(number string) PhoneNumber {
	p, err := NewPhoneNumber(number)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the phone number in E.164 format
func (p PhoneNumber) String() string {
	return p.number
}

// IsEmpty checks if the phone number is empty
func (p PhoneNumber) IsEmpty() bool {
	return p.number == ""
}

// IsUS reports whether the number is in the NANP +1 country code
func (p PhoneNumber) IsUS() bool {
	return strings.HasPrefix(p.number, "+1") && len(p.number) == 12
}

// Equal checks if two PhoneNumber values are equal
func (p PhoneNumber) Equal(other PhoneNumber) bool {
	return p.number == other.number
}

// MarshalJSON implements JSON marshaling
func (p PhoneNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.number)
}

// UnmarshalJSON implements JSON unmarshaling
func (p *PhoneNumber) UnmarshalJSON(data []byte) error {
	var number string
	if err := json.Unmarshal(data, &number); err != nil {
		return err
	}

	phone, err := NewPhoneNumber(number)
	if err != nil {
		return err
	}

	*p = phone
	return nil
}

// Value implements driver.Valuer for database storage
func (p PhoneNumber) Value() (driver.Value, error) {
	return p.number, nil
}

// Scan implements sql.Scanner for database retrieval
func (p *PhoneNumber) Scan(value interface{}) error {
	if value == nil {
		*p = PhoneNumber{}
		return nil
	}

	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("cannot scan %T into PhoneNumber", value)
	}

	phone, err := NewPhoneNumber(str)
	if err != nil {
		return err
	}

	*p = phone
	return nil
}

func normalizePhone(number string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(number) {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
