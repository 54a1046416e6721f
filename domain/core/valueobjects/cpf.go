package valueobjects

import (
	"errors"
	"strings"
)

// CPF is a Brazilian taxpayer number stored as its 11 digits.
type CPF string

var (
	ErrCPFLength      = errors.New("cpf must have 11 digits")
	ErrCPFCharacters  = errors.New("cpf may only contain digits, '.' and '-'")
	ErrCPFLayout      = errors.New("cpf must be 11 bare digits or formatted as 000.000.000-00")
	ErrCPFRepeated    = errors.New("cpf cannot be a repeated-digit sequence")
	ErrCPFCheckDigits = errors.New("cpf check digits do not match")
)

// ParseCPF accepts the formatted (000.000.000-00) or bare form and returns the normalized value.
func ParseCPF(raw string) (CPF, error) {
	digits := strings.TrimSpace(raw)
	if len(digits) == 14 && digits[3] == '.' && digits[7] == '.' && digits[11] == '-' {
		digits = digits[0:3] + digits[4:7] + digits[8:11] + digits[12:14]
	}
	separators := false
	for _, r := range digits {
		switch {
		case r >= '0' && r <= '9':
		case r == '.' || r == '-':
			separators = true
		default:
			return "", ErrCPFCharacters
		}
	}
	if separators {
		return "", ErrCPFLayout
	}
	if len(digits) != 11 {
		return "", ErrCPFLength
	}
	if strings.Count(digits, digits[:1]) == 11 {
		return "", ErrCPFRepeated
	}
	first, second := checkDigits(digits[:9])
	if digits[9] != first || digits[10] != second {
		return "", ErrCPFCheckDigits
	}
	return CPF(digits), nil
}

// String returns the normalized digits.
func (c CPF) String() string {
	return string(c)
}

// Formatted renders the cpf as 000.000.000-00.
func (c CPF) Formatted() string {
	s := string(c)
	if len(s) != 11 {
		return s
	}
	return s[0:3] + "." + s[3:6] + "." + s[6:9] + "-" + s[9:11]
}

// CompleteCPF appends the check digits to a 9-digit base.
func CompleteCPF(base string) string {
	if len(base) != 9 {
		return base
	}
	first, second := checkDigits(base)
	return base + string(first) + string(second)
}

func checkDigits(base string) (byte, byte) {
	first := checkDigit(base, 10)
	second := checkDigit(base+string(first), 11)
	return first, second
}

func checkDigit(digits string, weight int) byte {
	sum := 0
	for i := 0; i < len(digits); i++ {
		sum += int(digits[i]-'0') * (weight - i)
	}
	r := sum * 10 % 11
	if r == 10 {
		r = 0
	}
	return byte('0' + r)
}
