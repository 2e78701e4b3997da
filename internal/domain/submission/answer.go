package submission

import (
	"strconv"
	"strings"

	"github.com/okian/openpotd/internal/domain/model"
)

// ParseAnswer turns raw text into an answer. Surrounding whitespace is
// ignored; an optional sign followed by decimal digits is accepted. Anything
// else, including values outside int64, yields the invalid marker.
func ParseAnswer(raw string) model.Answer {
	s := strings.TrimSpace(raw)
	digits := s
	if strings.HasPrefix(digits, "+") || strings.HasPrefix(digits, "-") {
		digits = digits[1:]
	}
	if digits == "" {
		return model.Answer{}
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return model.Answer{}
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return model.Answer{}
	}
	return model.Answer{Value: v, Valid: true}
}
