package service

import (
	"regexp"
	"strings"

	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
)

// Safaricom subscriber numbers: 07xx/01xx locally, 2547xx/2541xx in E.164.
var phonePattern = regexp.MustCompile(`^(?:\+?254|0)?([71]\d{8})$`)

var phoneCleaner = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

// NormalizePhone returns the 254XXXXXXXXX form the gateway expects.
func NormalizePhone(raw string) (string, error) {
	cleaned := phoneCleaner.Replace(strings.TrimSpace(raw))
	match := phonePattern.FindStringSubmatch(cleaned)
	if match == nil {
		return "", paymentdomain.ErrInvalidPhoneNumber
	}
	return "254" + match[1], nil
}
