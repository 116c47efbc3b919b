package domain

import "github.com/shopspring/decimal"

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// ResultCodeCancelled is sent when the customer dismisses the STK prompt.
const ResultCodeCancelled = 1032

// Callback is a gateway confirmation parsed into one of three outcomes.
// Confirmation is set only when Outcome is OutcomeSucceeded.
type Callback struct {
	Provider          string
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Outcome           Outcome
	Confirmation      *Confirmation
}

type Confirmation struct {
	ReceiptNumber string
	Amount        decimal.Decimal
	PhoneNumber   string
}

func (c Callback) Succeeded() bool {
	return c.Outcome == OutcomeSucceeded && c.Confirmation != nil
}

// OutcomeFor maps a gateway result code to a callback outcome.
func OutcomeFor(resultCode int) Outcome {
	switch resultCode {
	case 0:
		return OutcomeSucceeded
	case ResultCodeCancelled:
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}

// StatusFor is the pending payment status a non-success outcome settles on.
func (o Outcome) StatusFor() Status {
	switch o {
	case OutcomeSucceeded:
		return StatusSuccess
	case OutcomeCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}
