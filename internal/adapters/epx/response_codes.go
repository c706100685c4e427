package epx

import (
	pkgerrors "github.com/kevin07696/phonepay-ivr/pkg/errors"
)

// ResponseCodeInfo describes one AUTH_RESP value
type ResponseCodeInfo struct {
	Code        string
	Display     string
	Description string
	IsApproved  bool
	Category    pkgerrors.ErrorCategory
}

// IsSystemError reports whether the code means the issuer or network failed
// rather than the card being refused
func (i ResponseCodeInfo) IsSystemError() bool {
	return i.Category == pkgerrors.CategorySystemError || i.Category == pkgerrors.CategoryNetworkError
}

var creditCardResponseCodes = map[string]ResponseCodeInfo{
	"00": {Code: "00", Display: "APPROVAL", Description: "Transaction approved", IsApproved: true, Category: pkgerrors.CategoryApproved},
	"85": {Code: "85", Display: "NO REASON TO DECLINE", Description: "Verified, no reason to decline", IsApproved: true, Category: pkgerrors.CategoryApproved},

	"05": {Code: "05", Display: "DECLINE", Description: "Do not honor", Category: pkgerrors.CategoryDeclined},
	"51": {Code: "51", Display: "INSUFF FUNDS", Description: "Insufficient funds", Category: pkgerrors.CategoryInsufficientFunds},
	"54": {Code: "54", Display: "EXP CARD", Description: "Expired card", Category: pkgerrors.CategoryExpiredCard},
	"82": {Code: "82", Display: "CVV ERROR", Description: "CVV verification failed", Category: pkgerrors.CategoryInvalidCard},
	"N7": {Code: "N7", Display: "CVV2 MISMATCH", Description: "CVV2 value mismatch", Category: pkgerrors.CategoryInvalidCard},
	"14": {Code: "14", Display: "INVALID ACCT", Description: "Invalid card number", Category: pkgerrors.CategoryInvalidCard},
	"59": {Code: "59", Display: "SUSPECTED FRAUD", Description: "Suspected fraud", Category: pkgerrors.CategoryFraud},
	"41": {Code: "41", Display: "LOST CARD", Description: "Lost card, pick up", Category: pkgerrors.CategoryFraud},
	"43": {Code: "43", Display: "STOLEN CARD", Description: "Stolen card, pick up", Category: pkgerrors.CategoryFraud},
	"12": {Code: "12", Display: "INVALID TRANS", Description: "Invalid transaction", Category: pkgerrors.CategoryInvalidRequest},
	"13": {Code: "13", Display: "INVALID AMOUNT", Description: "Invalid amount", Category: pkgerrors.CategoryInvalidRequest},

	"91": {Code: "91", Display: "TIMEOUT", Description: "Issuer or switch timeout", Category: pkgerrors.CategorySystemError},
	"96": {Code: "96", Display: "SYSTEM ERROR", Description: "System malfunction", Category: pkgerrors.CategorySystemError},
}

// GetResponseCodeInfo looks up a code. Unknown codes are treated as declines.
func GetResponseCodeInfo(code string) ResponseCodeInfo {
	if info, ok := creditCardResponseCodes[code]; ok {
		return info
	}
	return ResponseCodeInfo{
		Code:        code,
		Display:     "UNKNOWN",
		Description: "Unknown response code",
		Category:    pkgerrors.CategoryDeclined,
	}
}
