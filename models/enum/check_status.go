package enum

// CheckStatus is what a PIN-less status query reveals about a voucher.
type CheckStatus string

const (
	CheckStatusValid    CheckStatus = "valid"
	CheckStatusUsed     CheckStatus = "used"
	CheckStatusExpired  CheckStatus = "expired"
	CheckStatusNotFound CheckStatus = "not_found"
)
