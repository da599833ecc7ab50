package enum

type VoucherStatus string

const (
	VoucherStatusActive VoucherStatus = "active"
	VoucherStatusUsed   VoucherStatus = "used"
	// VoucherStatusTransferDeferred is kept for rows written before the
	// deferred state moved to TransferStatus; it counts as consumed.
	VoucherStatusTransferDeferred VoucherStatus = "transfer_deferred"
)

// Consumed reports whether the voucher can no longer be redeemed.
func (s VoucherStatus) Consumed() bool {
	return s != VoucherStatusActive
}
