package enum

type TransferStatus string

const (
	TransferStatusPending  TransferStatus = "pending"
	TransferStatusSuccess  TransferStatus = "success"
	TransferStatusDeferred TransferStatus = "deferred"
)
