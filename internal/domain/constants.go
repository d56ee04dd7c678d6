package domain

// Settlement channels.
const (
	ChannelCrypto = "cryptocurrency"
	ChannelPayPal = "paypal"
	ChannelSkrill = "skrill"

	DirectionBuy  = "buy"
	DirectionSell = "sell"

	RoleUser  = "user"
	RoleAdmin = "admin"

	// Saldo journal kinds. One row per (order, kind).
	EntryDebit  = "debit"
	EntryCredit = "credit"
	EntryRefund = "refund"

	NoteExact          = "exact"
	NoteOverpaid       = "overpaid"
	NoteUnderpaid      = "underpaid"
	NotePartialExpired = "partial_expired"

	// Transition sources recorded in the audit log and metrics.
	SourceCreation = "creation"
	SourceWebhook  = "webhook"
	SourcePoll     = "poll"
	SourceSweeper  = "sweeper"
	SourceAdmin    = "admin"
	SourceProof    = "proof"
)

// IsManualChannel reports whether the channel settles through uploaded proof.
func IsManualChannel(channel string) bool {
	return channel == ChannelPayPal || channel == ChannelSkrill
}

// IsValidChannel reports whether channel is one the exchange settles.
func IsValidChannel(channel string) bool {
	return channel == ChannelCrypto || IsManualChannel(channel)
}
