package domain

// Reply messages carried on payment_result events. Other services and the
// frontend match on these strings, so they are part of the wire contract.
const (
	MsgAccountNotFound   = "Account not found"
	MsgInsufficientFunds = "Insufficient funds"
	MsgPaymentSuccessful = "Payment successful"
)

// SettleOutcome is the decision for one payment attempt, before anything is
// written. Exactly one of the three shapes comes out of DecideSettle:
//
//   - account missing:    failure, no debit, no audit row
//   - insufficient funds: failure, no debit, FAILED audit row
//   - success:            debit the amount, SUCCESS audit row
type SettleOutcome struct {
	Success bool
	Message string
	Debit   bool
	Audit   TransactionStatus // "" records nothing
}

// DecideSettle applies the payment rules to a locked account snapshot.
// acct is nil when the user has no account. A balance exactly equal to the
// amount settles successfully and leaves the balance at zero.
func DecideSettle(acct *Account, amount float64) SettleOutcome {
	switch {
	case acct == nil:
		return SettleOutcome{Message: MsgAccountNotFound}
	case acct.Balance < amount:
		return SettleOutcome{Message: MsgInsufficientFunds, Audit: TxFailed}
	default:
		return SettleOutcome{Success: true, Message: MsgPaymentSuccessful, Debit: true, Audit: TxSuccess}
	}
}
