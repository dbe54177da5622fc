package logging

// TxAuditEvent records a state-changing transaction attempt. Every approve,
// stake, unstake and admin toggle produces exactly one event once its outcome
// is known.
type TxAuditEvent struct {
	Kind    string // approve, stake, unstake, toggle_test_mode
	Account string
	Token   string // empty for admin calls
	Amount  string // human decimal, empty when not applicable
	TxHash  string // empty when nothing was broadcast
	Outcome string // confirmed, denied, reverted, failed, cancelled
	Detail  string
}

// AuditTx logs the event at Info level tagged with audit=true so it can be
// filtered out of regular application logs.
func AuditTx(event TxAuditEvent) {
	Logger().Info("tx audit",
		"audit", true,
		"kind", event.Kind,
		Account(event.Account),
		Token(event.Token),
		"amount", event.Amount,
		TxHash(event.TxHash),
		"outcome", event.Outcome,
		"detail", event.Detail,
	)
}
