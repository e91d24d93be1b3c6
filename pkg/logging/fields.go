package logging

import (
	"approval-chain/pkg/account"
	"approval-chain/pkg/transaction"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Transaction returns a structured field describing tx.
func Transaction(tx *transaction.Transaction) zap.Field {
	return zap.Object("transaction", txMarshaler{tx})
}

// Account returns a structured field describing a.
func Account(key string, a *account.Account) zap.Field {
	if a == nil {
		return zap.Skip()
	}
	return zap.Object(key, accountMarshaler{a})
}

type txMarshaler struct {
	tx *transaction.Transaction
}

func (m txMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt64("id", m.tx.ID)
	if m.tx.Reference != "" {
		enc.AddString("reference", m.tx.Reference)
	}
	enc.AddString("type", string(m.tx.Type))
	enc.AddString("amount", m.tx.Amount.StringFixed(2))
	enc.AddString("status", string(m.tx.Status))
	if m.tx.From != nil {
		enc.AddString("from", m.tx.From.Number)
	}
	if m.tx.To != nil {
		enc.AddString("to", m.tx.To.Number)
	}
	if m.tx.FailureReason != "" {
		enc.AddString("failure_reason", m.tx.FailureReason)
	}
	return nil
}

type accountMarshaler struct {
	a *account.Account
}

func (m accountMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt64("id", m.a.ID)
	enc.AddString("number", m.a.Number)
	enc.AddString("kind", string(m.a.Kind))
	enc.AddString("status", string(m.a.Status))
	enc.AddString("balance", m.a.TotalBalance().StringFixed(2))
	return nil
}
