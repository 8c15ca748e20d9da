package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a synthesized transaction. The synthesizer fills every
// field except the alert fields, which only the rule evaluator sets.
type Transaction struct {
	ID                 string          `json:"transactionId"`
	CustomerID         string          `json:"customerId"`
	Timestamp          time.Time       `json:"timestamp"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	OriginCountry      string          `json:"originCountry"`
	DestinationCountry string          `json:"destinationCountry"`
	Channel            string          `json:"channel"`
	Type               string          `json:"transactionType"`
	CounterpartyType   string          `json:"counterpartyType"`
	CrossBorder        bool            `json:"isCrossBorder"`
	Cash               bool            `json:"isCash"`
	DeviceID           string          `json:"deviceId"`

	// AlertType is the single label chosen by priority. Empty when no rule matched.
	AlertType AlertType `json:"alertType"`

	// Matches holds every rule that matched, including the ones outranked
	// by AlertType.
	Matches RuleSet `json:"-"`
}

// Flagged reports whether the transaction carries an alert label.
func (t *Transaction) Flagged() bool {
	return t.AlertType != AlertNone
}

// Currencies the synthesizer may emit.
const (
	CurrencyEUR = "EUR"
	CurrencyUSD = "USD"
	CurrencyGBP = "GBP"
)

// Transaction types.
const (
	TxTransfer    = "Transfer"
	TxPayment     = "Payment"
	TxDeposit     = "Deposit"
	TxWithdrawal  = "Withdrawal"
	TxBillPayment = "Bill Payment"
)

// TimestampLayout is the wire format for transaction timestamps: UTC,
// second precision, no zone suffix.
const TimestampLayout = "2006-01-02T15:04:05"
