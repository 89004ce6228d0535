package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/amnesiad/internal/chainhash"
)

// TxType discriminates transaction payloads.
type TxType string

const (
	TxCreate   TxType = "create"
	TxArchive  TxType = "archive"
	TxPromote  TxType = "promote"
	TxForget   TxType = "forget"
	TxTransfer TxType = "transfer"
)

// SystemAddress is the origin of transactions synthesized by the
// lifecycle sweep rather than submitted by a caller.
const SystemAddress = "system"

// Transaction is a ledger entry. Once applied it is never mutated, only
// referenced by the block that contains it. Signature is carried but not
// verified.
type Transaction struct {
	ID              string          `json:"id"`
	Hash            string          `json:"hash"`
	From            string          `json:"from"`
	To              string          `json:"to,omitempty"`
	Type            TxType          `json:"type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	GasPrice        float64         `json:"gasPrice"`
	GasLimit        int64           `json:"gasLimit"`
	Nonce           int64           `json:"nonce"`
	Timestamp       time.Time       `json:"timestamp"`
	Signature       string          `json:"signature,omitempty"`
	RelevanceImpact float64         `json:"relevanceImpact"`
}

// CreatePayload carries the full record snapshot for a create transaction.
type CreatePayload struct {
	Record Record `json:"record"`
}

// ArchivePayload references the record to archive.
type ArchivePayload struct {
	RecordID string `json:"recordId"`
}

// PromotePayload references the record to promote back to active.
type PromotePayload struct {
	RecordID string `json:"recordId"`
}

// ForgetPayload references the record to forget, with an optional reason.
type ForgetPayload struct {
	RecordID string `json:"recordId"`
	Reason   string `json:"reason,omitempty"`
}

// TransferPayload moves ownership of a record.
type TransferPayload struct {
	RecordID string `json:"recordId"`
	NewOwner string `json:"newOwner"`
}

// SealHash computes and sets the transaction hash over its identifying
// fields. Call after all other fields are final.
func (tx *Transaction) SealHash() {
	preimage := fmt.Sprintf("%s%s%s%s%s%.6f%d%d%d",
		tx.ID, tx.From, tx.To, tx.Type, string(tx.Payload),
		tx.GasPrice, tx.GasLimit, tx.Nonce, tx.Timestamp.UnixMilli())
	tx.Hash = chainhash.SumString(preimage)
}

// EncodedSize is the serialized size used for block packing.
func (tx *Transaction) EncodedSize() int64 {
	b, err := json.Marshal(tx)
	if err != nil {
		return 0
	}
	return int64(len(b))
}

// DecodeCreate returns the typed payload of a create transaction.
func (tx *Transaction) DecodeCreate() (*CreatePayload, error) {
	return decodePayload[CreatePayload](tx, TxCreate)
}

// DecodeArchive returns the typed payload of an archive transaction.
func (tx *Transaction) DecodeArchive() (*ArchivePayload, error) {
	return decodePayload[ArchivePayload](tx, TxArchive)
}

// DecodePromote returns the typed payload of a promote transaction.
func (tx *Transaction) DecodePromote() (*PromotePayload, error) {
	return decodePayload[PromotePayload](tx, TxPromote)
}

// DecodeForget returns the typed payload of a forget transaction.
func (tx *Transaction) DecodeForget() (*ForgetPayload, error) {
	return decodePayload[ForgetPayload](tx, TxForget)
}

// DecodeTransfer returns the typed payload of a transfer transaction.
func (tx *Transaction) DecodeTransfer() (*TransferPayload, error) {
	return decodePayload[TransferPayload](tx, TxTransfer)
}

func decodePayload[P any](tx *Transaction, want TxType) (*P, error) {
	if tx.Type != want {
		return nil, fmt.Errorf("transaction %s is %q, not %q", tx.ID, tx.Type, want)
	}
	var p P
	if err := json.Unmarshal(tx.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", want, err)
	}
	return &p, nil
}

func newTx(txType TxType, from string, payload any, relevanceImpact float64) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", txType, err)
	}
	now := time.Now()
	tx := &Transaction{
		ID:              uuid.NewString(),
		From:            from,
		Type:            txType,
		Payload:         raw,
		GasPrice:        1,
		GasLimit:        100000,
		Nonce:           now.UnixMilli(),
		Timestamp:       now,
		Signature:       from,
		RelevanceImpact: relevanceImpact,
	}
	tx.SealHash()
	return tx, nil
}

// NewCreateTx builds a create transaction carrying a record snapshot.
func NewCreateTx(from string, rec Record) (*Transaction, error) {
	return newTx(TxCreate, from, CreatePayload{Record: rec}, rec.Relevance)
}

// NewArchiveTx builds an archive transaction for the given record.
func NewArchiveTx(from string, rec *Record) (*Transaction, error) {
	return newTx(TxArchive, from, ArchivePayload{RecordID: rec.ID}, rec.Relevance)
}

// NewPromoteTx builds a promote transaction for the given record.
func NewPromoteTx(from string, rec *Record) (*Transaction, error) {
	return newTx(TxPromote, from, PromotePayload{RecordID: rec.ID}, rec.Relevance)
}

// NewForgetTx builds a forget transaction for the given record.
func NewForgetTx(from string, rec *Record, reason string) (*Transaction, error) {
	return newTx(TxForget, from, ForgetPayload{RecordID: rec.ID, Reason: reason}, rec.Relevance)
}

// NewTransferTx builds a transfer transaction moving rec to newOwner.
func NewTransferTx(from string, rec *Record, newOwner string) (*Transaction, error) {
	tx, err := newTx(TxTransfer, from, TransferPayload{RecordID: rec.ID, NewOwner: newOwner}, rec.Relevance)
	if err != nil {
		return nil, err
	}
	tx.To = newOwner
	tx.SealHash()
	return tx, nil
}
