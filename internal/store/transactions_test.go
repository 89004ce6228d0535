package store

import (
	"testing"

	"github.com/lazypower/amnesiad/internal/model"
)

func TestSaveAndGetTransaction(t *testing.T) {
	db := testDB(t)

	rec := sampleRecord("rec-1", "alice")
	tx, err := model.NewCreateTx("alice", *rec)
	if err != nil {
		t.Fatalf("NewCreateTx: %v", err)
	}
	if err := db.SaveTransaction(tx); err != nil {
		t.Fatalf("SaveTransaction: %v", err)
	}

	got, err := db.GetTransaction(tx.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got == nil {
		t.Fatal("expected transaction, got nil")
	}
	if got.Type != model.TxCreate {
		t.Errorf("type = %s, want create", got.Type)
	}

	payload, err := got.DecodeCreate()
	if err != nil {
		t.Fatalf("DecodeCreate: %v", err)
	}
	if payload.Record.ID != "rec-1" {
		t.Errorf("payload record = %s, want rec-1", payload.Record.ID)
	}

	byHash, err := db.GetTransactionByHash(tx.Hash)
	if err != nil {
		t.Fatalf("GetTransactionByHash: %v", err)
	}
	if byHash == nil || byHash.ID != tx.ID {
		t.Error("lookup by hash failed")
	}
}

func TestDuplicateTransactionIDRejected(t *testing.T) {
	db := testDB(t)

	rec := sampleRecord("rec-1", "alice")
	tx, _ := model.NewCreateTx("alice", *rec)
	if err := db.SaveTransaction(tx); err != nil {
		t.Fatalf("SaveTransaction: %v", err)
	}
	if err := db.SaveTransaction(tx); err == nil {
		t.Error("duplicate transaction id should violate the unique constraint")
	}
}

func TestTransactionsByAddress(t *testing.T) {
	db := testDB(t)

	a, _ := model.NewCreateTx("alice", *sampleRecord("rec-a", "alice"))
	b, _ := model.NewCreateTx("bob", *sampleRecord("rec-b", "bob"))
	db.SaveTransaction(a)
	db.SaveTransaction(b)

	got, err := db.TransactionsByAddress("alice", 0)
	if err != nil {
		t.Fatalf("TransactionsByAddress: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("alice's transactions = %v, want exactly hers", got)
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	db := testDB(t)

	got, err := db.GetTransaction("nope")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing transaction")
	}
}
