package model

import (
	"strings"
	"testing"
	"time"
)

func TestBlockHashCoversHeader(t *testing.T) {
	b := &Block{
		Index:        3,
		PreviousHash: "aa",
		Timestamp:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		MerkleRoot:   "bb",
		Nonce:        42,
		Difficulty:   2,
	}
	b.Hash = b.ComputeHash()

	if b.ComputeHash() != b.Hash {
		t.Fatal("hash not deterministic")
	}

	tampered := *b
	tampered.Nonce++
	if tampered.ComputeHash() == b.Hash {
		t.Fatal("nonce change did not alter hash")
	}
	tampered = *b
	tampered.PreviousHash = "cc"
	if tampered.ComputeHash() == b.Hash {
		t.Fatal("linkage change did not alter hash")
	}
}

func TestBlockMeetsDifficulty(t *testing.T) {
	b := &Block{Hash: "00beef", Difficulty: 2}
	if !b.MeetsDifficulty() {
		t.Fatal("two leading zeros should satisfy difficulty 2")
	}
	b.Difficulty = 3
	if b.MeetsDifficulty() {
		t.Fatal("difficulty 3 should reject two leading zeros")
	}
}

func TestBlockMerkleRoot(t *testing.T) {
	tx1, err := NewCreateTx("alice", Record{ID: "r1", Content: "one"})
	if err != nil {
		t.Fatal(err)
	}
	tx2, err := NewCreateTx("alice", Record{ID: "r2", Content: "two"})
	if err != nil {
		t.Fatal(err)
	}

	b := &Block{Transactions: []Transaction{*tx1, *tx2}}
	root := b.ComputeMerkleRoot()
	if root == "" {
		t.Fatal("empty merkle root")
	}

	b.Transactions[1].Hash = strings.Repeat("0", 64)
	if b.ComputeMerkleRoot() == root {
		t.Fatal("transaction hash change did not alter merkle root")
	}
}

func TestNewCreateTxSealsHash(t *testing.T) {
	rec := Record{ID: "r1", Content: "hello", Owner: "alice", Relevance: 80}
	tx, err := NewCreateTx("alice", rec)
	if err != nil {
		t.Fatal(err)
	}
	if tx.ID == "" || tx.Hash == "" {
		t.Fatal("transaction missing identity")
	}
	if tx.RelevanceImpact != 80 {
		t.Fatalf("relevance impact = %v, want 80", tx.RelevanceImpact)
	}

	p, err := tx.DecodeCreate()
	if err != nil {
		t.Fatal(err)
	}
	if p.Record.ID != "r1" || p.Record.Content != "hello" {
		t.Fatalf("payload round trip lost data: %+v", p.Record)
	}
}

func TestNewTransferTxSetsRecipient(t *testing.T) {
	rec := &Record{ID: "r1", Owner: "alice", Relevance: 50}
	tx, err := NewTransferTx("alice", rec, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if tx.To != "bob" {
		t.Fatalf("to = %q, want bob", tx.To)
	}

	// The recipient is part of the sealed hash.
	want := tx.Hash
	tx.To = "mallory"
	tx.SealHash()
	if tx.Hash == want {
		t.Fatal("recipient change did not alter hash")
	}
}

func TestDecodeRejectsWrongType(t *testing.T) {
	tx, err := NewArchiveTx("system", &Record{ID: "r1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.DecodeForget(); err == nil {
		t.Fatal("decoding archive payload as forget should fail")
	}
}

func TestRecordCloneIsIndependent(t *testing.T) {
	purge := time.Now().Add(time.Hour)
	rec := &Record{ID: "r1", Metadata: map[string]string{"k": "v"}, PurgeAfter: &purge}

	cp := rec.Clone()
	cp.Metadata["k"] = "changed"
	*cp.PurgeAfter = cp.PurgeAfter.Add(time.Hour)

	if rec.Metadata["k"] != "v" {
		t.Fatal("clone shares metadata map")
	}
	if !rec.PurgeAfter.Equal(purge) {
		t.Fatal("clone shares purge timestamp")
	}
}

func TestStateValid(t *testing.T) {
	for _, s := range []State{StateActive, StateArchived, StateDead} {
		if !s.Valid() {
			t.Fatalf("%s should be valid", s)
		}
	}
	if State("zombie").Valid() {
		t.Fatal("unknown state accepted")
	}
}

func TestEnsureContentHashIdempotent(t *testing.T) {
	r := &Record{Content: "data"}
	r.EnsureContentHash()
	first := r.ContentHash
	if first == "" {
		t.Fatal("content hash not set")
	}
	r.Content = "other"
	r.EnsureContentHash()
	if r.ContentHash != first {
		t.Fatal("existing content hash overwritten")
	}
}
