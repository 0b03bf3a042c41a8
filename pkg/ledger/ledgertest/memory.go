// Package ledgertest provides an in-memory ledger.Conn that behaves like the
// on-chain program for answer_message, for use in tests.
package ledgertest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/sipeed/execclient/pkg/domain"
	"github.com/sipeed/execclient/pkg/ledger"
)

// Conn is an in-memory program account store.
type Conn struct {
	mu       sync.Mutex
	wallet   solana.PublicKey
	accounts map[solana.PublicKey][]byte
	order    []solana.PublicKey

	// ListErr, ReadErr and SubmitErr, when set, fail the matching call.
	ListErr   error
	ReadErr   error
	SubmitErr error

	Submitted []solana.Instruction
}

// NewConn returns an empty ledger owned by wallet.
func NewConn(wallet solana.PublicKey) *Conn {
	return &Conn{wallet: wallet, accounts: make(map[solana.PublicKey][]byte)}
}

func (c *Conn) Wallet() solana.PublicKey { return c.wallet }

// Put stores raw account data at address.
func (c *Conn) Put(address solana.PublicKey, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.accounts[address]; !ok {
		c.order = append(c.order, address)
	}
	c.accounts[address] = append([]byte(nil), data...)
}

// PutCharacter encodes and stores a character account.
func (c *Conn) PutCharacter(address solana.PublicKey, acc *ledger.CharacterAccount) error {
	data, err := ledger.EncodeCharacter(acc)
	if err != nil {
		return err
	}
	c.Put(address, data)
	return nil
}

// PutMessage encodes and stores a message account.
func (c *Conn) PutMessage(address solana.PublicKey, acc *ledger.MessageAccount) error {
	data, err := ledger.EncodeMessage(acc)
	if err != nil {
		return err
	}
	c.Put(address, data)
	return nil
}

// Message decodes the message stored at address.
func (c *Conn) Message(address solana.PublicKey) (*ledger.MessageAccount, error) {
	c.mu.Lock()
	data, ok := c.accounts[address]
	c.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return ledger.DecodeMessage(data)
}

func (c *Conn) ProgramAccounts(_ context.Context, _ solana.PublicKey, filters ...ledger.Filter) ([]ledger.KeyedAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	var out []ledger.KeyedAccount
	for _, addr := range c.order {
		data := c.accounts[addr]
		if matches(data, filters) {
			out = append(out, ledger.KeyedAccount{Address: addr, Data: append([]byte(nil), data...)})
		}
	}
	return out, nil
}

func matches(data []byte, filters []ledger.Filter) bool {
	for _, f := range filters {
		end := f.Offset + uint64(len(f.Bytes))
		if end > uint64(len(data)) || !bytes.Equal(data[f.Offset:end], f.Bytes) {
			return false
		}
	}
	return true
}

func (c *Conn) Account(_ context.Context, address solana.PublicKey) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReadErr != nil {
		return nil, c.ReadErr
	}
	data, ok := c.accounts[address]
	if !ok {
		return nil, domain.ErrNotFound.With("account " + address.String())
	}
	return append([]byte(nil), data...), nil
}

// Submit applies answer_message the way the program does: it rejects an
// already answered message and otherwise stores the response.
func (c *Conn) Submit(_ context.Context, ix solana.Instruction) (solana.Signature, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubmitErr != nil {
		return solana.Signature{}, c.SubmitErr
	}
	data, err := ix.Data()
	if err != nil {
		return solana.Signature{}, err
	}
	if len(data) < 8 || !bytes.Equal(data[:8], ledger.AnswerMessageDiscriminator[:]) {
		return solana.Signature{}, errors.New("unknown instruction")
	}
	var response string
	if err := bin.NewBorshDecoder(data[8:]).Decode(&response); err != nil {
		return solana.Signature{}, err
	}

	metas := ix.Accounts()
	if len(metas) < 10 {
		return solana.Signature{}, fmt.Errorf("expected 13 accounts, got %d", len(metas))
	}
	if !metas[9].IsSigner || !metas[9].PublicKey.Equals(c.wallet) {
		return solana.Signature{}, errors.New("missing authority signature")
	}
	msgAddr := metas[8].PublicKey
	raw, ok := c.accounts[msgAddr]
	if !ok {
		return solana.Signature{}, fmt.Errorf("account %s not found", msgAddr)
	}
	msg, err := ledger.DecodeMessage(raw)
	if err != nil {
		return solana.Signature{}, err
	}
	if msg.IsAnswered {
		return solana.Signature{}, errors.New("transaction simulation failed: custom program error: MessageAlreadyAnswered")
	}
	msg.Response = &response
	msg.IsAnswered = true
	updated, err := ledger.EncodeMessage(msg)
	if err != nil {
		return solana.Signature{}, err
	}
	c.accounts[msgAddr] = updated
	c.Submitted = append(c.Submitted, ix)

	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], uint64(len(c.Submitted)))
	h1 := sha256.Sum256(append(append([]byte(nil), data...), seq[:]...))
	h2 := sha256.Sum256(h1[:])
	var sig solana.Signature
	copy(sig[:32], h1[:])
	copy(sig[32:], h2[:])
	return sig, nil
}

// SubmittedCount returns how many instructions were applied.
func (c *Conn) SubmittedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Submitted)
}
