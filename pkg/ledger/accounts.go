// Package ledger reads character and message accounts from the on-chain
// program and submits answer_message transactions.
package ledger

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ---------------------------------------------------------------------------
// Account layouts
// ---------------------------------------------------------------------------

// Anchor discriminators: the first eight bytes of sha256("account:<Name>")
// and sha256("global:<instruction>").
var (
	CharacterDiscriminator     = bin.SighashTypeID(bin.SIGHASH_ACCOUNT_NAMESPACE, "Character")
	MessageDiscriminator       = bin.SighashTypeID(bin.SIGHASH_ACCOUNT_NAMESPACE, "Message")
	AnswerMessageDiscriminator = bin.SighashTypeID(bin.SIGHASH_GLOBAL_NAMESPACE, "answer_message")
)

// Field offsets used by program-account filters. Both include the eight
// discriminator bytes.
const (
	CharacterExecutionClientOffset = 8 + 32 + 32
	MessageCharacterOffset         = 8
)

// CharacterAccount is the on-chain character record.
type CharacterAccount struct {
	App             solana.PublicKey
	Owner           solana.PublicKey
	ExecutionClient solana.PublicKey
	Name            string
}

// MessageAccount is the on-chain message record.
type MessageAccount struct {
	Character  solana.PublicKey
	Sender     solana.PublicKey
	Content    string
	Response   *string `bin:"optional"`
	IsAnswered bool
}

// DecodeCharacter parses raw character account data.
func DecodeCharacter(data []byte) (*CharacterAccount, error) {
	var acc CharacterAccount
	if err := decodeAccount(data, CharacterDiscriminator, &acc); err != nil {
		return nil, fmt.Errorf("decode character: %w", err)
	}
	return &acc, nil
}

// DecodeMessage parses raw message account data.
func DecodeMessage(data []byte) (*MessageAccount, error) {
	var acc MessageAccount
	if err := decodeAccount(data, MessageDiscriminator, &acc); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &acc, nil
}

func decodeAccount(data []byte, disc bin.TypeID, v interface{}) error {
	if len(data) < 8 {
		return fmt.Errorf("account data too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:8], disc[:]) {
		return fmt.Errorf("unexpected discriminator %x", data[:8])
	}
	return bin.NewBorshDecoder(data[8:]).Decode(v)
}

// EncodeCharacter serializes a character account with its discriminator.
func EncodeCharacter(acc *CharacterAccount) ([]byte, error) {
	return encodeWithDiscriminator(CharacterDiscriminator, acc)
}

// EncodeMessage serializes a message account with its discriminator.
func EncodeMessage(acc *MessageAccount) ([]byte, error) {
	return encodeWithDiscriminator(MessageDiscriminator, acc)
}

func encodeWithDiscriminator(disc bin.TypeID, v interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(disc[:])
	if err := bin.NewBorshEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
