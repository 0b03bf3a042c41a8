package ledger

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/sipeed/execclient/pkg/pda"
)

// answerMessageLayout is the account order of the answer_message
// instruction, with each account's access flags.
var answerMessageLayout = []struct {
	name     string
	writable bool
	signer   bool
}{
	{"app", false, false},
	{"character", true, false},
	{"character_compute_account", true, false},
	{"compute_mint", true, false},
	{"execution_client", true, false},
	{"execution_client_compute_account", true, false},
	{"staked_token_account", true, false},
	{"staker", true, false},
	{"message", true, false},
	{"authority", true, true},
	{"token_program", false, false},
	{"associated_token_program", false, false},
	{"system_program", false, false},
}

// AnswerMessageData encodes the instruction payload: discriminator followed
// by the Borsh string response.
func AnswerMessageData(response string) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(AnswerMessageDiscriminator[:])
	if err := bin.NewBorshEncoder(buf).Encode(response); err != nil {
		return nil, fmt.Errorf("encode answer_message: %w", err)
	}
	return buf.Bytes(), nil
}

// NewAnswerMessageInstruction builds the instruction that marks a message
// answered and stores response on it.
func NewAnswerMessageInstruction(programID solana.PublicKey, accounts *pda.AnswerAccounts, response string) (solana.Instruction, error) {
	data, err := AnswerMessageData(response)
	if err != nil {
		return nil, err
	}
	named := accounts.Named()
	metas := make(solana.AccountMetaSlice, 0, len(answerMessageLayout))
	for _, a := range answerMessageLayout {
		key, ok := named[a.name]
		if !ok {
			return nil, fmt.Errorf("answer_message: missing account %s", a.name)
		}
		meta := solana.Meta(key)
		if a.writable {
			meta = meta.WRITE()
		}
		if a.signer {
			meta = meta.SIGNER()
		}
		metas = append(metas, meta)
	}
	return solana.NewInstruction(programID, metas, data), nil
}
