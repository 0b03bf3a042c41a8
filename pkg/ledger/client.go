package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/sipeed/execclient/pkg/domain"
	"github.com/sipeed/execclient/pkg/logger"
	"github.com/sipeed/execclient/pkg/pda"
)

// ---------------------------------------------------------------------------
// Connection
// ---------------------------------------------------------------------------

// Filter selects program accounts whose data holds Bytes at Offset.
type Filter struct {
	Offset uint64
	Bytes  []byte
}

// KeyedAccount is one program account and its raw data.
type KeyedAccount struct {
	Address solana.PublicKey
	Data    []byte
}

// Conn is the ledger RPC surface: account reads and instruction submission.
type Conn interface {
	ProgramAccounts(ctx context.Context, programID solana.PublicKey, filters ...Filter) ([]KeyedAccount, error)
	Account(ctx context.Context, address solana.PublicKey) ([]byte, error)
	Submit(ctx context.Context, ix solana.Instruction) (solana.Signature, error)
	Wallet() solana.PublicKey
}

// RPCConn implements Conn over a JSON-RPC endpoint, signing with one keypair.
type RPCConn struct {
	client        *rpc.Client
	key           solana.PrivateKey
	commitment    rpc.CommitmentType
	skipPreflight bool
}

// RPCOptions configures NewRPCConn.
type RPCOptions struct {
	URL           string
	KeypairPath   string
	Commitment    string
	SkipPreflight bool
}

// NewRPCConn loads the keypair and connects to opts.URL.
func NewRPCConn(opts RPCOptions) (*RPCConn, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(opts.KeypairPath)
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w", opts.KeypairPath, err)
	}
	commitment := rpc.CommitmentType(opts.Commitment)
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &RPCConn{
		client:        rpc.New(opts.URL),
		key:           key,
		commitment:    commitment,
		skipPreflight: opts.SkipPreflight,
	}, nil
}

func (c *RPCConn) Wallet() solana.PublicKey { return c.key.PublicKey() }

func (c *RPCConn) ProgramAccounts(ctx context.Context, programID solana.PublicKey, filters ...Filter) ([]KeyedAccount, error) {
	rpcFilters := make([]rpc.RPCFilter, 0, len(filters))
	for _, f := range filters {
		rpcFilters = append(rpcFilters, rpc.RPCFilter{
			Memcmp: &rpc.RPCFilterMemcmp{Offset: f.Offset, Bytes: solana.Base58(f.Bytes)},
		})
	}
	out, err := c.client.GetProgramAccountsWithOpts(ctx, programID, &rpc.GetProgramAccountsOpts{
		Commitment: c.commitment,
		Encoding:   solana.EncodingBase64,
		Filters:    rpcFilters,
	})
	if err != nil {
		return nil, err
	}
	accounts := make([]KeyedAccount, 0, len(out))
	for _, ka := range out {
		if ka == nil || ka.Account == nil || ka.Account.Data == nil {
			continue
		}
		accounts = append(accounts, KeyedAccount{Address: ka.Pubkey, Data: ka.Account.Data.GetBinary()})
	}
	return accounts, nil
}

func (c *RPCConn) Account(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	out, err := c.client.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Commitment: c.commitment,
		Encoding:   solana.EncodingBase64,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, domain.ErrNotFound.With("account " + address.String())
	}
	if err != nil {
		return nil, err
	}
	return out.GetBinary(), nil
}

// Submit signs ix with the connection's keypair against the latest blockhash
// and sends it.
func (c *RPCConn) Submit(ctx context.Context, ix solana.Instruction) (solana.Signature, error) {
	recent, err := c.client.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("latest blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		recent.Value.Blockhash,
		solana.TransactionPayer(c.key.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.key.PublicKey()) {
			return &c.key
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}
	return c.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       c.skipPreflight,
		PreflightCommitment: c.commitment,
	})
}

// ---------------------------------------------------------------------------
// Program client
// ---------------------------------------------------------------------------

// Character is a decoded character account and its address.
type Character struct {
	Address solana.PublicKey
	CharacterAccount
}

// Message is a decoded message account and its address.
type Message struct {
	Address solana.PublicKey
	MessageAccount
}

// Client speaks the execution client's side of the on-chain program for one
// wallet within one application scope.
type Client struct {
	conn  Conn
	scope *pda.Scope
}

// NewClient derives the wallet's scope addresses and returns a client bound
// to them.
func NewClient(conn Conn, programID solana.PublicKey, appName string) (*Client, error) {
	scope, err := pda.DeriveScope(programID, conn.Wallet(), appName)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, scope: scope}, nil
}

// Scope returns the derived per-wallet addresses.
func (c *Client) Scope() *pda.Scope { return c.scope }

// Characters lists the characters assigned to this execution client.
func (c *Client) Characters(ctx context.Context) ([]Character, error) {
	raw, err := c.conn.ProgramAccounts(ctx, c.scope.ProgramID,
		Filter{Offset: 0, Bytes: CharacterDiscriminator[:]},
		Filter{Offset: CharacterExecutionClientOffset, Bytes: c.scope.ExecutionClient.Bytes()},
	)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	out := make([]Character, 0, len(raw))
	for _, ka := range raw {
		acc, err := DecodeCharacter(ka.Data)
		if err != nil {
			logger.WarnCF("ledger", "Skipping undecodable character account", map[string]interface{}{
				"address": ka.Address.String(),
				"error":   err.Error(),
			})
			continue
		}
		out = append(out, Character{Address: ka.Address, CharacterAccount: *acc})
	}
	return out, nil
}

// Messages lists every message addressed to character. The ledger gives no
// ordering guarantee.
func (c *Client) Messages(ctx context.Context, character solana.PublicKey) ([]Message, error) {
	raw, err := c.conn.ProgramAccounts(ctx, c.scope.ProgramID,
		Filter{Offset: 0, Bytes: MessageDiscriminator[:]},
		Filter{Offset: MessageCharacterOffset, Bytes: character.Bytes()},
	)
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", character, err)
	}
	out := make([]Message, 0, len(raw))
	for _, ka := range raw {
		acc, err := DecodeMessage(ka.Data)
		if err != nil {
			logger.WarnCF("ledger", "Skipping undecodable message account", map[string]interface{}{
				"address": ka.Address.String(),
				"error":   err.Error(),
			})
			continue
		}
		out = append(out, Message{Address: ka.Address, MessageAccount: *acc})
	}
	return out, nil
}

// Message fetches one message account.
func (c *Client) Message(ctx context.Context, address solana.PublicKey) (*Message, error) {
	data, err := c.conn.Account(ctx, address)
	if err != nil {
		return nil, err
	}
	acc, err := DecodeMessage(data)
	if err != nil {
		return nil, err
	}
	return &Message{Address: address, MessageAccount: *acc}, nil
}

// Character fetches one character account.
func (c *Client) Character(ctx context.Context, address solana.PublicKey) (*Character, error) {
	data, err := c.conn.Account(ctx, address)
	if err != nil {
		return nil, err
	}
	acc, err := DecodeCharacter(data)
	if err != nil {
		return nil, err
	}
	return &Character{Address: address, CharacterAccount: *acc}, nil
}

// CharacterForMessage resolves the character a message is addressed to.
func (c *Client) CharacterForMessage(ctx context.Context, messageAddress string) (*domain.CharacterProfile, error) {
	addr, err := solana.PublicKeyFromBase58(messageAddress)
	if err != nil {
		return nil, fmt.Errorf("message address: %w", err)
	}
	msg, err := c.Message(ctx, addr)
	if err != nil {
		return nil, err
	}
	ch, err := c.Character(ctx, msg.Character)
	if err != nil {
		return nil, err
	}
	return &domain.CharacterProfile{
		Address:         ch.Address.String(),
		Name:            ch.Name,
		Owner:           ch.Owner.String(),
		App:             ch.App.String(),
		ExecutionClient: ch.ExecutionClient.String(),
	}, nil
}

// AnswerMessage submits an answer_message transaction for message and
// returns the transaction signature. A message the program already marks
// answered yields domain.ErrAlreadyAnswered.
func (c *Client) AnswerMessage(ctx context.Context, character, message solana.PublicKey, response string) (string, error) {
	accounts, err := c.scope.ForMessage(character, message)
	if err != nil {
		return "", err
	}
	ix, err := NewAnswerMessageInstruction(c.scope.ProgramID, accounts, response)
	if err != nil {
		return "", err
	}
	sig, err := c.conn.Submit(ctx, ix)
	if err != nil {
		if isAlreadyAnswered(err) {
			return "", fmt.Errorf("%w: %v", domain.ErrAlreadyAnswered, err)
		}
		return "", fmt.Errorf("submit answer_message: %w", err)
	}
	return sig.String(), nil
}

// isAlreadyAnswered recognizes the program's rejection of a second answer in
// simulation logs and error text.
func isAlreadyAnswered(err error) bool {
	if errors.Is(err, domain.ErrAlreadyAnswered) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "alreadyanswered") || strings.Contains(msg, "already answered")
}
