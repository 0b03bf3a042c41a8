// Package pda derives the program addresses the execution client reads and
// writes. Every function is pure: identical inputs give identical addresses.
//
// Seed layout (must match the on-chain program byte for byte):
//
//	app               ["app", appName]
//	execution client  ["execution_client", app, wallet]
//	compute mint      ["compute_mint", app]
//	staker            ["staker", executionClient, wallet]
//
// Token accounts are associated token accounts of the compute mint.
package pda

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Seed tags.
var (
	SeedApp             = []byte("app")
	SeedExecutionClient = []byte("execution_client")
	SeedComputeMint     = []byte("compute_mint")
	SeedStaker          = []byte("staker")
)

// Address is a derived address with its bump seed.
type Address struct {
	Key  solana.PublicKey
	Bump uint8
}

func (a Address) String() string { return a.Key.String() }

func find(programID solana.PublicKey, seeds ...[]byte) (Address, error) {
	// FindProgramAddress appends the bump to the slice it is given, so it
	// always gets a fresh one.
	cp := make([][]byte, len(seeds))
	copy(cp, seeds)
	key, bump, err := solana.FindProgramAddress(cp, programID)
	if err != nil {
		return Address{}, err
	}
	return Address{Key: key, Bump: bump}, nil
}

// App derives the application scope account for appName.
func App(programID solana.PublicKey, appName string) (Address, error) {
	if len(appName) > solana.MaxSeedLength {
		return Address{}, fmt.Errorf("app name longer than %d bytes", solana.MaxSeedLength)
	}
	a, err := find(programID, SeedApp, []byte(appName))
	if err != nil {
		return Address{}, fmt.Errorf("derive app address: %w", err)
	}
	return a, nil
}

// ExecutionClient derives the execution client account of wallet within app.
func ExecutionClient(programID, app, wallet solana.PublicKey) (Address, error) {
	a, err := find(programID, SeedExecutionClient, app.Bytes(), wallet.Bytes())
	if err != nil {
		return Address{}, fmt.Errorf("derive execution client address: %w", err)
	}
	return a, nil
}

// ComputeMint derives the compute token mint of app.
func ComputeMint(programID, app solana.PublicKey) (Address, error) {
	a, err := find(programID, SeedComputeMint, app.Bytes())
	if err != nil {
		return Address{}, fmt.Errorf("derive compute mint address: %w", err)
	}
	return a, nil
}

// Staker derives the staker account of wallet for an execution client.
func Staker(programID, executionClient, wallet solana.PublicKey) (Address, error) {
	a, err := find(programID, SeedStaker, executionClient.Bytes(), wallet.Bytes())
	if err != nil {
		return Address{}, fmt.Errorf("derive staker address: %w", err)
	}
	return a, nil
}

// TokenAccount derives the associated token account of owner for mint.
func TokenAccount(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	key, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive token account: %w", err)
	}
	return key, nil
}

// ---------------------------------------------------------------------------
// Account sets
// ---------------------------------------------------------------------------

// Scope holds the addresses that depend only on the wallet and app name.
type Scope struct {
	ProgramID                     solana.PublicKey
	Wallet                        solana.PublicKey
	App                           solana.PublicKey
	ExecutionClient               solana.PublicKey
	ComputeMint                   solana.PublicKey
	ExecutionClientComputeAccount solana.PublicKey
	Staker                        solana.PublicKey
	StakedTokenAccount            solana.PublicKey
}

// DeriveScope computes every per-wallet address for appName.
func DeriveScope(programID, wallet solana.PublicKey, appName string) (*Scope, error) {
	app, err := App(programID, appName)
	if err != nil {
		return nil, err
	}
	ec, err := ExecutionClient(programID, app.Key, wallet)
	if err != nil {
		return nil, err
	}
	mint, err := ComputeMint(programID, app.Key)
	if err != nil {
		return nil, err
	}
	staker, err := Staker(programID, ec.Key, wallet)
	if err != nil {
		return nil, err
	}
	ecTokens, err := TokenAccount(ec.Key, mint.Key)
	if err != nil {
		return nil, err
	}
	staked, err := TokenAccount(staker.Key, mint.Key)
	if err != nil {
		return nil, err
	}
	return &Scope{
		ProgramID:                     programID,
		Wallet:                        wallet,
		App:                           app.Key,
		ExecutionClient:               ec.Key,
		ComputeMint:                   mint.Key,
		ExecutionClientComputeAccount: ecTokens,
		Staker:                        staker.Key,
		StakedTokenAccount:            staked,
	}, nil
}

// AnswerAccounts is the full account set an answer_message transaction
// touches.
type AnswerAccounts struct {
	Scope
	Character               solana.PublicKey
	CharacterComputeAccount solana.PublicKey
	Message                 solana.PublicKey
}

// ForMessage extends the scope with the character and message being
// answered.
func (s *Scope) ForMessage(character, message solana.PublicKey) (*AnswerAccounts, error) {
	charTokens, err := TokenAccount(character, s.ComputeMint)
	if err != nil {
		return nil, err
	}
	return &AnswerAccounts{
		Scope:                   *s,
		Character:               character,
		CharacterComputeAccount: charTokens,
		Message:                 message,
	}, nil
}

// Named returns the accounts keyed by their instruction names.
func (a *AnswerAccounts) Named() map[string]solana.PublicKey {
	return map[string]solana.PublicKey{
		"app":                              a.App,
		"character":                        a.Character,
		"character_compute_account":        a.CharacterComputeAccount,
		"compute_mint":                     a.ComputeMint,
		"execution_client":                 a.ExecutionClient,
		"execution_client_compute_account": a.ExecutionClientComputeAccount,
		"staked_token_account":             a.StakedTokenAccount,
		"staker":                           a.Staker,
		"message":                          a.Message,
		"authority":                        a.Wallet,
		"token_program":                    solana.TokenProgramID,
		"associated_token_program":         solana.SPLAssociatedTokenAccountProgramID,
		"system_program":                   solana.SystemProgramID,
	}
}
