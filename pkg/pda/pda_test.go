package pda

import (
	"fmt"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	programID = solana.MustPublicKeyFromBase58("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")
	wallet    = solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	character = solana.MustPublicKeyFromBase58("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")
)

// Fixtures computed independently from the seed layout.
const (
	wantApp             = "CLktXZ3VUmGdUtyCUpPFK4dt9fMrMs7XserC3oXJ3Crj"
	wantExecutionClient = "8rqgkAUhAdwWThraewzxTaNGiCMUZjXYWgeq9FH7eGEh"
	wantComputeMint     = "mejAebfZ1WWLqxA4znMWnx3dsTByEzZaJpt6XEcAbKP"
	wantStaker          = "A4DtucKRQFgVqrE7THosQMM64dowih8nvPJiaNvgjtzZ"
	wantECTokens        = "DR7aq7m3RLnYTJB1oRj2ZZAmS9QX5ZMfZXG9Eqcp2evr"
	wantStakedTokens    = "ENbXCAhbh87hsHaH68Ya34kVKgVVv4SFDVL7soFbRgZo"
	wantCharTokens      = "6qTMLRmXa5738HXm53tphJ6ZrwP9nQmyqDMucdy73gS7"
)

func TestSeedTags(t *testing.T) {
	assert.Equal(t, []byte("app"), SeedApp)
	assert.Equal(t, []byte("execution_client"), SeedExecutionClient)
	assert.Equal(t, []byte("compute_mint"), SeedComputeMint)
	assert.Equal(t, []byte("staker"), SeedStaker)
}

func TestIndividualDerivations(t *testing.T) {
	app, err := App(programID, "default")
	require.NoError(t, err)
	assert.Equal(t, wantApp, app.String())
	assert.EqualValues(t, 254, app.Bump)

	ec, err := ExecutionClient(programID, app.Key, wallet)
	require.NoError(t, err)
	assert.Equal(t, wantExecutionClient, ec.String())
	assert.EqualValues(t, 254, ec.Bump)

	mint, err := ComputeMint(programID, app.Key)
	require.NoError(t, err)
	assert.Equal(t, wantComputeMint, mint.String())

	staker, err := Staker(programID, ec.Key, wallet)
	require.NoError(t, err)
	assert.Equal(t, wantStaker, staker.String())

	ecTokens, err := TokenAccount(ec.Key, mint.Key)
	require.NoError(t, err)
	assert.Equal(t, wantECTokens, ecTokens.String())
}

func TestDeriveScopeAndAnswerAccounts(t *testing.T) {
	scope, err := DeriveScope(programID, wallet, "default")
	require.NoError(t, err)

	msg := solana.MustPublicKeyFromBase58("11111111111111111111111111111112")
	accounts, err := scope.ForMessage(character, msg)
	require.NoError(t, err)

	named := accounts.Named()
	want := map[string]string{
		"app":                              wantApp,
		"execution_client":                 wantExecutionClient,
		"compute_mint":                     wantComputeMint,
		"staker":                           wantStaker,
		"execution_client_compute_account": wantECTokens,
		"staked_token_account":             wantStakedTokens,
		"character_compute_account":        wantCharTokens,
		"character":                        character.String(),
		"message":                          msg.String(),
		"authority":                        wallet.String(),
		"token_program":                    solana.TokenProgramID.String(),
		"associated_token_program":         solana.SPLAssociatedTokenAccountProgramID.String(),
		"system_program":                   solana.SystemProgramID.String(),
	}
	require.Len(t, named, len(want))
	for name, addr := range want {
		assert.Equal(t, addr, named[name].String(), name)
	}
}

func TestDerivationIsDeterministic(t *testing.T) {
	a, err := DeriveScope(programID, wallet, "default")
	require.NoError(t, err)
	b, err := DeriveScope(programID, wallet, "default")
	require.NoError(t, err)
	assert.Equal(t, *a, *b)

	// Repeated derivation must not be disturbed by the bump append.
	seeds := [][]byte{SeedApp, []byte("default")}
	for i := 0; i < 3; i++ {
		got, err := find(programID, seeds...)
		require.NoError(t, err)
		assert.Equal(t, wantApp, got.String())
	}
	assert.Len(t, seeds, 2)
}

func TestChangingAnySeedChangesAddress(t *testing.T) {
	base, err := DeriveScope(programID, wallet, "default")
	require.NoError(t, err)

	otherApp, err := DeriveScope(programID, wallet, "Default")
	require.NoError(t, err)
	assert.NotEqual(t, base.App, otherApp.App)
	assert.NotEqual(t, base.ExecutionClient, otherApp.ExecutionClient)
	assert.NotEqual(t, base.ComputeMint, otherApp.ComputeMint)

	otherWallet, err := DeriveScope(programID, character, "default")
	require.NoError(t, err)
	assert.Equal(t, base.App, otherWallet.App)
	assert.Equal(t, base.ComputeMint, otherWallet.ComputeMint)
	assert.NotEqual(t, base.ExecutionClient, otherWallet.ExecutionClient)
	assert.NotEqual(t, base.Staker, otherWallet.Staker)

	otherProgram, err := DeriveScope(solana.TokenProgramID, wallet, "default")
	require.NoError(t, err)
	assert.NotEqual(t, base.App, otherProgram.App)
}

func TestNoCollisionsAcrossScopes(t *testing.T) {
	const n = 1000
	seen := make(map[solana.PublicKey]string, 2*n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("scope-%04d", i)
		app, err := App(programID, name)
		require.NoError(t, err)
		ec, err := ExecutionClient(programID, app.Key, wallet)
		require.NoError(t, err)

		for label, key := range map[string]solana.PublicKey{"app " + name: app.Key, "ec " + name: ec.Key} {
			prev, dup := seen[key]
			require.False(t, dup, "%s collides with %s", label, prev)
			seen[key] = label
		}
	}
	assert.Len(t, seen, 2*n)
}

func TestAppNameTooLong(t *testing.T) {
	_, err := App(programID, strings.Repeat("x", solana.MaxSeedLength+1))
	assert.Error(t, err)
}
