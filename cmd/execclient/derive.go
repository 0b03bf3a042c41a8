package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/sipeed/execclient/pkg/pda"
)

type deriveOptions struct {
	wallet    string
	program   string
	app       string
	character string
	message   string
	asJSON    bool
}

func newDeriveCmd(root *rootOptions) *cobra.Command {
	opts := &deriveOptions{}
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Print the program-derived addresses for this execution client",
		Long:  "derive computes the app, execution client, compute mint, staker and token account addresses from the program id, wallet and app name. With --character and --message it also prints the full answer_message account set.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if opts.program == "" {
				opts.program = cfg.Ledger.ProgramID
			}
			if opts.app == "" {
				opts.app = cfg.App.Name
			}

			programID, err := solana.PublicKeyFromBase58(opts.program)
			if err != nil {
				return fmt.Errorf("program id: %w", err)
			}
			var wallet solana.PublicKey
			if opts.wallet != "" {
				wallet, err = solana.PublicKeyFromBase58(opts.wallet)
				if err != nil {
					return fmt.Errorf("wallet: %w", err)
				}
			} else {
				key, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.KeypairPath())
				if err != nil {
					return fmt.Errorf("load keypair %s: %w", cfg.KeypairPath(), err)
				}
				wallet = key.PublicKey()
			}

			scope, err := pda.DeriveScope(programID, wallet, opts.app)
			if err != nil {
				return err
			}
			named := map[string]solana.PublicKey{
				"program":                          scope.ProgramID,
				"authority":                        scope.Wallet,
				"app":                              scope.App,
				"execution_client":                 scope.ExecutionClient,
				"compute_mint":                     scope.ComputeMint,
				"execution_client_compute_account": scope.ExecutionClientComputeAccount,
				"staker":                           scope.Staker,
				"staked_token_account":             scope.StakedTokenAccount,
			}

			if opts.character != "" || opts.message != "" {
				character, err := solana.PublicKeyFromBase58(opts.character)
				if err != nil {
					return fmt.Errorf("character: %w", err)
				}
				message, err := solana.PublicKeyFromBase58(opts.message)
				if err != nil {
					return fmt.Errorf("message: %w", err)
				}
				accounts, err := scope.ForMessage(character, message)
				if err != nil {
					return err
				}
				named = accounts.Named()
			}

			return writeAddresses(cmd, named, opts.asJSON)
		},
	}
	cmd.Flags().StringVar(&opts.wallet, "wallet", "", "wallet public key (default: the configured keypair)")
	cmd.Flags().StringVar(&opts.program, "program", "", "program id (default: ledger.program_id)")
	cmd.Flags().StringVar(&opts.app, "app", "", "app name (default: app.name)")
	cmd.Flags().StringVar(&opts.character, "character", "", "character account address")
	cmd.Flags().StringVar(&opts.message, "message", "", "message account address")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print JSON")
	cmd.MarkFlagsRequiredTogether("character", "message")
	return cmd
}

func writeAddresses(cmd *cobra.Command, named map[string]solana.PublicKey, asJSON bool) error {
	if asJSON {
		out := make(map[string]string, len(named))
		for k, v := range named {
			out[k] = v.String()
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	names := make([]string, 0, len(named))
	for k := range named {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%-34s %s\n", k, named[k]); err != nil {
			return err
		}
	}
	return nil
}
