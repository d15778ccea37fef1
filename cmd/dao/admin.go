package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stheg/dao-market-referrals-program/internal/app"
	"github.com/stheg/dao-market-referrals-program/internal/domain"
	"github.com/stheg/dao-market-referrals-program/internal/repo"
	"github.com/stheg/dao-market-referrals-program/internal/token"
)

func tokenCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "token",
		Short: "Local token ledger (token.mode ledger only)",
	}
	t.AddCommand(&cobra.Command{
		Use:   "mint <address> <amount>",
		Short: "Create tokens for an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := parseAddress("address", args[0])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.WithLedger(ctx, func(tx *sql.Tx, l token.Ledger) error {
					return l.Mint(ctx, tx, to, amount)
				})
			})
		},
	})
	t.AddCommand(&cobra.Command{
		Use:   "approve <amount> [spender]",
		Short: "Allow spender (default custody) to move tokens of --account",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := actingAccount()
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				spender := rt.Config.CustodyAddress()
				if len(args) == 2 {
					if spender, err = parseAddress("spender", args[1]); err != nil {
						return err
					}
				}
				return rt.WithLedger(ctx, func(tx *sql.Tx, l token.Ledger) error {
					return l.Approve(ctx, tx, owner, spender, amount)
				})
			})
		},
	})
	t.AddCommand(&cobra.Command{
		Use:   "balance <address>",
		Short: "Token balance and custody allowance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := parseAddress("address", args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.WithLedger(ctx, func(tx *sql.Tx, l token.Ledger) error {
					bal, err := l.BalanceOf(ctx, tx, who)
					if err != nil {
						return err
					}
					allowance, err := l.Allowance(ctx, tx, who, rt.Config.CustodyAddress())
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(map[string]string{"address": who.Hex(), "balance": bal.String(), "custody_allowance": allowance.String()})
					}
					tw := newTable(table.Row{"Address", "Balance", "Custody Allowance"})
					tw.AppendRow(table.Row{who.Hex(), bal, allowance})
					tw.Render()
					return nil
				})
			})
		},
	})
	return t
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "API keys for the HTTP server",
		Long:  "A key authenticates requests as --account via the X-Api-Key header. Only its hash is stored.",
	}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a key for --account",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := actingAccount()
			if err != nil {
				return err
			}
			secret := "dao_" + strings.ReplaceAll(uuid.NewString(), "-", "")
			key := domain.APIKey{
				ID:      uuid.NewString(),
				ActorID: owner.Hex(),
				Name:    name,
				KeyHash: repo.HashAPIKey(secret),
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				tx, err := rt.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := rt.Engine.Repo.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "account": key.ActorID, "key": secret})
				}
				fmt.Printf("id:  %s\nkey: %s\n(store the key now, it is not shown again)\n", key.ID, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label")
	k.AddCommand(create)
	k.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Keys of --account",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := actingAccount()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				keys, err := rt.Engine.Repo.ListAPIKeys(ctx, owner.Hex())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable(table.Row{"ID", "Name", "Created At"})
				for _, key := range keys {
					tw.AppendRow(table.Row{key.ID, key.Name, key.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	k.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return k
}
