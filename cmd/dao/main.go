package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stheg/dao-market-referrals-program/internal/app"
	"github.com/stheg/dao-market-referrals-program/internal/config"
	"github.com/stheg/dao-market-referrals-program/internal/db"
	"github.com/stheg/dao-market-referrals-program/internal/domain"
	"github.com/stheg/dao-market-referrals-program/internal/engine"
	"github.com/stheg/dao-market-referrals-program/internal/erc20"
	"github.com/stheg/dao-market-referrals-program/internal/logging"
	"github.com/stheg/dao-market-referrals-program/internal/migrate"
	"github.com/stheg/dao-market-referrals-program/internal/repo"
	"github.com/stheg/dao-market-referrals-program/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "dao",
	Short: "Token-weighted governance CLI",
	Long: `dao runs a token-weighted voting service over a local workspace.
Core concepts:
- Stake: tokens deposited into custody; the deposit is your voting weight.
- Proposal: a call to a recipient that runs if the vote approves it.
- Vote or delegate: one disposition per account per proposal; delegated weight is folded into the delegate's vote.
- Finish: after the voting window anyone settles the proposal as approved, rejected or cancelled (no quorum).
- Frozen: a deposit cannot be withdrawn while a proposal it voted or delegated on is unfinished.
- Event log: every change, view with 'dao log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DAO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("account", "", "acting account address (env DAO_ACCOUNT)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("account", rootCmd.PersistentFlags().Lookup("account"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(stakeCmd())
	rootCmd.AddCommand(unstakeCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(proposalCmd())
	rootCmd.AddCommand(voteCmd())
	rootCmd.AddCommand(delegateCmd())
	rootCmd.AddCommand(finishCmd())
	rootCmd.AddCommand(paramsCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var chair string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write dao.yml if missing and seed governance state",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				addr, err := parseAddress("chairperson", chair)
				if err != nil {
					return err
				}
				if err := os.WriteFile(config.Path(workspace), []byte(config.GenerateDefault(addr)), 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", config.Path(workspace))
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				params, err := e.Init(ctx, e.Config.ChairpersonAddress())
				if err != nil {
					return err
				}
				return printParams(params)
			})
		},
	}
	cmd.Flags().StringVar(&chair, "chairperson", "", "chairperson address for a new dao.yml")
	return cmd
}

func stakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stake <amount>",
		Short: "Deposit tokens into custody",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actingAccount()
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				acc, err := e.Stake(ctx, caller, amount)
				if err != nil {
					return err
				}
				return printAccount(acc)
			})
		},
	}
}

func unstakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unstake",
		Short: "Withdraw the whole deposit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actingAccount()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				amount, err := e.Unstake(ctx, caller)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"address": caller.Hex(), "returned": amount.String()})
				}
				fmt.Printf("returned %s to %s\n", amount, caller.Hex())
				return nil
			})
		},
	}
}

func accountCmd() *cobra.Command {
	acc := &cobra.Command{Use: "account", Short: "Inspect accounts"}
	acc.AddCommand(&cobra.Command{
		Use:   "show [address]",
		Short: "Stake and open commitments (defaults to --account)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				addr common.Address
				err  error
			)
			if len(args) == 1 {
				addr, err = parseAddress("address", args[0])
			} else {
				addr, err = actingAccount()
			}
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.GetDetails(ctx, addr)
				if err != nil {
					return err
				}
				return printAccount(a)
			})
		},
	})
	return acc
}

func proposalCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "proposal",
		Short: "Manage proposals",
		Long:  "Proposals carry a recipient and calldata. The call runs from custody when the proposal is approved.",
	}
	p.AddCommand(proposalAddCmd())
	p.AddCommand(proposalShowCmd())
	p.AddCommand(proposalListCmd())
	p.AddCommand(proposalVotesCmd())
	p.AddCommand(proposalDelegationsCmd())
	return p
}

func proposalAddCmd() *cobra.Command {
	var recipient, callData, desc, transferTo, amount string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a proposal",
		Example: `  dao proposal add --recipient 0x... --calldata 0xa9059cbb... --description "pay grant"
  dao proposal add --transfer-to 0x... --amount 1000 --description "pay grant"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actingAccount()
			if err != nil {
				return err
			}
			opts := engine.ProposalCreateOptions{Description: desc}
			if transferTo != "" {
				to, err := parseAddress("transfer-to", transferTo)
				if err != nil {
					return err
				}
				amt, err := parseAmount(amount)
				if err != nil {
					return err
				}
				if opts.CallData, err = erc20.PackTransfer(to, amt); err != nil {
					return err
				}
			} else if callData != "" {
				if opts.CallData, err = hexutil.Decode(callData); err != nil {
					return fmt.Errorf("invalid --calldata: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.Recipient = e.Config.TokenAddress()
				if recipient != "" {
					if opts.Recipient, err = parseAddress("recipient", recipient); err != nil {
						return err
					}
				}
				p, err := e.AddProposal(ctx, caller, opts)
				if err != nil {
					return err
				}
				return printProposals(ctx, e, []domain.Proposal{p})
			})
		},
	}
	cmd.Flags().StringVar(&recipient, "recipient", "", "call target (defaults to the governance token)")
	cmd.Flags().StringVar(&callData, "calldata", "", "hex calldata")
	cmd.Flags().StringVar(&desc, "description", "", "what the proposal does")
	cmd.Flags().StringVar(&transferTo, "transfer-to", "", "build transfer(to, amount) calldata for the token")
	cmd.Flags().StringVar(&amount, "amount", "", "amount for --transfer-to")
	cmd.MarkFlagsMutuallyExclusive("calldata", "transfer-to")
	return cmd
}

func proposalShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProposal(ctx, id)
				if err != nil {
					return err
				}
				return printProposals(ctx, e, []domain.Proposal{p})
			})
		},
	}
}

func proposalListCmd() *cobra.Command {
	var status, creator string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.ProposalFilter{Limit: limit}
			if status != "" {
				st, err := domain.ParseStatus(status)
				if err != nil {
					return err
				}
				f.Status = &st
			}
			if creator != "" {
				addr, err := parseAddress("creator", creator)
				if err != nil {
					return err
				}
				f.Creator = &addr
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProposals(ctx, f)
				if err != nil {
					return err
				}
				return printProposals(ctx, e, items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "in_progress, approved, rejected or cancelled")
	cmd.Flags().StringVar(&creator, "creator", "", "creator address")
	cmd.Flags().IntVar(&limit, "limit", 0, "max proposals")
	return cmd
}

func proposalVotesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "votes <id>",
		Short: "Direct votes on a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				votes, err := e.ListVotes(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(votes)
				}
				tw := newTable(table.Row{"Voter", "Support", "Weight", "Cast At"})
				for _, v := range votes {
					tw.AppendRow(table.Row{v.Voter.Hex(), supportLabel(v.Support), v.Weight, formatTime(v.CastAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func proposalDelegationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delegations <id>",
		Short: "Delegation edges of a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListDelegations(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"Delegator", "Delegate", "Weight", "Counted By"})
				for _, d := range items {
					weight, counted := "-", "-"
					if d.Weight != nil {
						weight = d.Weight.String()
					}
					if d.CountedBy != nil {
						counted = d.CountedBy.Hex()
					}
					tw.AppendRow(table.Row{d.Delegator.Hex(), d.Delegate.Hex(), weight, counted})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func voteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vote <id> <for|against>",
		Short: "Vote with your stake plus everything delegated to you",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actingAccount()
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var support bool
			switch strings.ToLower(args[1]) {
			case "for", "yes", "true":
				support = true
			case "against", "no", "false":
			default:
				return fmt.Errorf("vote must be for or against, got %q", args[1])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.Vote(ctx, caller, id, support)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				fmt.Printf("voted %s on %d with weight %s\n", supportLabel(v.Support), v.ProposalID, v.Weight)
				return nil
			})
		},
	}
}

func delegateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delegate <id> <address>",
		Short: "Hand your voting right on one proposal to another account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actingAccount()
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			to, err := parseAddress("delegate", args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Delegate(ctx, caller, to, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("delegated %d to %s\n", d.ProposalID, d.Delegate.Hex())
				return nil
			})
		},
	}
}

func finishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finish <id>",
		Short: "Settle a proposal after its voting window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actingAccount()
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Finish(ctx, caller, id)
				if err != nil {
					return err
				}
				return printProposals(ctx, e, []domain.Proposal{p})
			})
		},
	}
}

func paramsCmd() *cobra.Command {
	p := &cobra.Command{Use: "params", Short: "Voting parameters"}
	p.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show voting parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				params, err := e.Params(ctx)
				if err != nil {
					return err
				}
				return printParams(params)
			})
		},
	})
	var duration time.Duration
	var quorum uint64
	var supply string
	set := &cobra.Command{
		Use:   "set",
		Short: "Change voting duration, quorum or reference supply",
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actingAccount()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if !flags.Changed("duration") && !flags.Changed("quorum") && !flags.Changed("reference-supply") {
				return errors.New("nothing to set; use --duration, --quorum or --reference-supply")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var params domain.Params
				if flags.Changed("duration") {
					if params, err = e.SetVotingDuration(ctx, caller, duration); err != nil {
						return err
					}
				}
				if flags.Changed("quorum") {
					if params, err = e.SetMinQuorum(ctx, caller, quorum); err != nil {
						return err
					}
				}
				if flags.Changed("reference-supply") {
					amt, err := parseAmount(supply)
					if err != nil {
						return err
					}
					if params, err = e.SetReferenceSupply(ctx, caller, amt); err != nil {
						return err
					}
				}
				return printParams(params)
			})
		},
	}
	set.Flags().DurationVar(&duration, "duration", 0, "voting window, e.g. 72h")
	set.Flags().Uint64Var(&quorum, "quorum", 0, "minimum turnout in percent of the reference supply")
	set.Flags().StringVar(&supply, "reference-supply", "", "supply quorum is measured against; 0 uses the token total supply")
	p.AddCommand(set)
	return p
}

func rbacCmd() *cobra.Command {
	r := &cobra.Command{Use: "rbac", Short: "Roles and permissions"}
	r.AddCommand(&cobra.Command{
		Use:   "whoami",
		Short: "Roles and permissions of --account",
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actingAccount()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				roles, perms, err := e.Roles(ctx, caller)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"account": caller.Hex(), "roles": roles, "permissions": perms})
			})
		},
	})
	for _, grant := range []bool{true, false} {
		grant := grant
		var target, role string
		use, short := "revoke", "Revoke a role"
		if grant {
			use, short = "grant", "Grant a role"
		}
		cmd := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				caller, err := actingAccount()
				if err != nil {
					return err
				}
				if target == "" || role == "" {
					return fmt.Errorf("--to and --role required")
				}
				addr, err := parseAddress("to", target)
				if err != nil {
					return err
				}
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					if grant {
						return e.GrantRole(ctx, caller, addr, role)
					}
					return e.RevokeRole(ctx, caller, addr, role)
				})
			},
		}
		cmd.Flags().StringVar(&target, "to", "", "account address")
		cmd.Flags().StringVar(&role, "role", "", "role id from dao.yml")
		r.AddCommand(cmd)
	}
	return r
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the parsed dao.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.ToYAML()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate dao.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return c
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every stake, proposal, vote, delegation, settlement and role change.",
	}
	var n int
	var evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, strings.Trim(evt.EntityKind+"/"+evt.EntityID, "/"), evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	log.AddCommand(tail)
	return log
}

func migrateCmd() *cobra.Command {
	m := &cobra.Command{Use: "migrate", Short: "Database migrations"}
	m.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Applied and latest migration versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			applied, latest, err := migrate.Status(cmd.Context(), conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]int{"applied": applied, "latest": latest})
			}
			fmt.Printf("applied %d of %d\n", applied, latest)
			return nil
		},
	})
	return m
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowHeader, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(os.Stderr)
			rt, err := app.Open(cmd.Context(), viper.GetString("workspace"), log)
			if err != nil {
				return err
			}
			defer rt.Close()
			if _, err := rt.Engine.Init(cmd.Context(), rt.Config.ChairpersonAddress()); err != nil {
				return err
			}
			authCfg := server.AuthConfig{
				JWTSecret:          os.Getenv("DAO_JWT_SECRET"),
				AllowAccountHeader: allowHeader,
				EnableDevLogin:     devLogin,
				Logger:             log,
			}
			if authCfg.JWTSecret == "" && (devLogin || !allowHeader) {
				return fmt.Errorf("DAO_JWT_SECRET is required for bearer auth")
			}
			if devLogin {
				log.Warn("dev login enabled: anyone can obtain a token for any account")
			}
			handler, err := server.New(server.Config{Engine: rt.Engine, BasePath: basePath, Auth: authCfg, Gatherer: rt.Registry})
			if err != nil {
				return err
			}
			server.StartWebhooks(cmd.Context(), rt.Engine, log)
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			log.Info("serving governance API", "addr", addr, "base_path", basePath, "docs", "/docs", "metrics", "/metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowHeader, "allow-account-header", false, "trust X-Account without credentials (local use only)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login to mint tokens for any account (local use only)")
	return cmd
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, viper.GetString("workspace"), logging.New(os.Stderr))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Engine)
	})
}

func actingAccount() (common.Address, error) {
	v := strings.TrimSpace(viper.GetString("account"))
	if v == "" {
		return common.Address{}, errors.New("--account (or DAO_ACCOUNT) is required")
	}
	return parseAddress("account", v)
}

func parseAddress(name, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", name, v)
	}
	return common.HexToAddress(v), nil
}

func parseAmount(v string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", v)
	}
	return n, nil
}

func parseID(v string) (uint64, error) {
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid proposal id %q", v)
	}
	return id, nil
}

func supportLabel(support bool) string {
	if support {
		return "for"
	}
	return "against"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func printProposals(ctx context.Context, e engine.Engine, items []domain.Proposal) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	params, err := e.Params(ctx)
	if err != nil {
		return err
	}
	tw := newTable(table.Row{"ID", "Status", "For", "Against", "Recipient", "Deadline", "Description"})
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.Status, p.VotesFor, p.VotesAgainst, p.Recipient.Hex(), formatTime(p.Deadline(params.VotingDuration)), p.Description})
	}
	tw.Render()
	return nil
}

func printAccount(a domain.Account) error {
	if viper.GetBool("json") {
		return printJSON(a)
	}
	tw := newTable(table.Row{"Address", "Staked", "Open Commitments"})
	tw.AppendRow(table.Row{a.Address.Hex(), a.Staked, a.OpenCommitments})
	tw.Render()
	return nil
}

func printParams(p domain.Params) error {
	if viper.GetBool("json") {
		return printJSON(p)
	}
	supply := p.ReferenceSupply.String()
	if p.ReferenceSupply.Sign() == 0 {
		supply += " (token total supply)"
	}
	tw := newTable(table.Row{"Custody", "Voting Duration", "Min Quorum %", "Reference Supply"})
	tw.AppendRow(table.Row{p.Custody.Hex(), p.VotingDuration, p.MinQuorumPercent, supply})
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
