// Command engine runs the multi-account auto-trading engine and its small
// administrative CLI.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yim1990/alpha-ai/internal/config"
	"github.com/yim1990/alpha-ai/internal/engine"
	"github.com/yim1990/alpha-ai/internal/logger"
	"github.com/yim1990/alpha-ai/internal/model"
	"github.com/yim1990/alpha-ai/internal/store"
	"github.com/yim1990/alpha-ai/internal/vault"
)

var version = "dev"

var (
	flagEnvFile    string
	flagEngineYAML string
)

func main() {
	root := &cobra.Command{
		Use:           "engine",
		Short:         "KIS multi-account US equity auto-trading engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagEnvFile, "env", ".env", "dotenv file (ignored when absent)")
	root.PersistentFlags().StringVar(&flagEngineYAML, "config", "", "engine limits YAML file")

	root.AddCommand(runCmd(), accountsCmd(), accountAddCmd(), accountEnableCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(flagEnvFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", flagEnvFile, err)
	}
	cfg, err := config.Load(flagEngineYAML)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStack() (*config.Config, *store.Store, *vault.Vault, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, err
	}
	v, err := vault.New(cfg.MasterKey)
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}
	return cfg, st, v, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run workers for every enabled account until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, v, err := openStack()
			if err != nil {
				return err
			}
			defer st.Close()

			log := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
			logger.AttachRecorder(log, st)
			log.WithField("version", version).Info("engine starting")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sup := engine.NewSupervisor(st, v, *cfg, log)
			if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			log.Info("engine stopped")
			return nil
		},
	}
}

func accountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List registered accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, _, err := openStack()
			if err != nil {
				return err
			}
			defer st.Close()

			accounts, err := st.ListAccounts()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNICKNAME\tENABLED\tHEALTH\tLAST HEARTBEAT")
			for _, a := range accounts {
				heartbeat := "-"
				if a.LastHeartbeat != nil {
					heartbeat = a.LastHeartbeat.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n", a.ID, a.Nickname, a.Enabled, a.HealthStatus, heartbeat)
			}
			return w.Flush()
		},
	}
}

func accountAddCmd() *cobra.Command {
	var (
		nickname  string
		appKey    string
		appSecret string
		accountNo string
		sandbox   bool
	)
	cmd := &cobra.Command{
		Use:   "account-add",
		Short: "Register an account with encrypted API credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, v, err := openStack()
			if err != nil {
				return err
			}
			defer st.Close()

			account := &model.Account{
				Nickname:     nickname,
				Broker:       "KIS",
				Market:       "US",
				Enabled:      false,
				HealthStatus: model.HealthInactive,
			}
			if err := st.CreateAccount(account); err != nil {
				return err
			}

			cred := &model.Credential{AccountID: account.ID, Sandbox: sandbox}
			if cred.AppKeyEncrypted, err = v.Encrypt(appKey); err != nil {
				return err
			}
			if cred.AppSecretEncrypted, err = v.Encrypt(appSecret); err != nil {
				return err
			}
			if cred.AccountNoEncrypted, err = v.Encrypt(accountNo); err != nil {
				return err
			}
			if err := st.SaveCredential(cred); err != nil {
				return err
			}

			fmt.Printf("account %s registered as %s (enable it with account-enable)\n", nickname, account.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&nickname, "nickname", "", "display name")
	cmd.Flags().StringVar(&appKey, "app-key", "", "KIS app key")
	cmd.Flags().StringVar(&appSecret, "app-secret", "", "KIS app secret")
	cmd.Flags().StringVar(&accountNo, "account-no", "", `account number, "CANO-PRDT" form`)
	cmd.Flags().BoolVar(&sandbox, "sandbox", false, "use the paper-trading environment")
	for _, required := range []string{"nickname", "app-key", "app-secret", "account-no"} {
		cobra.CheckErr(cmd.MarkFlagRequired(required))
	}
	return cmd
}

func accountEnableCmd() *cobra.Command {
	var disable bool
	cmd := &cobra.Command{
		Use:   "account-enable <account-id>",
		Short: "Enable or disable an account's worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("bad account id: %w", err)
			}
			_, st, _, err := openStack()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.SetAccountEnabled(id, !disable); err != nil {
				return err
			}
			if !disable {
				if err := st.SetAccountHealth(id, model.HealthHealthy); err != nil {
					return err
				}
			}
			state := "enabled"
			if disable {
				state = "disabled"
			}
			fmt.Printf("account %s %s\n", id, state)
			return nil
		},
	}
	cmd.Flags().BoolVar(&disable, "disable", false, "disable instead of enable")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the engine version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("engine", version)
		},
	}
}
