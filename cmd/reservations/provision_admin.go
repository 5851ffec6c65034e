package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/99minutos/reservation-system/internal/core/service"
	"github.com/99minutos/reservation-system/internal/infrastructure/config"
	"github.com/99minutos/reservation-system/pkg/logger"
)

func newProvisionAdminCmd() *cobra.Command {
	var (
		email    string
		password string
		printJWT bool
		tokenTTL time.Duration
	)

	cmd := &cobra.Command{
		Use:   "provision-admin",
		Short: "Create the admin user or grant it the admin role",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			log := initLogger(cfg)
			if email == "" {
				email = cfg.Admin.Email
			}
			if password == "" {
				password = cfg.Admin.Password
			}

			b, err := openStores(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer b.close()

			prov := service.NewProvisioningService(b.users, cfg.JWTSecret, tokenTTL, logger.Component("provisioning"))
			user, created, err := prov.EnsureAdmin(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("provision admin: %w", err)
			}

			verb := "updated"
			if created {
				verb = "created"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s %s (id %s)\n", user.Email, verb, user.ID)

			if printJWT {
				token, err := prov.IssueToken(user)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "admin email (defaults to ADMIN_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "admin password (defaults to ADMIN_PASSWORD)")
	cmd.Flags().BoolVar(&printJWT, "print-token", false, "print a signed bearer token for the admin")
	cmd.Flags().DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the printed token")
	return cmd
}
