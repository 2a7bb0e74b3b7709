package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/auth"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/config"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/middleware"
	"github.com/pesio-ai/be-ap-budgets/internal/repository"
	"github.com/pesio-ai/be-ap-budgets/internal/service"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if err := repository.Migrate(cmd.Context(), e.db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func expireContractsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire-contracts",
		Short: "Expire in-force contracts whose end date has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			contracts := service.NewContractService(repository.NewPostgresStore(e.db), nil, e.log)
			expired, err := contracts.ExpireDue(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range expired {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tended %s\n", c.ContractNumber, c.VendorID, c.EndDate.Format(time.DateOnly))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d contract(s) expired\n", len(expired))
			return nil
		},
	}
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print budget utilization for a fiscal year",
		RunE: func(cmd *cobra.Command, args []string) error {
			year, _ := cmd.Flags().GetInt("year")
			asJSON, _ := cmd.Flags().GetBool("json")

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			budgets := service.NewBudgetService(repository.NewPostgresStore(e.db), nil, e.log)
			rows, err := budgets.FiscalYearReport(cmd.Context(), year)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			return printReport(cmd, year, rows)
		},
	}

	cmd.Flags().IntP("year", "y", time.Now().Year(), "Fiscal year")
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")

	return cmd
}

func printReport(cmd *cobra.Command, year int, rows []*repository.Utilization) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "DEPARTMENT\tTOTAL\tALLOCATED\tREMAINING\tPOS\tCOMMITTED\tUSED %%\tSTATUS\t\n")
	for _, u := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t\n",
			u.DepartmentID,
			u.Total.StringFixed(2),
			u.Allocated.StringFixed(2),
			u.Remaining.StringFixed(2),
			u.PurchaseOrderCount,
			u.CommittedAmount.StringFixed(2),
			u.UtilizationPercent.StringFixed(2),
			u.Status,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d budget(s) in fiscal year %d\n", len(rows), year)
	return nil
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed API token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			role, _ := cmd.Flags().GetString("role")
			dept, _ := cmd.Flags().GetString("department")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			switch role {
			case auth.RoleAdmin, auth.RoleFinance, auth.RoleManager, auth.RoleStaff:
			default:
				return fmt.Errorf("unknown role %q", role)
			}

			tok, err := middleware.IssueToken([]byte(cfg.Auth.JWTSecret), auth.Actor{
				UserID:       user,
				Role:         role,
				DepartmentID: dept,
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringP("user", "u", "", "User id (token subject)")
	cmd.Flags().StringP("role", "r", auth.RoleStaff, "Role: admin, finance, manager or staff")
	cmd.Flags().StringP("department", "d", "", "Department id")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	cmd.MarkFlagRequired("user")

	return cmd
}
