package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"civicreport/internal/auth"
	"civicreport/internal/models"
	"civicreport/internal/version"
)

func newUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect registered accounts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every account without password hashes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			st, engine, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close()
			users, err := st.Users(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tROLE")
			for _, u := range users {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.Role)
			}
			return tw.Flush()
		},
	})
	return cmd
}

func newReportsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Inspect and triage reports",
	}

	var owner string
	list := &cobra.Command{
		Use:   "list",
		Short: "List reports in stored order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			st, engine, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close()

			var reports []models.Report
			if owner != "" {
				reports, err = st.ReportsByOwner(cmd.Context(), owner)
			} else {
				reports, err = st.Reports(cmd.Context())
			}
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tOWNER\tSTATUS\tCREATED\tTITLE")
			for _, r := range reports {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.UserID, r.Status.Label(), r.CreatedAt, r.Title)
			}
			s := models.Summarize(reports)
			fmt.Fprintf(tw, "\ntotal %d\tpending %d\tin progress %d\tresolved %d\n", s.Total, s.Pending, s.InProgress, s.Resolved)
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&owner, "owner", "", "only reports owned by this user id")

	setStatus := &cobra.Command{
		Use:   "set-status ID STATUS",
		Short: "Set a report's status without an HTTP session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			next, err := models.ParseStatus(args[1])
			if err != nil {
				return err
			}
			st, engine, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close()

			policy := models.TransitionPolicy(a.cfg.StatusTransitions)
			rep, found, err := st.UpdateReportStatus(cmd.Context(), args[0], func(current models.Status) (models.Status, error) {
				if !policy.Allowed(current, next) {
					return "", fmt.Errorf("transition %s -> %s not allowed", current, next)
				}
				return next, nil
			})
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(cmd.OutOrStdout(), "no report with id %s\n", args[0])
				return nil
			}
			a.logger.Info("report status changed", zap.String("report_id", rep.ID), zap.String("to", string(next)), zap.String("actor", "cli"))
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", rep.ID, rep.Status.Label())
			return nil
		},
	}

	cmd.AddCommand(list, setStatus)
	return cmd
}

// importUser is a user record as found in an export. Password may hold a
// plaintext password or an encoded hash.
type importUser struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Email        string      `json:"email"`
	Password     string      `json:"password"`
	PasswordHash string      `json:"passwordHash"`
	Role         models.Role `json:"role"`
}

func newImportCmd(a *app) *cobra.Command {
	var usersFile, reportsFile string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load users and reports from JSON exports",
		Long: `Reads JSON arrays of users and reports and appends every record whose id
(and, for users, email) is not already stored. Plaintext passwords are hashed
on the way in. Report records are stored as given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if usersFile == "" && reportsFile == "" {
				return fmt.Errorf("nothing to import: pass --users and/or --reports")
			}
			if err := a.setup(); err != nil {
				return err
			}
			st, engine, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close()

			if usersFile != "" {
				users, err := readUsers(usersFile)
				if err != nil {
					return err
				}
				n, err := st.ImportUsers(cmd.Context(), users)
				if err != nil {
					return fmt.Errorf("import users: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d users\n", n, len(users))
			}
			if reportsFile != "" {
				var reports []json.RawMessage
				if err := readJSON(reportsFile, &reports); err != nil {
					return err
				}
				n, err := st.ImportReports(cmd.Context(), reports)
				if err != nil {
					return fmt.Errorf("import reports: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d reports\n", n, len(reports))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&usersFile, "users", "", "JSON array of users")
	cmd.Flags().StringVar(&reportsFile, "reports", "", "JSON array of reports")
	return cmd
}

func readUsers(path string) ([]models.User, error) {
	var raw []importUser
	if err := readJSON(path, &raw); err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(raw))
	for i, r := range raw {
		hash := r.PasswordHash
		if hash == "" {
			hash = r.Password
		}
		if hash == "" {
			return nil, fmt.Errorf("%s: user %d has no password", path, i)
		}
		if !auth.IsHash(hash) {
			h, err := auth.HashPassword(hash)
			if err != nil {
				return nil, err
			}
			hash = h
		}
		role := r.Role
		if role != models.RoleAdmin {
			role = models.RoleCitizen
		}
		out = append(out, models.User{ID: r.ID, Name: r.Name, Email: r.Email, PasswordHash: hash, Role: role})
	}
	return out, nil
}

func readJSON(path string, dst any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Current().String())
		},
	}
}
