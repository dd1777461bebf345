package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/horacite/horacite/internal/app"
	"github.com/horacite/horacite/internal/apperror"
	"github.com/horacite/horacite/internal/database"
	"github.com/horacite/horacite/internal/plugins/auth"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// openAdminService connects to MariaDB and builds the account service. The
// returned func closes the connection. Tests replace it.
var openAdminService = func(ctx context.Context) (auth.AdminService, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.NewMariaDB(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MariaDB: %w", err)
	}
	hasher, err := auth.NewPasswordHasher(auth.HasherConfig{
		Algorithm:  cfg.Auth.HashAlgorithm,
		BcryptCost: cfg.Auth.BcryptCost,
	})
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	svc := auth.NewAdminService(auth.NewUserRepository(db), hasher, app.PolicyFromConfig(cfg))
	return svc, func() { db.Close() }, nil
}

// NewUserCmd creates the user command group. There is no self-registration;
// accounts are provisioned here.
func NewUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Provision and manage user accounts",
	}
	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserActiveCmd("activate", "Re-enable an account", true))
	cmd.AddCommand(newUserActiveCmd("deactivate", "Disable an account and end its sessions", false))
	cmd.AddCommand(newUserRotationCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	var (
		input      auth.CreateUserInput
		role       string
		noRotation bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account, prompting for its initial password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			input.Role = auth.ParseRole(strings.ToLower(strings.TrimSpace(role)))
			input.MustChangePassword = !noRotation

			password, err := promptPassword(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			input.Password = password

			return withAdminService(cmd, func(svc auth.AdminService) error {
				user, err := svc.CreateUser(cmd.Context(), input)
				if err != nil {
					return err
				}
				cmd.Printf("Created %s (%s) with role %s, id %s\n", user.Email, user.Matricule, user.Role, user.ID)
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&input.Matricule, "matricule", "", "employee number (required)")
	f.StringVar(&input.Email, "email", "", "login email (required)")
	f.StringVar(&input.FirstName, "first-name", "", "first name (required)")
	f.StringVar(&input.LastName, "last-name", "", "last name (required)")
	f.StringVar(&role, "role", auth.RoleUtilisateur.String(), "admin, responsable or utilisateur")
	f.BoolVar(&noRotation, "no-rotation", false, "do not force a password change at first sign-in")
	for _, name := range []string{"matricule", "email", "first-name", "last-name"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newUserActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <email>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdminService(cmd, func(svc auth.AdminService) error {
				user, err := svc.SetActive(cmd.Context(), args[0], active)
				if err != nil {
					return err
				}
				state := "deactivated"
				if user.IsActive {
					state = "activated"
				}
				cmd.Printf("Account %s %s\n", user.Email, state)
				return nil
			})
		},
	}
}

func newUserRotationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "require-rotation <email>",
		Short: "Force a password change at the next request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdminService(cmd, func(svc auth.AdminService) error {
				user, err := svc.RequireRotation(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				cmd.Printf("Account %s must change its password\n", user.Email)
				return nil
			})
		},
	}
}

// withAdminService opens the account service for one command and turns
// validation failures into a readable list.
func withAdminService(cmd *cobra.Command, fn func(auth.AdminService) error) error {
	svc, closeFn, err := openAdminService(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	err = fn(svc)
	if appErr, ok := apperror.As(err); ok && appErr.Internal == nil {
		return errors.New(strings.Join(apperror.SafeMessages(appErr), "\n"))
	}
	return err
}

// promptPassword reads the initial password twice without echo.
func promptPassword(w io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())

	fmt.Fprint(w, "Password: ")
	first, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	fmt.Fprint(w, "Confirm password: ")
	second, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	if !bytes.Equal(first, second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
