package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/user"
)

func (cli *commandLine) addUserCommand() *cobra.Command {
	var uname, email, pwd string

	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create or update an active user",
		Long:  "Create or update an active user. The password is prompted when --password is not given.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if uname == "" || email == "" {
				_ = cmd.Usage()
				return errHelp
			}
			if pwd == "" {
				var err error
				if pwd, err = cli.promptPassword(cmd); err != nil {
					return err
				}
			}
			usr, err := cli.addUser(cmd.Context(), uname, email, pwd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %q saved (id %d)\n", usr.Username, usr.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&uname, "username", "", "The user's username")
	cmd.Flags().StringVar(&email, "email", "", "The user's email")
	cmd.Flags().StringVar(&pwd, "password", "", "The user's password (prompted if empty)")
	return cmd
}

// addUser updates or creates an active user.User, matched by username then email.
func (cli *commandLine) addUser(ctx context.Context, uname, email, pwd string) (user.User, error) {
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	now := time.Now().UTC()

	usr, err := cli.usrRepo.GetUserByUsername(ctx, uname)
	if errors.Cause(err) == user.ErrNotFound {
		usr, err = cli.usrRepo.GetUserByEmail(ctx, email)
	}
	isNew := errors.Cause(err) == user.ErrNotFound
	if err != nil && !isNew {
		return user.User{}, err
	}

	if isNew {
		usr = user.User{Username: uname, CreatedAt: now}
	}
	usr.Email = email
	usr.IsActive = true
	usr.UpdatedAt = now
	if err = usr.SetPassword(pwd); err != nil {
		return user.User{}, errors.Wrap(err, "hashing password")
	}
	if err = cli.usrRepo.CheckUniqueness(ctx, usr.Username, usr.Email, usr); err != nil {
		return user.User{}, err
	}

	if isNew {
		return cli.usrRepo.CreateUser(ctx, usr)
	}
	return cli.usrRepo.UpdateUser(ctx, usr)
}
