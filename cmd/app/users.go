// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"fmt"

	"codeberg.org/oliverandrich/emailauth/internal/database"
	"codeberg.org/oliverandrich/emailauth/internal/repository"
	authsvc "codeberg.org/oliverandrich/emailauth/internal/services/auth"
	"github.com/urfave/cli/v3"
)

func usersCommand() *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "Manage user accounts",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Create a user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Required: true},
					&cli.StringFlag{Name: "email"},
					&cli.StringFlag{Name: "password", Required: true, Sources: cli.EnvVars("USER_PASSWORD")},
				},
				Action: addUser,
			},
			{
				Name:      "confirm-email",
				Usage:     "Mark a user's email address as confirmed",
				ArgsUsage: "<username>",
				Action:    confirmEmail,
			},
		},
	}
}

func withAuthService(cmd *cli.Command, fn func(*authsvc.Service) error) error {
	db, err := database.Open(cmd.String("database-dsn"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	return fn(authsvc.NewService(repository.New(db)))
}

func addUser(ctx context.Context, cmd *cli.Command) error {
	return withAuthService(cmd, func(svc *authsvc.Service) error {
		user, err := svc.CreateUser(ctx, cmd.String("username"), cmd.String("email"), cmd.String("password"))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.Root().Writer, "created user %s (id %d)\n", user.Username, user.ID)
		return nil
	})
}

func confirmEmail(ctx context.Context, cmd *cli.Command) error {
	username := cmd.Args().First()
	if username == "" {
		return cli.Exit("username argument is required", 1)
	}

	return withAuthService(cmd, func(svc *authsvc.Service) error {
		changed, err := svc.ConfirmEmail(ctx, username)
		if err != nil {
			return err
		}
		if changed {
			fmt.Fprintf(cmd.Root().Writer, "confirmed email of %s\n", username)
		} else {
			fmt.Fprintf(cmd.Root().Writer, "nothing to confirm for %s\n", username)
		}
		return nil
	})
}
