package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"classicboard/app/auth"
	"classicboard/app/client"

	"github.com/spf13/cobra"
)

func (a *app) newClient() *client.Client {
	return client.New(a.cfg.Client.BaseURL, a.logger)
}

// session resumes the configured token, if any. An unknown token leaves the
// session signed out.
func (a *app) session(ctx context.Context, c *client.Client) *auth.Session {
	s := auth.NewSession(c)
	token := a.cfg.Client.Token
	if token == "" {
		return s
	}
	id, err := c.Me(ctx, token)
	if err != nil {
		a.logger.Warn("Configured token was not accepted", "error", err)
		return s
	}
	s.Resume(token, id)
	return s
}

// prompt reads one line of input after printing label.
func prompt(cmd *cobra.Command, in *bufio.Reader, label string) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// credentialsFromArgs takes the email from args or prompts for it, then
// prompts for the password.
func credentialsFromArgs(cmd *cobra.Command, args []string) (string, string, error) {
	in := bufio.NewReader(cmd.InOrStdin())
	var email string
	if len(args) > 0 {
		email = args[0]
	} else {
		var err error
		if email, err = prompt(cmd, in, "Email: "); err != nil {
			return "", "", err
		}
	}
	password, err := prompt(cmd, in, "Password: ")
	if err != nil {
		return "", "", err
	}
	return email, password, nil
}

func printSession(cmd *cobra.Command, s *auth.Session, verb string) {
	out := cmd.OutOrStdout()
	id := s.Current()
	fmt.Fprintf(out, "%s as %s\n", verb, displayIdentity(id.Email))
	fmt.Fprintln(out, "Use this session for later commands with:")
	fmt.Fprintf(out, "  export CLASSICBOARD_CLIENT_TOKEN=%s\n", s.Token())
}

func displayIdentity(email *string) string {
	if email == nil || *email == "" {
		return "(no email)"
	}
	return *email
}

// authFailure turns a sign in error into the message shown to the user.
func authFailure(err error) error {
	if auth.Code(err) != "" {
		return errors.New(auth.Message(err))
	}
	return err
}

func newSignUpCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "signup [email]",
		Short: "Create an account on the board",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, password, err := credentialsFromArgs(cmd, args)
			if err != nil {
				return err
			}
			s := auth.NewSession(a.newClient())
			if err := s.SignUp(cmd.Context(), email, password); err != nil {
				return authFailure(err)
			}
			printSession(cmd, s, "Signed up")
			return nil
		},
	}
}

func newLoginCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login [email]",
		Short: "Sign in and print a session token",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, password, err := credentialsFromArgs(cmd, args)
			if err != nil {
				return err
			}
			s := auth.NewSession(a.newClient())
			if err := s.SignIn(cmd.Context(), email, password); err != nil {
				return authFailure(err)
			}
			printSession(cmd, s, "Signed in")
			return nil
		},
	}
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the configured session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := a.session(cmd.Context(), a.newClient())
			if s.Current() == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
				return nil
			}
			if err := s.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newWhoAmICommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := a.session(cmd.Context(), a.newClient())
			id := s.Current()
			if id == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", displayIdentity(id.Email), id.ID)
			return nil
		},
	}
}
