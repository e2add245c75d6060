package cmds

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/ragchat/pkg/api"
)

func NewLoginCommand(v *viper.Viper) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(v, false)
			if err != nil {
				return err
			}
			p := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
			if username, err = p.ask("Username", username, true); err != nil {
				return err
			}
			if password, err = p.askPassword(password); err != nil {
				return err
			}
			resp, err := s.api.Login(cmd.Context(), api.LoginRequest{Username: username, Password: password})
			if err != nil {
				return errors.New(api.FriendlyMessage(err))
			}
			if err := s.saveLogin(resp); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", displayName(resp, username))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted when omitted)")
	return cmd
}

func NewRegisterCommand(v *viper.Viper) *cobra.Command {
	var req api.RegisterRequest
	var orgTags string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and store the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(v, false)
			if err != nil {
				return err
			}
			p := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
			if req.Username, err = p.ask("Username", req.Username, true); err != nil {
				return err
			}
			if req.Email, err = p.ask("Email", req.Email, true); err != nil {
				return err
			}
			if req.Password, err = p.askPassword(req.Password); err != nil {
				return err
			}
			req.OrgTags = strings.Join(splitTags(orgTags), ",")

			resp, err := s.api.Register(cmd.Context(), req)
			if err != nil {
				return errors.New(api.FriendlyMessage(err))
			}
			if resp.AccessToken != "" {
				if err := s.saveLogin(resp); err != nil {
					return err
				}
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Registered %s\n", displayName(resp, req.Username))
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Username, "username", "u", "", "Username")
	cmd.Flags().StringVar(&req.Email, "email", "", "Email")
	cmd.Flags().StringVar(&req.Password, "password", "", "Password (prompted when omitted)")
	cmd.Flags().StringVar(&orgTags, "org-tags", "", "Comma separated organisation tags")
	return cmd
}

func NewLogoutCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Invalidate the session and forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(v, false)
			if err != nil {
				return err
			}
			var logoutErr error
			if s.api.Token() != "" {
				logoutErr = s.api.Logout(cmd.Context())
			}
			if err := s.creds.Clear(); err != nil {
				return err
			}
			if logoutErr != nil {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "backend logout failed: %s\n", api.FriendlyMessage(logoutErr))
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func NewMeCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the logged in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(v, true)
			if err != nil {
				return err
			}
			me, err := s.api.Me(cmd.Context())
			if err != nil {
				return errors.New(api.FriendlyMessage(err))
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s %s\n", titleStyle.Render(me.Username), dimStyle.Render(me.Role))
			if me.OrgTags != "" {
				_, _ = fmt.Fprintf(out, "org tags: %s\n", me.OrgTags)
			}
			_, _ = fmt.Fprintf(out, "backend: %s\n", s.api.BaseURL())
			return nil
		},
	}
}

func displayName(resp api.AuthResponse, fallback string) string {
	if resp.Username != "" {
		return resp.Username
	}
	return fallback
}

func splitTags(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
