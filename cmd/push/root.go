package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	push "github.com/jgaa/go-push"
	"github.com/jgaa/go-push/internal/config"
)

type sendOptions struct {
	configFile        string
	jwtTTLMinutes     int
	jwtRefreshMinutes int
	logLevel          string

	to      []string
	data    []string
	msgType string
	title   string
	body    string
	sound   string
	icon    string
	ttl     time.Duration
	dryRun  bool
}

func newRootCmd() *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:           "push",
		Short:         "Send a push notification through Firebase Cloud Messaging.",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if opts.configFile != "" {
				cfg.CredentialsFile = opts.configFile
			}
			if cmd.Flags().Changed("jwt-ttl") {
				cfg.TokenTTL = time.Duration(opts.jwtTTLMinutes) * time.Minute
			}
			if cmd.Flags().Changed("jwt-refresh") {
				cfg.RefreshMargin = time.Duration(opts.jwtRefreshMinutes) * time.Minute
			}
			if cfg.CredentialsFile == "" {
				return fmt.Errorf("no service account file; use --config-file or set PUSH_CREDENTIALS_FILE")
			}

			msg, err := buildMessage(opts, cfg.DefaultRecipient)
			if err != nil {
				return err
			}

			return runApp(cfg, msg, opts.logLevel)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "config-file", "c", "", "Path to the Google service account configuration file")
	flags.IntVar(&opts.jwtTTLMinutes, "jwt-ttl", 45, "JWT token time to live in minutes")
	flags.IntVar(&opts.jwtRefreshMinutes, "jwt-refresh", 3, "Minutes before expiry to refresh the JWT token")
	flags.StringVarP(&opts.logLevel, "log-level", "C", "info", "Log-level to the console; one of 'info', 'debug'. Empty string to disable.")

	flags.StringArrayVarP(&opts.to, "to", "t", nil, "Target device token(s) for the push message. Falls back to envvar PUSH_TOKEN if not provided. Repeat --to for multiple tokens")
	flags.StringArrayVarP(&opts.data, "data", "d", nil, "Data to send in the push message, as 'name=value' pairs")
	flags.StringVarP(&opts.msgType, "type", "y", "DATA", "Type of push message (DATA or NOTIFICATION)")
	flags.StringVarP(&opts.title, "title", "T", "", "Title of the notification")
	flags.StringVarP(&opts.body, "body", "B", "", "Body of the notification")
	flags.StringVarP(&opts.sound, "sound", "S", "", "Sound to play for the notification")
	flags.StringVarP(&opts.icon, "icon", "I", "", "Icon for the notification")
	flags.DurationVar(&opts.ttl, "ttl", 0, "How long the provider may buffer the message for an offline device")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Validate the message with the provider without delivering it")

	return cmd
}

func buildMessage(opts *sendOptions, fallbackRecipient string) (push.Message, error) {
	msg := push.Message{
		To:     opts.to,
		TTL:    opts.ttl,
		DryRun: opts.dryRun,
	}

	switch strings.ToUpper(opts.msgType) {
	case "DATA":
		msg.Type = push.TypeData
	case "NOTIFICATION":
		msg.Type = push.TypeNotification
	default:
		return push.Message{}, fmt.Errorf("invalid message type %q, expected DATA or NOTIFICATION", opts.msgType)
	}

	if len(msg.To) == 0 {
		if fallbackRecipient == "" {
			return push.Message{}, fmt.Errorf("no target token provided; use --to or set PUSH_TOKEN")
		}
		msg.To = []string{fallbackRecipient}
	}

	if len(opts.data) > 0 {
		msg.Data = make(map[string]string, len(opts.data))
		for _, pair := range opts.data {
			key, value, ok := strings.Cut(pair, "=")
			if !ok {
				return push.Message{}, fmt.Errorf("invalid data entry %q, expected key=value", pair)
			}
			msg.Data[key] = value
		}
	}

	if opts.title != "" || opts.body != "" || opts.sound != "" || opts.icon != "" {
		msg.Notification = &push.Notification{
			Title: opts.title,
			Body:  opts.body,
			Sound: opts.sound,
			Icon:  opts.icon,
		}
	} else if msg.Type == push.TypeNotification {
		return push.Message{}, fmt.Errorf("notification type selected but no title, body, sound or icon provided")
	}

	return msg, nil
}
