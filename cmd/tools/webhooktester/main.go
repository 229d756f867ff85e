package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/flowbot/backend/internal/config"
	"github.com/zhouzirui/flowbot/backend/internal/service/webhook"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	replyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))
)

// result 是一次调用的可序列化结果。
type result struct {
	URL       string `json:"url,omitempty" yaml:"url,omitempty"`
	SessionID string `json:"sessionId,omitempty" yaml:"sessionId,omitempty"`
	Message   string `json:"message,omitempty" yaml:"message,omitempty"`
	Reply     string `json:"reply,omitempty" yaml:"reply,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
	ElapsedMS int64  `json:"elapsedMs,omitempty" yaml:"elapsedMs,omitempty"`
}

var (
	webhookURL string
	sessionID  string
	timeout    time.Duration
	format     string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "webhooktester",
		Short: "Exercise an n8n chat webhook the way the FlowBot backend does",
		Long: `Send test messages to a workflow webhook and show the reply text
exactly as the chat backend would display it.

  webhooktester send "hello" --url https://n8n.example.com/webhook/abc
  curl -s https://n8n.example.com/webhook/abc | webhooktester extract -`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&format, "format", "f", "text", "Output format (text, json, yaml)")

	send := &cobra.Command{
		Use:   "send <message>",
		Short: "Post a message to the webhook and print the normalized reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := webhookURL
			if url == "" {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("load configuration: %w", err)
				}
				url = cfg.Webhook.DefaultURL
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			res := runSend(ctx, webhook.NewClient(&http.Client{}, nil), url, sessionID, strings.Join(args, " "))
			if err := render(cmd.OutOrStdout(), res, format); err != nil {
				return err
			}
			if res.Error != "" {
				return errors.New("webhook call failed")
			}
			return nil
		},
	}
	send.Flags().StringVarP(&webhookURL, "url", "u", "", "Webhook URL (defaults to WEBHOOK_URL)")
	send.Flags().StringVarP(&sessionID, "session", "s", "", "Session id sent with the message (random when empty)")
	send.Flags().DurationVarP(&timeout, "timeout", "t", 60*time.Second, "Request timeout")

	extract := &cobra.Command{
		Use:   "extract <file|->",
		Short: "Normalize a saved webhook response body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), runExtract(body), format)
		},
	}

	root.AddCommand(send, extract)
	return root
}

func runSend(ctx context.Context, client *webhook.Client, url, session, message string) result {
	res := result{URL: url, SessionID: session, Message: message}

	start := time.Now()
	reply, err := client.Send(ctx, url, message, session)
	res.ElapsedMS = time.Since(start).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Reply = reply
	return res
}

func runExtract(body string) result {
	return result{Reply: webhook.Extract(body)}
}

func readInput(stdin io.Reader, path string) (string, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(raw), nil
}

func render(w io.Writer, res result, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(res)
	case "text", "":
		if res.URL != "" {
			fmt.Fprintln(w, titleStyle.Render("Webhook "+res.URL))
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render("session:"), res.SessionID)
			fmt.Fprintf(w, "%s %dms\n", labelStyle.Render("elapsed:"), res.ElapsedMS)
		}
		if res.Error != "" {
			fmt.Fprintln(w, errorStyle.Render("✗ "+res.Error))
			return nil
		}
		fmt.Fprintln(w, replyStyle.Render(res.Reply))
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
