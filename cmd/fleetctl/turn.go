package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ashureev/fleetguard/internal/agent"
	"github.com/ashureev/fleetguard/internal/identity"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type turnOptions struct {
	server    string
	page      string
	sessionID string
	operator  string
	image     string
	timeout   time.Duration
}

func newTurnCmd() *cobra.Command {
	opts := turnOptions{}
	cmd := &cobra.Command{
		Use:   "turn [text...]",
		Short: "Send a message to the fleet assistant",
		Long: `Send one message to a running fleet guard server and print the reply.

Without text, messages are read line by line from stdin in one session, so a
destructive request can be confirmed or declined on the next line.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.operator == "" {
				op, err := newOperatorID()
				if err != nil {
					return err
				}
				opts.operator = op
			}
			if opts.sessionID == "" {
				opts.sessionID = uuid.NewString()
			}
			c := &turnClient{opts: opts, http: &http.Client{Timeout: opts.timeout}}
			out := cmd.OutOrStdout()

			if len(args) > 0 {
				return c.send(cmd.Context(), out, strings.Join(args, " "), opts.image)
			}

			fmt.Fprintf(out, "session %s (operator %s), page %s\n", opts.sessionID, opts.operator, opts.page)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			image := opts.image
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if err := c.send(cmd.Context(), out, line, image); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
				}
				image = ""
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", envOr("FLEETCTL_SERVER", "http://localhost:8080"), "Server base URL")
	cmd.Flags().StringVar(&opts.page, "page", "bus_dashboard", "Page context of the message")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "Session id (default: new session)")
	cmd.Flags().StringVar(&opts.operator, "operator", os.Getenv("FLEETCTL_OPERATOR"), "Operator id (op_ followed by 32 hex digits)")
	cmd.Flags().StringVar(&opts.image, "image", "", "Screenshot to attach to the first message")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "Request timeout")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newOperatorID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate operator id: %w", err)
	}
	return "op_" + hex.EncodeToString(buf), nil
}

type turnClient struct {
	opts turnOptions
	http *http.Client
}

func (c *turnClient) send(ctx context.Context, out io.Writer, text, imagePath string) error {
	req := agent.TurnRequest{Text: text, PageContext: c.opts.page, SessionID: c.opts.sessionID}
	if imagePath != "" {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		req.Image = base64.StdEncoding.EncodeToString(data)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.opts.server, "/")+"/api/agent/turn", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(identity.SessionHeaderName, c.opts.sessionID)
	httpReq.AddCookie(&http.Cookie{Name: identity.OperatorCookieName, Value: c.opts.operator})

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}

	var turn agent.TurnResponse
	if err := json.NewDecoder(resp.Body).Decode(&turn); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	fmt.Fprintln(out, turn.Response)
	if turn.AwaitingConfirmation {
		fmt.Fprintln(out, "[awaiting confirmation]")
	}
	return nil
}
