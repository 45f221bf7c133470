package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PlasticDigits/tidaldex-broker/internal/chain"
	brokererr "github.com/PlasticDigits/tidaldex-broker/internal/errors"
	"github.com/PlasticDigits/tidaldex-broker/internal/integration"
	"github.com/PlasticDigits/tidaldex-broker/internal/session"
	"github.com/PlasticDigits/tidaldex-broker/internal/tokens"
)

// intentPayload is the structured output of the external intent extractor,
// one JSON object per conversational turn.
type intentPayload struct {
	ResponseType string        `json:"response_type"`
	Message      string        `json:"message"`
	ContractCall *contractCall `json:"contract_call"`
}

type contractCall struct {
	Method      string         `json:"method"`
	Parameters  map[string]any `json:"parameters"`
	Explanation string         `json:"explanation"`
}

func (s *runtimeState) newIntentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intent <user-id> <integration>",
		Short: "Drive a transaction session from intent payloads on stdin",
		Long: `Reads one JSON intent payload per line and drives the user's session.
Control lines: /confirm executes the staged transaction, /cancel discards it,
/pin <secret> supplies the wallet secret, /quit ends the session.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := s.openEngine(ctx); err != nil {
				return err
			}
			sess, err := s.registry.StartSession(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			defer s.registry.Close(args[0])
			return s.intentLoop(ctx, cmd.OutOrStdout(), sess)
		},
	}
	return cmd
}

func (s *runtimeState) intentLoop(ctx context.Context, out io.Writer, sess *session.Session) error {
	scanner := bufio.NewScanner(s.runner.stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	status := func(line string) { fmt.Fprintf(out, "  · %s\n", line) }

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "/quit":
			return nil
		case line == "/cancel":
			sess.CancelPendingTransaction()
			fmt.Fprintln(out, "cancelled; session active")
		case line == "/confirm":
			s.runConfirm(ctx, out, sess, status)
		case strings.HasPrefix(line, "/pin "):
			secret := strings.TrimSpace(strings.TrimPrefix(line, "/pin "))
			if err := sess.SubmitSecret(secret); err != nil {
				fmt.Fprintf(out, "secret rejected: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "secret accepted")
			if sess.State() == session.StateAwaitingConfirmation {
				s.runConfirm(ctx, out, sess, status)
			}
		default:
			s.runPayload(ctx, out, sess, line, status)
		}
	}
	return scanner.Err()
}

func (s *runtimeState) runConfirm(ctx context.Context, out io.Writer, sess *session.Session, status chain.StatusFunc) {
	result, err := sess.ExecutePendingTransaction(ctx, status)
	if err != nil {
		if brokererr.HasCode(err, brokererr.CodeSecretRequired) {
			fmt.Fprintln(out, "wallet secret required: reply /pin <secret>")
			return
		}
		fmt.Fprintf(out, "execution failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "confirmed: %s (block %d, gas %d)\n", result.TxHash, result.BlockNumber, result.GasUsed)
}

func (s *runtimeState) runPayload(ctx context.Context, out io.Writer, sess *session.Session, line string, status chain.StatusFunc) {
	var payload intentPayload
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		fmt.Fprintf(out, "bad payload: %v\n", err)
		return
	}
	if payload.Message != "" {
		sess.AppendMessage("user", payload.Message)
	}
	call := payload.ContractCall
	if call == nil {
		return
	}

	if _, err := sess.Integration().FindMethod(call.Method, integration.MethodView); err == nil {
		result, err := sess.HandleViewCall(ctx, call.Method, call.Parameters, status)
		if err != nil {
			fmt.Fprintf(out, "view call failed: %v\n", err)
			return
		}
		s.renderViewResult(ctx, out, sess, call.Method, result)
		if preview, ok := sess.MaybeAutoPrepareSwap(ctx); ok {
			fmt.Fprintln(out, preview.ConfirmationText())
			fmt.Fprintln(out, "reply /confirm to execute or /cancel to discard")
		}
		return
	}

	preview, err := sess.PrepareWriteCall(ctx, call.Method, call.Parameters)
	if err != nil {
		fmt.Fprintf(out, "prepare failed: %v\n", err)
		return
	}
	fmt.Fprintln(out, preview.ConfirmationText())
	fmt.Fprintln(out, "reply /confirm to execute or /cancel to discard")
}

// renderViewResult prints decoded view results, formatting swap quotes with
// the output token's decimals when they are known.
func (s *runtimeState) renderViewResult(ctx context.Context, out io.Writer, sess *session.Session, method string, result []any) {
	if quote := sess.LastQuote(); quote != nil && len(result) == 1 {
		if amounts, ok := result[0].([]*big.Int); ok && len(amounts) > 0 {
			outToken := quote.Path[len(quote.Path)-1].Hex()
			if decimals, err := s.directory.Decimals(ctx, outToken); err == nil {
				fmt.Fprintf(out, "%s: %s out via %d-hop route\n", method,
					tokens.FormatAmount(amounts[len(amounts)-1], decimals), len(quote.Path))
				return
			}
		}
	}
	if s.flags.JSON {
		_ = json.NewEncoder(out).Encode(map[string]any{"method": method, "result": fmt.Sprint(result)})
		return
	}
	fmt.Fprintf(out, "%s: %v\n", method, result)
}
