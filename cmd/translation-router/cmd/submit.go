package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/pricofy/translation-router/internal/dispatch"
	"github.com/pricofy/translation-router/internal/transport"
	"github.com/pricofy/translation-router/internal/wire"
)

var submitOpts struct {
	taskID   string
	text     string
	from     string
	to       []string
	tier     string
	audience string
	timeout  time.Duration
	asJSON   bool
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Send one translation request and print its results",
	Long: `Subscribes to the outbound endpoint, publishes a request on the inbound
endpoint and prints one line per target language as results arrive.`,
	Example: `  translation-router submit --from en --to fr,de --text "Hello! 👋"`,
	RunE:    runSubmit,
}

func init() {
	f := submitCmd.Flags()
	f.StringVar(&submitOpts.taskID, "task-id", "", "task id (default: a new ULID)")
	f.StringVar(&submitOpts.text, "text", "", "text to translate")
	f.StringVar(&submitOpts.from, "from", "", "source language")
	f.StringSliceVar(&submitOpts.to, "to", nil, "target languages")
	f.StringVar(&submitOpts.tier, "tier", "", "model tier override: basic, medium, premium")
	f.StringVar(&submitOpts.audience, "audience", "", "audience: normal or broadcast")
	f.DurationVar(&submitOpts.timeout, "timeout", 60*time.Second, "how long to wait for results")
	f.BoolVar(&submitOpts.asJSON, "json", false, "print raw outbound messages as JSON")
	_ = submitCmd.MarkFlagRequired("text")
	_ = submitCmd.MarkFlagRequired("from")
	_ = submitCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	codec, err := wire.ByName(cfg.Transport.Codec)
	if err != nil {
		return err
	}

	taskID := submitOpts.taskID
	if taskID == "" {
		taskID = ulid.Make().String()
	}
	req := wire.Request{
		TaskID:          taskID,
		MessageID:       taskID,
		Text:            submitOpts.text,
		SourceLanguage:  submitOpts.from,
		TargetLanguages: submitOpts.to,
		ModelType:       submitOpts.tier,
		Audience:        submitOpts.audience,
		Timestamp:       time.Now().UnixMilli(),
	}
	if _, err := req.Validate(); err != nil {
		return err
	}
	frame, err := codec.Marshal(req)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), submitOpts.timeout)
	defer cancel()
	opts := transport.Options{MaxFrameBytes: cfg.Transport.MaxFrameBytes}

	// Subscribe first so no result can be published before we listen.
	sub, err := transport.Subscribe(ctx, cfg.Transport.Outbound, opts)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.Transport.Outbound, err)
	}
	defer sub.Close()
	pub, err := transport.Dial(ctx, cfg.Transport.Inbound, opts)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.Transport.Inbound, err)
	}
	defer pub.Close()
	if err := pub.Send(frame); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	pending := make(map[string]bool)
	for _, t := range dispatch.Targets(submitOpts.to) {
		pending[t] = true
	}
	frames := make(chan []byte)
	recvErr := make(chan error, 1)
	go func() {
		for {
			f, err := sub.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	w := cmd.OutOrStdout()
	for len(pending) > 0 {
		select {
		case f := <-frames:
			msg, err := wire.DecodeOutbound(codec, f)
			if err != nil || msg.TaskID != taskID || !pending[msg.TargetLanguage] {
				continue
			}
			delete(pending, msg.TargetLanguage)
			if err := printOutbound(w, msg, submitOpts.asJSON); err != nil {
				return err
			}
		case err := <-recvErr:
			return fmt.Errorf("outbound subscription ended: %w", err)
		case <-ctx.Done():
			return fmt.Errorf("timed out with %d target(s) pending", len(pending))
		}
	}
	return nil
}

func printOutbound(w io.Writer, msg wire.Outbound, asJSON bool) error {
	if asJSON {
		b, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	switch {
	case msg.Result != nil:
		r := msg.Result
		_, err := fmt.Fprintf(w, "[%s] %s (confidence %.2f, model %s, %dms, cached %t)\n%s\n",
			msg.TargetLanguage, msg.Type, r.ConfidenceScore, r.ModelUsed, r.ProcessingTimeMs, r.FromCache, r.TranslatedText)
		return err
	case msg.Error != "":
		_, err := fmt.Fprintf(w, "[%s] %s: %s\n", msg.TargetLanguage, msg.Type, msg.Error)
		return err
	default:
		return errors.New("outbound message carries neither result nor error")
	}
}
