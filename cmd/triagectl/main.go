package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikey/inbox-triage/internal/config"
	"github.com/mikey/inbox-triage/internal/core"
	"github.com/mikey/inbox-triage/internal/factory"
	"github.com/mikey/inbox-triage/internal/logging"
	"github.com/mikey/inbox-triage/internal/whitelist"
)

var (
	verbose bool
	jsonLog bool
)

func main() {
	root := &cobra.Command{
		Use:           "triagectl",
		Short:         "Inspect and drive the inbox triage engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().BoolVar(&jsonLog, "json-log", false, "output logs in JSON format")

	root.AddCommand(processCmd(), classifyCmd(), feedbackCmd(), retrainCmd(), statsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildService wires the engine from configuration, without the daemon's
// DI container.
func buildService() (*core.TriageService, core.Store, *zap.Logger, error) {
	logger, err := logging.InitConsoleLogger(verbose, jsonLog)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := config.New()
	if err != nil {
		return nil, nil, nil, err
	}

	triageStore, err := factory.NewStoreFactory(cfg, logger).CreateStore()
	if err != nil {
		return nil, nil, nil, err
	}
	mailboxClient, err := factory.NewMailboxFactory(cfg, logger).CreateMailboxClient()
	if err != nil {
		return nil, nil, nil, err
	}

	triage := cfg.GetTriage()
	thresholds := core.Thresholds{
		Important:         triage.ImportantThreshold,
		Spam:              triage.SpamThreshold,
		NewsletterCeiling: triage.NewsletterImportanceCeiling,
		HeuristicSpam:     triage.HeuristicSpamThreshold,
		ReputationProxy:   triage.ReputationProxyThreshold,
	}
	retrain := cfg.GetRetrain()
	policy := core.RetrainPolicy{
		MinFeedback:  retrain.MinFeedback,
		Tolerance:    retrain.Tolerance,
		HoldoutEvery: retrain.HoldoutEvery,
		Epochs:       retrain.Epochs,
		LearningRate: retrain.LearningRate,
	}

	extractor := core.NewExtractor(cfg.GetInt("features.body_token_budget"))
	classifier := core.NewClassifier(logger)
	retrainer := core.NewRetrainController(triageStore, triageStore, classifier, policy, logger)
	decider := core.NewDecisionEngine(thresholds, extractor,
		whitelist.NewChecker(triage.WhitelistedDomains, logger), logger)

	service, err := core.NewTriageService(triageStore, triageStore, triageStore, triageStore,
		mailboxClient, extractor, classifier, retrainer, decider, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return service, triageStore, logger, nil
}

func closeStore(s core.Store) {
	if closer, ok := s.(interface{ Close() error }); ok {
		closer.Close()
	}
}

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Process unread messages from the configured mailbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, triageStore, _, err := buildService()
			if err != nil {
				return err
			}
			defer closeStore(triageStore)

			results, err := service.ProcessUnread(context.Background())
			if err != nil {
				return err
			}
			printResults(results)
			return nil
		},
	}
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [file ...]",
		Short: "Classify RFC 5322 message files (stdin if none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, triageStore, _, err := buildService()
			if err != nil {
				return err
			}
			defer closeStore(triageStore)

			var msgs []*core.Message
			if len(args) == 0 {
				msg, err := parseMessage(os.Stdin)
				if err != nil {
					return err
				}
				msgs = append(msgs, msg)
			}
			for _, path := range args {
				file, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", path, err)
				}
				msg, err := parseMessage(file)
				file.Close()
				if err != nil {
					return fmt.Errorf("failed to parse %s: %w", path, err)
				}
				msgs = append(msgs, msg)
			}

			results, err := service.ProcessBatch(context.Background(), msgs)
			if err != nil {
				return err
			}
			printResults(results)
			return nil
		},
	}
}

func feedbackCmd() *cobra.Command {
	var important, spam bool
	cmd := &cobra.Command{
		Use:   "feedback <fingerprint>",
		Short: "Record a correction for a processed message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, triageStore, _, err := buildService()
			if err != nil {
				return err
			}
			defer closeStore(triageStore)

			var wasSpam *bool
			if cmd.Flags().Changed("spam") {
				wasSpam = &spam
			}
			if err := service.SubmitFeedback(context.Background(), args[0], important, wasSpam); err != nil {
				return err
			}
			fmt.Printf("Feedback recorded for %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&important, "important", false, "the message was actually important")
	cmd.Flags().BoolVar(&spam, "spam", false, "the message was actually spam")
	return cmd
}

func retrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retrain",
		Short: "Train a candidate model from accumulated feedback",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, triageStore, _, err := buildService()
			if err != nil {
				return err
			}
			defer closeStore(triageStore)

			model, err := service.Retrain(context.Background())
			var rejected *core.RetrainRejectedError
			if errors.As(err, &rejected) {
				fmt.Printf("Retrain rejected: %s\n", rejected.Reason)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("Activated model version %d (metric %.4f, %d samples)\n",
				model.Version, model.Metric, model.SampleCount)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show engine statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, triageStore, _, err := buildService()
			if err != nil {
				return err
			}
			defer closeStore(triageStore)

			stats, err := service.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Total processed:      %d\n", stats.TotalProcessed)
			for _, action := range core.Actions {
				fmt.Printf("  %-20s%d\n", action, stats.CountsByAction[action])
			}
			fmt.Printf("Distinct senders:     %d\n", stats.DistinctSenders)
			fmt.Printf("Feedback since train: %d\n", stats.FeedbackSinceLastRetrain)
			fmt.Printf("Active model version: %d\n", stats.ActiveModelVersion)
			fmt.Printf("Active model metric:  %.4f\n", stats.ActiveModelMetric)
			return nil
		},
	}
}

func printResults(results []core.BatchResult) {
	for _, r := range results {
		switch r.Status {
		case core.StatusProcessed:
			if r.Prediction != nil {
				fmt.Printf("%s  %s  (importance %.2f, spam %.2f, model v%d)\n",
					r.Fingerprint, r.Action, r.Prediction.Importance, r.Prediction.Spam,
					r.Prediction.ModelVersion)
			} else {
				fmt.Printf("%s  %s  (heuristic)\n", r.Fingerprint, r.Action)
			}
		case core.StatusSkipped:
			fmt.Printf("%s  %s  (skipped: %s)\n", r.Fingerprint, r.Action, r.Reason)
		case core.StatusFailed:
			fmt.Printf("%s  FAILED: %s\n", r.Fingerprint, r.Reason)
		}
	}
}

// parseMessage builds an engine message from one RFC 5322 message.
func parseMessage(r io.Reader) (*core.Message, error) {
	parsed, err := mail.ReadMessage(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	body, err := io.ReadAll(parsed.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}

	sender := parsed.Header.Get("From")
	if addr, err := mail.ParseAddress(sender); err == nil {
		sender = addr.Address
	}
	domain := ""
	if at := strings.LastIndex(sender, "@"); at >= 0 {
		domain = sender[at+1:]
	}

	sentAt := time.Now()
	if date, err := parsed.Header.Date(); err == nil {
		sentAt = date
	}

	recipients := 0
	for _, header := range []string{"To", "Cc"} {
		if addrs, err := parsed.Header.AddressList(header); err == nil {
			recipients += len(addrs)
		}
	}
	if recipients == 0 {
		recipients = 1
	}

	fingerprint := parsed.Header.Get("Message-Id")
	if fingerprint == "" {
		// No Message-Id: derive a stable fingerprint from the content.
		sum := sha256.Sum256(append([]byte(sender+"\x00"+parsed.Header.Get("Subject")+"\x00"), body...))
		fingerprint = hex.EncodeToString(sum[:16])
	}

	return &core.Message{
		Fingerprint:    fingerprint,
		Sender:         sender,
		SenderDomain:   domain,
		Subject:        parsed.Header.Get("Subject"),
		Body:           string(body),
		HasUnsubscribe: parsed.Header.Get("List-Unsubscribe") != "",
		SentAt:         sentAt,
		RecipientCount: recipients,
	}, nil
}
