package factory

import (
	"fmt"

	"github.com/mikey/inbox-triage/internal/adapters/mailbox"
	"github.com/mikey/inbox-triage/internal/config"
	"github.com/mikey/inbox-triage/internal/core"
	"go.uber.org/zap"
)

// MailboxFactory creates mailbox clients based on configuration
type MailboxFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewMailboxFactory creates a new mailbox factory
func NewMailboxFactory(cfg *config.Config, logger *zap.Logger) *MailboxFactory {
	return &MailboxFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateMailboxClient creates a mailbox client based on the configuration.
// Provider-backed clients (Gmail, IMAP) register here as they are built.
func (f *MailboxFactory) CreateMailboxClient() (core.MailboxClient, error) {
	mailboxType := f.cfg.GetString("mailbox.type")

	switch mailboxType {
	case "dryrun":
		return mailbox.NewDryRun(f.logger), nil
	default:
		return nil, fmt.Errorf("unsupported mailbox type: %s", mailboxType)
	}
}
