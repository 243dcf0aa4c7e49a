package mailbox

import (
	"context"

	"github.com/mikey/inbox-triage/internal/core"
	"go.uber.org/zap"
)

// DryRun is a mailbox adapter that applies nothing. It logs each decision
// instead, which is what you want while tuning thresholds against a live
// account before letting the engine touch real mail. A provider-backed
// adapter (Gmail, IMAP) plugs in behind the same port.
type DryRun struct {
	logger *zap.Logger
}

// NewDryRun creates a dry-run mailbox client.
func NewDryRun(logger *zap.Logger) *DryRun {
	return &DryRun{logger: logger}
}

// ListUnread returns no messages; batches are fed in by the caller.
func (m *DryRun) ListUnread(ctx context.Context) ([]*core.Message, error) {
	return nil, nil
}

// ApplyAction logs the action and reports success.
func (m *DryRun) ApplyAction(ctx context.Context, fingerprint string, action core.Action) error {
	m.logger.Info("Dry run: would apply action",
		zap.String("fingerprint", fingerprint),
		zap.String("action", string(action)))
	return nil
}
