package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/inbox-triage/internal/config"
	"github.com/mikey/inbox-triage/internal/core"
	"github.com/mikey/inbox-triage/internal/factory"
	"github.com/mikey/inbox-triage/internal/logging"
	"github.com/mikey/inbox-triage/internal/whitelist"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewMailboxFactory); err != nil {
		return nil, err
	}

	// Register the store and expose each persistence port it implements
	if err := container.Provide(func(f *factory.StoreFactory) (core.Store, error) {
		return f.CreateStore()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s core.Store) core.SenderHistory { return s }); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s core.Store) core.FeedbackLedger { return s }); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s core.Store) core.ModelStore { return s }); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s core.Store) core.ActionLog { return s }); err != nil {
		return nil, err
	}

	// Register mailbox client
	if err := container.Provide(func(f *factory.MailboxFactory) (core.MailboxClient, error) {
		return f.CreateMailboxClient()
	}); err != nil {
		return nil, err
	}

	// Register decision thresholds
	if err := container.Provide(func(cfg *config.Config) core.Thresholds {
		triage := cfg.GetTriage()
		return core.Thresholds{
			Important:         triage.ImportantThreshold,
			Spam:              triage.SpamThreshold,
			NewsletterCeiling: triage.NewsletterImportanceCeiling,
			HeuristicSpam:     triage.HeuristicSpamThreshold,
			ReputationProxy:   triage.ReputationProxyThreshold,
		}
	}); err != nil {
		return nil, err
	}

	// Register whitelist checker
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) core.Whitelist {
		return whitelist.NewChecker(cfg.GetTriage().WhitelistedDomains, logger)
	}); err != nil {
		return nil, err
	}

	// Register feature extractor
	if err := container.Provide(func(cfg *config.Config) *core.Extractor {
		return core.NewExtractor(cfg.GetInt("features.body_token_budget"))
	}); err != nil {
		return nil, err
	}

	// Register classifier
	if err := container.Provide(core.NewClassifier); err != nil {
		return nil, err
	}

	// Register retraining policy and controller
	if err := container.Provide(func(cfg *config.Config) core.RetrainPolicy {
		retrain := cfg.GetRetrain()
		return core.RetrainPolicy{
			MinFeedback:  retrain.MinFeedback,
			Tolerance:    retrain.Tolerance,
			HoldoutEvery: retrain.HoldoutEvery,
			Epochs:       retrain.Epochs,
			LearningRate: retrain.LearningRate,
		}
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(core.NewRetrainController); err != nil {
		return nil, err
	}

	// Register decision engine
	if err := container.Provide(core.NewDecisionEngine); err != nil {
		return nil, err
	}

	// Register triage service
	if err := container.Provide(core.NewTriageService); err != nil {
		return nil, err
	}

	return container, nil
}
