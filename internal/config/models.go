package config

// TriageConfig represents the decision-policy configuration
type TriageConfig struct {
	ImportantThreshold          float64
	SpamThreshold               float64
	NewsletterImportanceCeiling float64
	HeuristicSpamThreshold      float64
	ReputationProxyThreshold    float64
	WhitelistedDomains          []string
}

// RetrainConfig represents the retraining-policy configuration
type RetrainConfig struct {
	MinFeedback  int
	Tolerance    float64
	HoldoutEvery int
	Epochs       int
	LearningRate float64
}

// StoreConfig represents the persistence configuration
type StoreConfig struct {
	Type       string
	SQLitePath string
	MySQLDSN   string
}

// GetTriage returns the decision-policy configuration
func (c *Config) GetTriage() TriageConfig {
	return TriageConfig{
		ImportantThreshold:          c.GetFloat64("triage.important_threshold"),
		SpamThreshold:               c.GetFloat64("triage.spam_threshold"),
		NewsletterImportanceCeiling: c.GetFloat64("triage.newsletter_importance_ceiling"),
		HeuristicSpamThreshold:      c.GetFloat64("triage.heuristic_spam_threshold"),
		ReputationProxyThreshold:    c.GetFloat64("triage.reputation_proxy_threshold"),
		WhitelistedDomains:          c.GetStringSlice("triage.whitelisted_domains"),
	}
}

// GetRetrain returns the retraining-policy configuration
func (c *Config) GetRetrain() RetrainConfig {
	return RetrainConfig{
		MinFeedback:  c.GetInt("retrain.min_feedback"),
		Tolerance:    c.GetFloat64("retrain.tolerance"),
		HoldoutEvery: c.GetInt("retrain.holdout_every"),
		Epochs:       c.GetInt("retrain.epochs"),
		LearningRate: c.GetFloat64("retrain.learning_rate"),
	}
}

// GetStore returns the persistence configuration
func (c *Config) GetStore() StoreConfig {
	return StoreConfig{
		Type:       c.GetString("store.type"),
		SQLitePath: c.GetString("store.sqlite_path"),
		MySQLDSN:   c.GetString("store.mysql_dsn"),
	}
}
