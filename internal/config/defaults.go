package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Library.Path == "" {
		cfg.Library.Path = "/usr/local/var/ruiji/data/library.db"
	}
	if cfg.Library.BleveIndexPath == "" {
		cfg.Library.BleveIndexPath = "/usr/local/var/ruiji/data/indices/bleve"
	}
	if cfg.Vectorizer.Kind == "" {
		cfg.Vectorizer.Kind = "binned"
	}
	if cfg.Vectorizer.Dimension == 0 {
		cfg.Vectorizer.Dimension = 64
	}
	if cfg.Search.IndexKind == "" {
		cfg.Search.IndexKind = "exact"
	}
	if cfg.Search.DefaultTopN == 0 {
		cfg.Search.DefaultTopN = 10
	}
	if cfg.Search.MaxTopN == 0 {
		cfg.Search.MaxTopN = 100
	}
	if cfg.Search.FragmentTolerance == 0 {
		cfg.Search.FragmentTolerance = 0.005
	}
	if cfg.Network.Metric == "" {
		cfg.Network.Metric = "vector_cosine"
	}
	if cfg.Network.Threshold == 0 {
		cfg.Network.Threshold = 0.7
	}
	if cfg.Curation.MinPeaks == 0 {
		cfg.Curation.MinPeaks = 5
	}
	if cfg.Curation.MinTotalIonCurrent == 0 {
		cfg.Curation.MinTotalIonCurrent = 1e-6
	}
	if cfg.Curation.MaxPeakDominance == 0 {
		cfg.Curation.MaxPeakDominance = 0.99
	}
	if cfg.Curation.PrecursorTolerance == 0 {
		cfg.Curation.PrecursorTolerance = 0.01
	}
	if cfg.Curation.MinSimilarity == 0 {
		cfg.Curation.MinSimilarity = 0.95
	}
}
