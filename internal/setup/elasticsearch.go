package setup

import (
	"fmt"

	"github.com/3Eeeecho/go-cloudvault/internal/config"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/logger"
	"github.com/elastic/go-elasticsearch/v8"
)

// InitElasticsearch builds the optional search client for processing log
// indexing. It returns nil when the feature is disabled.
func InitElasticsearch(cfg *config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create Elasticsearch client: %w", err)
	}

	logger.Info("Elasticsearch client initialized")
	return client, nil
}
