package oracle

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/newsline/internal/config"
)

// New builds the oracle selected by cfg.Provider.
func New(cfg config.OracleConfig) (Oracle, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "ollama":
		return NewOllamaOracle(Config{
			Host:       cfg.Host,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		}), nil
	case "stub":
		return NewStub(), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider: %s", cfg.Provider)
	}
}
