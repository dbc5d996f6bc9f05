package linkage

import (
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LagSummary reports one lag's outcome.
type LagSummary struct {
	Lag       int     `yaml:"lag"`
	Matched   int     `yaml:"matched"`
	Unmatched int     `yaml:"unmatched"`
	MatchRate float64 `yaml:"match_rate"`
	Failed    bool    `yaml:"failed"`
	Error     string  `yaml:"error,omitempty"`
}

// Summary is the end-of-run report: totals, per-lag match rates, and the
// list of failed lags.
type Summary struct {
	Observations  int          `yaml:"observations"`
	LagsRequested int          `yaml:"lags_requested"`
	Workers       int          `yaml:"workers"`
	PerLag        []LagSummary `yaml:"per_lag"`
	FailedLags    []int        `yaml:"failed_lags,omitempty"`
}

// Log emits the summary through the global logger.
func (s *Summary) Log() {
	log := zap.L().With(zap.String("component", "linkage.summary"))
	log.Info("run summary",
		zap.Int("observations", s.Observations),
		zap.Int("lags_requested", s.LagsRequested),
		zap.Int("workers", s.Workers),
		zap.Ints("failed_lags", s.FailedLags),
	)
	for _, l := range s.PerLag {
		if l.Failed {
			log.Warn("lag failed", zap.Int("lag", l.Lag), zap.String("error", l.Error))
			continue
		}
		log.Info("lag matched",
			zap.Int("lag", l.Lag),
			zap.Int("matched", l.Matched),
			zap.Int("unmatched", l.Unmatched),
			zap.Float64("match_rate", l.MatchRate),
		)
	}
}

// Write saves the summary as YAML.
func (s *Summary) Write(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return eris.Wrap(err, "summary: marshal")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "summary: write %s", path)
	}
	return nil
}
