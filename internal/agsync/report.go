package agsync

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/agcensus/internal/dataset"
)

// FormatCompleteness renders one completeness line, e.g.
// "✓ farms : 214/220 (97.3%) (12 reconstructed)".
func FormatCompleteness(s dataset.ColumnStats) string {
	line := fmt.Sprintf("%s %-35s : %3d/%d (%5.1f%%)", s.Symbol(), s.Column, s.NonNull, s.Total, s.Percent())
	if s.Reconstructed > 0 {
		line += fmt.Sprintf(" (%d reconstructed)", s.Reconstructed)
	}
	return line
}

// LogCompleteness writes the data completeness report.
func LogCompleteness(log *zap.Logger, stats []dataset.ColumnStats, total int) {
	log.Info("data completeness report", zap.Int("counties", total))
	for _, s := range stats {
		log.Info(FormatCompleteness(s),
			zap.String("metric", s.Column),
			zap.Int("non_null", s.NonNull),
			zap.Int("reconstructed", s.Reconstructed),
		)
	}
}
