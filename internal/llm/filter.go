package llm

import (
	"strings"
	"unicode/utf8"

	"autoloom/internal/config"
	loomerrors "autoloom/internal/errors"
	"autoloom/internal/logging"
)

// filterTexts validates the raw choice texts of one response. Corrupted text
// fails the whole attempt so it is retried; empty choices are skipped;
// provider error strings are skipped or retried depending on policy.
func filterTexts(raw []string, policy string, logger logging.Logger) ([]string, error) {
	logger = logging.OrNop(logger)
	texts := make([]string, 0, len(raw))
	for i, text := range raw {
		if !utf8.ValidString(text) {
			return nil, loomerrors.NewMalformedPayloadError("invalid UTF-8 in completion", text)
		}
		if strings.ContainsRune(text, utf8.RuneError) {
			return nil, loomerrors.NewMalformedPayloadError("replacement character in completion", text)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		if IsErrorMarker(text) {
			if policy == config.ErrorTextRetry {
				return nil, loomerrors.NewMalformedPayloadError("provider error text in completion", text)
			}
			logger.Warn("Dropping choice %d: provider error text %q", i, text)
			continue
		}
		texts = append(texts, text)
	}
	if len(texts) == 0 {
		return nil, loomerrors.NewMalformedPayloadError("no non-empty completions", "")
	}
	return texts, nil
}
