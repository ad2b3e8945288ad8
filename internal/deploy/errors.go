package deploy

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"opshub/internal/models"
	"opshub/internal/provider"
)

// maxMessageLen bounds stored error messages so one giant provider
// response cannot bloat the event log
const maxMessageLen = 250

// ClassifyError maps a provider failure to an error reason, preferring the
// typed provider error and falling back to message sniffing for errors
// that arrive as plain strings.
func ClassifyError(err error) (models.DeployErrorReason, int) {
	if err == nil {
		return models.ReasonUnknown, 0
	}

	var provErr *provider.Error
	if errors.As(err, &provErr) {
		if provErr.Timeout || provErr.StatusCode == http.StatusRequestTimeout {
			return models.ReasonProviderTimeout, provErr.StatusCode
		}
		return models.ReasonProviderError, provErr.StatusCode
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.ReasonProviderTimeout, 0
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "missing") && strings.Contains(msg, "config"):
		return models.ReasonMissingProviderConfig, 0
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline exceeded"):
		return models.ReasonProviderTimeout, 0
	case strings.Contains(msg, "webhook") || strings.Contains(msg, "ignored"):
		return models.ReasonWebhookIgnored, 0
	case strings.Contains(msg, "provider"):
		return models.ReasonProviderError, 0
	default:
		return models.ReasonUnknown, 0
	}
}

// Truncate clips a message to the stored maximum without splitting a
// UTF-8 sequence at the boundary
func Truncate(message string) string {
	if len(message) <= maxMessageLen {
		return message
	}
	cut := maxMessageLen
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}
