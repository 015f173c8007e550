package services

import "github.com/rs/zerolog/log"

// Notifier receives the user-facing messages the call flow produces. The
// console client renders them as toasts; tests record them.
type Notifier interface {
	Success(message string)
	Error(message string)
}

type logNotifier struct{}

func NewLogNotifier() Notifier {
	return logNotifier{}
}

func (logNotifier) Success(message string) {
	log.Info().Msg(message)
}

func (logNotifier) Error(message string) {
	log.Error().Msg(message)
}
