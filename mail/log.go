package mail

import (
	"context"

	"github.com/MrEthical07/authcore"
	"github.com/sirupsen/logrus"
)

// LogMailer writes messages to a logger instead of sending them. Reset links
// end up in the log, so it must never be used in production.
type LogMailer struct {
	logger logrus.FieldLogger
}

// NewLogMailer returns a LogMailer writing through logger.
func NewLogMailer(logger logrus.FieldLogger) *LogMailer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogMailer{logger: logger.WithField("component", "mail")}
}

var _ authcore.Mailer = (*LogMailer)(nil)

func (m *LogMailer) Send(_ context.Context, msg authcore.Message) error {
	m.logger.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info(msg.Body)
	return nil
}
