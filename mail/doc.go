// Package mail provides authcore.Mailer transports: SMTP for deployments and
// a logrus-backed mailer for local development.
package mail
