// Package mail delivers the OTP messages.
//
// SMTP talks to a real relay with a bounded per-attempt timeout and retries
// transient failures. LogMailer writes messages to the log instead and is only
// meant for local development, where no relay is configured.
package mail
