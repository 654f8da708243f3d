// Package remote is the HTTP client for the upstream collection
// service. It carries telemetry batches up and device commands down.
//
// Three operations cover the whole surface: SendBatch posts queued
// readings, PollCommands fetches commands issued since a cursor, and
// AckCommand reports each command's final status. Every request is
// authenticated with a short-lived HS256 token minted from the
// gateway's client secret.
//
// Failures are classified into two sentinel errors. ErrRetryable
// covers network faults and 5xx responses, where the same payload may
// succeed later. ErrRejected covers 4xx responses, where retrying the
// same payload cannot help. The transmitter and dispatcher drive their
// retry behaviour entirely off this split.
package remote
