// Package notify delivers critical-value notifications.
//
// Every transport implements critical.Sender. LogSender only records the
// delivery in the log, Memory keeps messages for tests and dry runs,
// NtfySender posts to an ntfy server (in-app and email), SNSSender publishes
// through AWS SNS (SMS, pager, phone call). Router picks the sender per
// channel, and Directory resolves recipient ids to contact addresses and
// role-based recipient types to user ids.
package notify
