// Package notifier posts job run summaries to an operator chat.
//
// The service subscribes to run-finished events on the event bus, renders a
// short summary, and hands it to a Sender (the Telegram sender in
// production). Sends are rate limited, retried with backoff, and identical
// summaries inside the dedup window are dropped.
package notifier
