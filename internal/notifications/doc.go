// Package notifications delivers operator alerts via ntfy.
//
// The default implementation publishes to the topic configured under
// [notifications] and degrades to a no-op when no topic is set. Enumerated
// events cover the conditions an operator must act on: scoring failures that
// leave uploads pending, jobs that exhausted their retries, and maintenance
// sweep summaries. Identical alerts inside the dedup window are suppressed so
// a flapping scoring sidecar does not flood the topic.
package notifications
