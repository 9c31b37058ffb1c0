// Package webhooks contains webhook verification and dispatch components for
// push-capable SMS providers.
//
// Delivery processing is driven by a claim lifecycle:
// pending/retry_ready -> processing -> processed|dead.
// The (provider_id, message_id) claim is what makes vendor retries no-ops
// while still allowing crash-recovery of in-flight deliveries.
package webhooks
