// Package cloudsync pulls vehicle telemetry from the cloud providers.
//
// A sync request is the plain vehicle ID published to the cloud.sync
// queue. The Worker checks the provider's clearance for the vehicle and
// either performs a full sync or parks the request on the delay queue,
// whose TTL dead-letters it back to cloud.sync. The number of delay
// cycles is read from the broker's death count and bounded by MaxRetry.
// AccountService links a user's provider account through the OAuth
// authorization-code grant.
package cloudsync
