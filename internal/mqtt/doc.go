// Package mqtt mirrors conversation activity onto an MQTT broker.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. Topics live under
// the configured prefix:
//
//	<prefix>/availability   retained "online" / "offline" (will message)
//	<prefix>/notifications  notification text, one message per event
//	<prefix>/events/turn    JSON summary of every completed turn
//	<prefix>/stats/<name>   retained daily counters, refreshed periodically
package mqtt
