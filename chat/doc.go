// Package chat owns the bot's IRC session for one channel.
//
// A Session holds the only live connection handle. Other components post
// through Say, which enforces a per-channel cooldown (1.5s by default) by
// dropping, not queueing, messages sent inside the window. Inbound messages
// are matched against a small command table (currently only "!hi").
//
// Connection loss is not retried inside the Session: Connect returns and
// Supervise, run by the owner, revalidates credentials before reconnecting.
package chat
