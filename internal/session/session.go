// Package session tracks live WebSocket connection state in Redis: which
// gateway instance a user is connected to, whether they are queued or
// chatting, and when they were last active. The authoritative chat and
// waiting-list data lives in Postgres; this registry only exists so
// gateways can answer "who is online and where" cheaply.
package session
