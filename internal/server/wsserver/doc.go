// Package wsserver is the realtime replication transport.
//
// It upgrades authenticated clients at /world/ws, speaks the tagged
// JSON frame protocol (HEARTBEAT, QUERY, SUBSCRIBE and their
// responses), and pushes tick change sets and store notifications to
// subscribers. Every connection gets a bounded outbound queue; a
// client that cannot drain it is closed with 1011 rather than allowed
// to stall the server.
package wsserver
