// Package capability manages the registry of capability servers: the
// MCP endpoints that expose tools to agents.
//
// Each registered server carries a health state maintained by the
// Monitor's fixed-interval probe loop. A single probe failure degrades
// the server, three consecutive failures mark it unreachable, and one
// success restores it to healthy. The execution engine consults this
// health at step dispatch: steps bound to an unreachable server fail
// permanently without retry.
package capability
