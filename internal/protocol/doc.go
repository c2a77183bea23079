// Package protocol defines the lobby wire messages and their newline-delimited
// JSON framing.
//
// Every frame is one JSON object on one line, terminated by "\n", with a
// "type" field:
//
// Client -> Server
//
//	join:        client_id: string
//	start_level: level: number (>= 1)
//	leave:       (no fields)
//
// Server -> Client
//
//	joined:        client_id: string
//	error:         message: "no client_id" | "lobby_full" | "client_id_taken"
//	lobby_update:  clients: string[] // join order
//	level_started: level: number
//	               player_count: number
//	               mobs: [{name, hp, attack, defense, crystal_drop}]
//
// Frames that fail to parse are skipped. Frames with an unrecognized type
// decode to Unknown and are ignored by receivers.
package protocol
