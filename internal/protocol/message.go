package protocol

// Type is the discriminator carried in every frame's "type" field.
type Type string

const (
	TypeJoin         Type = "join"
	TypeJoined       Type = "joined"
	TypeError        Type = "error"
	TypeLobbyUpdate  Type = "lobby_update"
	TypeStartLevel   Type = "start_level"
	TypeLevelStarted Type = "level_started"
	TypeLeave        Type = "leave"
)

// Error reasons sent in Error.Message.
const (
	ReasonNoClientID    = "no client_id"
	ReasonLobbyFull     = "lobby_full"
	ReasonClientIDTaken = "client_id_taken"
)

// Message is one protocol frame. The set of implementations is closed;
// frames with a type this package does not know decode to Unknown.
type Message interface {
	Type() Type
	isMessage()
}

// Join asks the server to register the connection under ClientID.
type Join struct {
	ClientID string `json:"client_id"`
}

// Joined confirms a successful Join to the caller only.
type Joined struct {
	ClientID string `json:"client_id"`
}

// Error reports a rejected request to the offending client.
type Error struct {
	Message string `json:"message"`
}

// LobbyUpdate carries the full member list in join order.
type LobbyUpdate struct {
	Clients []string `json:"clients"`
}

// StartLevel asks the server to spawn the roster for Level.
type StartLevel struct {
	Level int `json:"level"`
}

// LevelStarted is broadcast to the whole lobby after a StartLevel.
type LevelStarted struct {
	Level       int   `json:"level"`
	PlayerCount int   `json:"player_count"`
	Mobs        []Mob `json:"mobs"`
}

// Leave removes the sender from the lobby and ends the connection.
type Leave struct{}

// Unknown is any well-formed frame whose type is not listed above.
// Receivers ignore it.
type Unknown struct {
	Kind string
}

// Mob is one roster entry as seen on the wire.
type Mob struct {
	Name        string `json:"name"`
	HP          int    `json:"hp"`
	Attack      int    `json:"attack"`
	Defense     int    `json:"defense"`
	CrystalDrop int    `json:"crystal_drop"`
}

func (Join) Type() Type         { return TypeJoin }
func (Joined) Type() Type       { return TypeJoined }
func (Error) Type() Type        { return TypeError }
func (LobbyUpdate) Type() Type  { return TypeLobbyUpdate }
func (StartLevel) Type() Type   { return TypeStartLevel }
func (LevelStarted) Type() Type { return TypeLevelStarted }
func (Leave) Type() Type        { return TypeLeave }
func (u Unknown) Type() Type    { return Type(u.Kind) }

func (Join) isMessage()         {}
func (Joined) isMessage()       {}
func (Error) isMessage()        {}
func (LobbyUpdate) isMessage()  {}
func (StartLevel) isMessage()   {}
func (LevelStarted) isMessage() {}
func (Leave) isMessage()        {}
func (Unknown) isMessage()      {}
