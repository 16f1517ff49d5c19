package protocol

import "encoding/json"

// Envelope is the wire format for every message on every namespace.
// Client requests that expect an acknowledgment carry a non-zero Ack id;
// the server answers with an EventAck envelope echoing the same id.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   uint64          `json:"ack,omitempty"`
}

// Event names, client to server.
const (
	EventName         = "name"
	EventCreateGame   = "create_game"
	EventJoinGame     = "join_game"
	EventJoinGameRoom = "join_game_room"
	EventMove         = "move"
	EventPause        = "pause"
	EventRestart      = "restart"
	EventSetReady     = "setReady"
	EventKeypress     = "keypress"
)

// Event names, server to client.
const (
	EventAck         = "ack"
	EventCreatedGame = "created_game"
	EventJoinedGame  = "joined_game"
	EventLobbyUpdate = "lobby_update"
	EventPlayerSide  = "playerSide"
	EventStateUpdate = "stateUpdate"
	EventGameState   = "gameState"
	EventGameStart   = "gameStart"
	EventGameOver    = "gameOver"
	EventWaiting     = "waiting"
	EventCorrectHit  = "correctHit"
)

// GameKind identifies which minigame a room runs.
type GameKind string

const (
	GamePong     GameKind = "pong"
	GameKeyClash GameKind = "keyclash"
)

// AckError is the only failure signal acks carry. A present, non-empty
// Error field means the request failed; otherwise it succeeded.
type AckError struct {
	Error string `json:"error,omitempty"`
}

// NamePayload registers lobby presence. A nil name asks the server to
// generate a guest name from the connection id.
type NamePayload struct {
	Name *string `json:"name"`
}

// CreateGamePayload asks the lobby to allocate a room.
type CreateGamePayload struct {
	Game GameKind `json:"game"`
	Mode string   `json:"mode"`
}

// GameRef identifies a room on the lobby channel.
type GameRef struct {
	ID   string   `json:"id"`
	Game GameKind `json:"game"`
	Mode string   `json:"mode"`
}

// PongJoinPayload seats a connection in a pong room. Player2 is only
// used in local mode to name the second local player.
type PongJoinPayload struct {
	RoomID  string `json:"id"`
	Name    string `json:"name"`
	Player2 string `json:"player2,omitempty"`
}

// KeyClashJoinPayload seats a connection in a key clash room.
type KeyClashJoinPayload struct {
	RoomID  string `json:"id"`
	Mode    string `json:"mode"`
	Name    string `json:"name"`
	Player2 string `json:"player2,omitempty"`
}

// MovePayload reports the absolute paddle position for one side.
// Paddle position is client-authoritative; the server only clamps it.
type MovePayload struct {
	Side string  `json:"side"`
	Z    float64 `json:"z"`
}

// KeypressPayload carries a single key press in a key clash match.
type KeypressPayload struct {
	Key string `json:"key"`
}

// CorrectHitPayload tells the room which player scored a correct hit.
type CorrectHitPayload struct {
	Player int `json:"player"`
}

// StateUpdatePayload wraps a pong snapshot. Start is "start" on the
// first broadcast of a fresh match and empty otherwise.
type StateUpdatePayload struct {
	State json.RawMessage `json:"state"`
	Start string          `json:"start,omitempty"`
}

// Marshal wraps a payload in an envelope and encodes it.
func Marshal(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// MarshalAck encodes an acknowledgment envelope for the given ack id.
func MarshalAck(ack uint64, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: EventAck, Ack: ack, Data: raw})
}
