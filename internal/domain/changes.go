package domain

// Table names a collection that emits change notifications.
type Table string

const (
	TableLobbies   Table = "lobbies"
	TablePlayers   Table = "players"
	TableQuestions Table = "questions"
	TableAnswers   Table = "answers"
)

// Op is the kind of row change.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
)

// Change is a single row-level notification. Exactly one of the row pointers is set.
type Change struct {
	Table  Table   `json:"table"`
	Op     Op      `json:"op"`
	Lobby  *Lobby  `json:"lobby,omitempty"`
	Player *Player `json:"player,omitempty"`
	Answer *Answer `json:"answer,omitempty"`
}

// Filter selects changes of one table whose Column equals Value.
// An empty Column matches every change of the table.
type Filter struct {
	Table  Table  `json:"table"`
	Column string `json:"column"`
	Value  string `json:"value"`
}

// Valid reports whether the filter names a subscribable table and column.
func (f Filter) Valid() bool {
	_, ok := columnValue(f.Table, f.Column, Change{Table: f.Table})
	return ok
}

// Matches reports whether c passes the filter.
func (f Filter) Matches(c Change) bool {
	if c.Table != f.Table {
		return false
	}
	if f.Column == "" {
		return true
	}
	v, ok := columnValue(f.Table, f.Column, c)
	return ok && v == f.Value
}

// LobbyID returns the lobby the change belongs to.
func (c Change) LobbyID() string {
	switch {
	case c.Lobby != nil:
		return c.Lobby.ID
	case c.Player != nil:
		return c.Player.LobbyID
	case c.Answer != nil:
		return c.Answer.LobbyID
	}
	return ""
}

func columnValue(t Table, column string, c Change) (string, bool) {
	switch t {
	case TableLobbies:
		var l Lobby
		if c.Lobby != nil {
			l = *c.Lobby
		}
		switch column {
		case "", "id":
			return l.ID, true
		case "pin":
			return l.PIN, true
		}
	case TablePlayers:
		var p Player
		if c.Player != nil {
			p = *c.Player
		}
		switch column {
		case "", "lobby_id":
			return p.LobbyID, true
		case "id":
			return p.ID, true
		}
	case TableAnswers:
		var a Answer
		if c.Answer != nil {
			a = *c.Answer
		}
		switch column {
		case "", "question_id":
			return a.QuestionID, true
		case "lobby_id":
			return a.LobbyID, true
		case "player_id":
			return a.PlayerID, true
		}
	}
	return "", false
}
