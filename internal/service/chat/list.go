package chat

import "github.com/zhouzirui/flowbot/backend/internal/model/chat"

// The session list is treated as an immutable value: every helper below
// returns a fresh slice and never writes through its input.

func prependSession(list []chat.Session, session chat.Session) []chat.Session {
	out := make([]chat.Session, 0, len(list)+1)
	out = append(out, session)
	return append(out, list...)
}

func findSession(list []chat.Session, id string) (chat.Session, bool) {
	for _, session := range list {
		if session.ID == id {
			return session, true
		}
	}
	return chat.Session{}, false
}

func updateSession(list []chat.Session, id string, fn func(chat.Session) chat.Session) ([]chat.Session, chat.Session, bool) {
	out := make([]chat.Session, len(list))
	copy(out, list)
	for i := range out {
		if out[i].ID == id {
			out[i] = fn(out[i])
			return out, out[i], true
		}
	}
	return list, chat.Session{}, false
}

func removeSession(list []chat.Session, id string) ([]chat.Session, bool) {
	out := make([]chat.Session, 0, len(list))
	found := false
	for _, session := range list {
		if session.ID == id {
			found = true
			continue
		}
		out = append(out, session)
	}
	if !found {
		return list, false
	}
	return out, true
}

func appendMessage(session chat.Session, msg chat.Message) chat.Session {
	messages := make([]chat.Message, 0, len(session.Messages)+1)
	messages = append(messages, session.Messages...)
	session.Messages = append(messages, msg)
	return session
}
