package notify

import (
	"strconv"
	"time"

	"mailbot/internal/model"
)

// Update is the subset of a Telegram update the bot reacts to.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data"`
	Message *Message `json:"message,omitempty"`
}

// ToReply converts an update from chatID into a Reply. Updates from other
// chats and updates without content are dropped.
func ToReply(u Update, chatID string) (model.Reply, bool) {
	switch {
	case u.CallbackQuery != nil:
		cb := u.CallbackQuery
		if cb.Message == nil || strconv.FormatInt(cb.Message.Chat.ID, 10) != chatID || cb.Data == "" {
			return model.Reply{}, false
		}
		return model.Reply{
			Kind:       model.ReplyChoice,
			Data:       cb.Data,
			CallbackID: cb.ID,
			ReceivedAt: time.Now().UTC(),
		}, true
	case u.Message != nil:
		m := u.Message
		if strconv.FormatInt(m.Chat.ID, 10) != chatID || m.Text == "" {
			return model.Reply{}, false
		}
		return model.Reply{
			Kind:       model.ReplyText,
			Data:       m.Text,
			ReceivedAt: time.Unix(m.Date, 0).UTC(),
		}, true
	}
	return model.Reply{}, false
}
