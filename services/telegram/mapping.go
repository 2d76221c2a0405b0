package telegram

import (
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rostergate/rostergate/services/intent"
	"github.com/rostergate/rostergate/services/permission"
	"github.com/rostergate/rostergate/services/router"
	"github.com/rostergate/rostergate/util"
)

const (
	identityPrefix = "tg:"
	chatPrivate    = "private"
)

// ChatIdentity is the stable identity of a Telegram user.
func ChatIdentity(userID int64) string {
	return identityPrefix + strconv.FormatInt(userID, 10)
}

// Inbound is a router message plus what is needed to reply to it.
type Inbound struct {
	Message   router.Message
	ChatID    int64
	MessageID int
}

// ToMessage maps an update to a router message. Updates that are not
// messages, come from bots, or arrive in group chats that are not
// mapped to a conversation class are ignored.
func ToMessage(update tgbotapi.Update, teamID string, chats util.ChatConfig) (Inbound, bool) {
	m := update.Message
	if m == nil || m.From == nil || m.From.IsBot || m.Chat == nil {
		return Inbound{}, false
	}

	var class permission.ConversationClass
	if m.Chat.Type == chatPrivate {
		class = permission.Direct
	} else {
		class = permission.ConversationClass(chats.ClassOfChat(m.Chat.ID))
		if !class.IsValid() {
			return Inbound{}, false
		}
	}

	msg := router.Message{
		ID:                "tg:update:" + strconv.Itoa(update.UpdateID),
		TeamID:            teamID,
		ChatIdentity:      ChatIdentity(m.From.ID),
		ConversationClass: class,
		Text:              m.Text,
		Structured:        m.IsCommand(),
		DisplayName:       displayName(m.From),
	}

	// A shared contact is a registration attempt, but only when users
	// share their own number.
	if m.Contact != nil {
		if m.Contact.UserID != m.From.ID || m.Contact.PhoneNumber == "" {
			return Inbound{}, false
		}
		msg.Text = intent.CommandMarker + intent.ActionRegister
		msg.Structured = true
		msg.Phone = m.Contact.PhoneNumber
	}

	if msg.Text == "" {
		return Inbound{}, false
	}

	return Inbound{Message: msg, ChatID: m.Chat.ID, MessageID: m.MessageID}, true
}

func displayName(u *tgbotapi.User) string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.UserName
}

// Reply builds the outgoing message for a router response. Group replies
// quote the original message.
func Reply(in Inbound, res router.Response) tgbotapi.MessageConfig {
	out := tgbotapi.NewMessage(in.ChatID, res.Text)
	if in.Message.ConversationClass != permission.Direct {
		out.ReplyToMessageID = in.MessageID
	}

	switch {
	case res.RequestContact:
		keyboard := tgbotapi.NewReplyKeyboard(
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonContact("Share my phone number")),
		)
		keyboard.OneTimeKeyboard = true
		keyboard.ResizeKeyboard = true
		out.ReplyMarkup = keyboard
	case in.Message.Phone != "":
		out.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	}
	return out
}
