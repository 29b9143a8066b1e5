package telegram

// Chat types as reported by the Bot API.
const (
	ChatTypePrivate    = "private"
	ChatTypeGroup      = "group"
	ChatTypeSupergroup = "supergroup"
	ChatTypeChannel    = "channel"
)

// Member statuses as reported by the Bot API.
const (
	MemberStatusCreator       = "creator"
	MemberStatusAdministrator = "administrator"
	MemberStatusMember        = "member"
	MemberStatusRestricted    = "restricted"
	MemberStatusLeft          = "left"
	MemberStatusKicked        = "kicked"
)

// User identifies a Telegram account.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Chat identifies a conversation the bot participates in.
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

// Message is an inbound text message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// ChatMember describes one member of a chat, including the administrative
// rights exposed for administrators.
type ChatMember struct {
	Status             string `json:"status"`
	User               *User  `json:"user"`
	CanManageChat      bool   `json:"can_manage_chat"`
	CanRestrictMembers bool   `json:"can_restrict_members"`
	CanPromoteMembers  bool   `json:"can_promote_members"`
	CanInviteUsers     bool   `json:"can_invite_users"`
}

// ChatMemberUpdated reports a change of the bot's own membership in a chat.
type ChatMemberUpdated struct {
	Chat          Chat       `json:"chat"`
	From          *User      `json:"from"`
	NewChatMember ChatMember `json:"new_chat_member"`
}

// Update is one long-poll result entry.
type Update struct {
	UpdateID     int64              `json:"update_id"`
	Message      *Message           `json:"message"`
	MyChatMember *ChatMemberUpdated `json:"my_chat_member"`
}

// KeyboardButton is one reply keyboard button.
type KeyboardButton struct {
	Text string `json:"text"`
}

// ReplyKeyboardMarkup shows a custom reply keyboard.
type ReplyKeyboardMarkup struct {
	Keyboard       [][]KeyboardButton `json:"keyboard"`
	ResizeKeyboard bool               `json:"resize_keyboard"`
}

// ReplyKeyboardRemove hides any custom reply keyboard.
type ReplyKeyboardRemove struct {
	RemoveKeyboard bool `json:"remove_keyboard"`
}

// InlineKeyboardButton is one inline button; URL buttons open a link.
type InlineKeyboardButton struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

// InlineKeyboardMarkup attaches inline buttons to a message.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// SendOptions carries the optional parts of a sendMessage call.
type SendOptions struct {
	ParseMode string
	// ReplyMarkup is one of ReplyKeyboardMarkup, ReplyKeyboardRemove or
	// InlineKeyboardMarkup.
	ReplyMarkup any
}
