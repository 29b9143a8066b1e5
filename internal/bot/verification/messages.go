package verification

import "github.com/pulsegate/pulsegate/internal/telegram"

// Button labels. These double as the inbound text the machine matches on.
const (
	BtnSendCode    = "Send code"
	BtnChangeEmail = "Change email"
	BtnGoToChannel = "Go to channel"
)

// Canned reply texts.
const (
	MsgGreeting = "Hi! To get access to the company channel, " +
		"send me your work email address."
	MsgAccessRevoked = "Your access was revoked after a roster update. " +
		"To restore it, send me your work email address."
	MsgEmailRequest = "Send me your work email address."
	MsgEmailInvalid = "That doesn't look like a work email address. " +
		"Please send an address on the company domain."
	MsgConfirmPrompt = "I will send a confirmation code to %s. " +
		"Press \"" + BtnSendCode + "\" to continue or \"" + BtnChangeEmail +
		"\" to use a different address."
	MsgCodeSent = "I sent a confirmation code to %s. " +
		"Reply with the 6-digit code from the email."
	MsgCodePrompt   = "Reply with the 6-digit code from the email."
	MsgCodeSendFail = "I couldn't send the email right now. " +
		"Please try again in a moment."
	MsgCodeWrong = "Wrong code. Attempts remaining: %d."
	MsgVerified  = "You're verified! I'll send you an invite link to the channel."
	MsgAlreadyVerified = "You're already verified. " +
		"Use \"" + BtnGoToChannel + "\" if you need a new invite link."
	MsgAlreadyInChannel = "You're already a member of the channel."
	MsgNotVerified      = "You're not verified yet. Use /start to begin."
	MsgBlockedEmails    = "Too many email changes today. " +
		"You're blocked for 10 minutes."
	MsgBlockedSends = "Too many code emails requested. " +
		"You're blocked for 30 minutes."
	MsgBlockedCodes = "Too many wrong codes. You're blocked for 10 minutes."
	MsgBlockedWait  = "You're temporarily blocked. Minutes remaining: %d."
	MsgBlockExpired = "The block has expired. " +
		"Send me your work email address to continue."
	MsgInviteLink        = "Here is your invite link. It expires in 10 minutes and admits one member."
	MsgInviteAlreadySent = "I already sent you an invite link recently. " +
		"Use it, or wait a few minutes before requesting another."
	MsgInviteFail = "I couldn't create an invite link right now. " +
		"Please try again later."
	MsgUseButtons = "Please use the buttons below, or /start to see your status."
	MsgHint       = "I didn't understand that. " +
		"Use /start to begin or /instruction for help."
	MsgInstruction = "1. Send /start and follow the prompts.\n" +
		"2. Send your work email address.\n" +
		"3. Press \"" + BtnSendCode + "\" and check your inbox.\n" +
		"4. Reply with the 6-digit code.\n" +
		"5. Open the invite link within 10 minutes.\n\n" +
		"Use /check at any time to see your status."
)

// confirmKeyboard offers the send/change choice in waiting_confirm.
func confirmKeyboard() *telegram.ReplyKeyboardMarkup {
	return &telegram.ReplyKeyboardMarkup{
		Keyboard: [][]telegram.KeyboardButton{
			{{Text: BtnSendCode}},
			{{Text: BtnChangeEmail}},
		},
		ResizeKeyboard: true,
	}
}

// channelKeyboard offers the invite shortcut to verified users.
func channelKeyboard() *telegram.ReplyKeyboardMarkup {
	return &telegram.ReplyKeyboardMarkup{
		Keyboard: [][]telegram.KeyboardButton{
			{{Text: BtnGoToChannel}},
		},
		ResizeKeyboard: true,
	}
}

// removeKeyboard hides any reply keyboard.
func removeKeyboard() *telegram.ReplyKeyboardRemove {
	return &telegram.ReplyKeyboardRemove{RemoveKeyboard: true}
}

// inviteButton attaches the link as an inline button.
func inviteButton(link string) *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{{Text: "Join the channel", URL: link}},
		},
	}
}
