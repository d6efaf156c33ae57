package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_group_guard_bot/internal/domain"
	"tg_group_guard_bot/internal/logging"
)

// Callback data of the kickall prompt buttons. The prompt is identified by the
// message the buttons are attached to.
const (
	callbackKickAllConfirm = "kickall_confirm"
	callbackKickAllCancel  = "kickall_cancel"
)

// botAPI is the subset of *bot.Bot methods the platform adapter calls.
type botAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
	UnpinChatMessage(ctx context.Context, params *bot.UnpinChatMessageParams) (bool, error)
	BanChatMember(ctx context.Context, params *bot.BanChatMemberParams) (bool, error)
	RestrictChatMember(ctx context.Context, params *bot.RestrictChatMemberParams) (bool, error)
	GetChatMember(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error)
	GetChatAdministrators(ctx context.Context, params *bot.GetChatAdministratorsParams) ([]models.ChatMember, error)
	GetChatMemberCount(ctx context.Context, params *bot.GetChatMemberCountParams) (int, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

// Platform adapts the Telegram Bot API to the chat operations the moderation
// components need.
type Platform struct {
	api    botAPI
	logger *logrus.Entry
}

// NewPlatform constructs a Platform over api.
func NewPlatform(api botAPI, logger *logrus.Entry) *Platform {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Platform{
		api:    api,
		logger: logger,
	}
}

// GetMember returns the user's membership in the chat.
func (p *Platform) GetMember(ctx context.Context, chatID, userID int64) (domain.Member, error) {
	if p == nil || p.api == nil {
		return domain.Member{}, errors.New("telegram platform is not initialized")
	}

	member, err := p.api.GetChatMember(ctx, &bot.GetChatMemberParams{
		ChatID: chatID,
		UserID: userID,
	})
	if err != nil {
		return domain.Member{}, domain.WrapPlatform("get_chat_member", err)
	}
	if member == nil {
		return domain.Member{}, domain.WrapPlatform("get_chat_member", errors.New("empty response"))
	}

	return memberFromChatMember(*member), nil
}

// GetAdministrators returns the chat's administrators, creator included.
func (p *Platform) GetAdministrators(ctx context.Context, chatID int64) ([]domain.Member, error) {
	if p == nil || p.api == nil {
		return nil, errors.New("telegram platform is not initialized")
	}

	admins, err := p.api.GetChatAdministrators(ctx, &bot.GetChatAdministratorsParams{ChatID: chatID})
	if err != nil {
		return nil, domain.WrapPlatform("get_chat_administrators", err)
	}

	out := make([]domain.Member, 0, len(admins))
	for _, admin := range admins {
		out = append(out, memberFromChatMember(admin))
	}
	return out, nil
}

// GetMemberCount returns the chat's member count.
func (p *Platform) GetMemberCount(ctx context.Context, chatID int64) (int, error) {
	if p == nil || p.api == nil {
		return 0, errors.New("telegram platform is not initialized")
	}

	count, err := p.api.GetChatMemberCount(ctx, &bot.GetChatMemberCountParams{ChatID: chatID})
	if err != nil {
		return 0, domain.WrapPlatform("get_chat_member_count", err)
	}
	return count, nil
}

// BanMember bans the user until the given time. A zero until bans
// permanently.
func (p *Platform) BanMember(ctx context.Context, chatID, userID int64, until time.Time) error {
	if p == nil || p.api == nil {
		return errors.New("telegram platform is not initialized")
	}

	_, err := p.api.BanChatMember(ctx, &bot.BanChatMemberParams{
		ChatID:    chatID,
		UserID:    userID,
		UntilDate: untilDate(until),
	})
	return domain.WrapPlatform("ban_chat_member", err)
}

// RestrictMember applies permissions to the user until the given time. A zero
// until restricts permanently.
func (p *Platform) RestrictMember(ctx context.Context, chatID, userID int64, permissions domain.Permissions, until time.Time) error {
	if p == nil || p.api == nil {
		return errors.New("telegram platform is not initialized")
	}

	_, err := p.api.RestrictChatMember(ctx, &bot.RestrictChatMemberParams{
		ChatID:      chatID,
		UserID:      userID,
		Permissions: chatPermissions(permissions),
		UntilDate:   untilDate(until),
	})
	return domain.WrapPlatform("restrict_chat_member", err)
}

// DeleteMessage removes a message.
func (p *Platform) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if p == nil || p.api == nil {
		return errors.New("telegram platform is not initialized")
	}

	_, err := p.api.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
	})
	return domain.WrapPlatform("delete_message", err)
}

// SendMessage posts plain text and returns the new message id.
func (p *Platform) SendMessage(ctx context.Context, chatID int64, text string) (int, error) {
	return p.send(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
}

// SendConfirmation posts text with kickall accept and cancel buttons.
func (p *Platform) SendConfirmation(ctx context.Context, chatID int64, text string) (int, error) {
	return p.send(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
		ReplyMarkup: keyboard(
			row(button("Yes, I'm sure", callbackKickAllConfirm)),
			row(button("Cancel", callbackKickAllCancel)),
		),
	})
}

// EditMessage replaces the text of a message and drops its buttons.
func (p *Platform) EditMessage(ctx context.Context, chatID int64, messageID int, text string) error {
	return p.edit(ctx, chatID, messageID, text, nil)
}

// UnpinMessage unpins a message.
func (p *Platform) UnpinMessage(ctx context.Context, chatID int64, messageID int) error {
	if p == nil || p.api == nil {
		return errors.New("telegram platform is not initialized")
	}

	_, err := p.api.UnpinChatMessage(ctx, &bot.UnpinChatMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
	})
	return domain.WrapPlatform("unpin_chat_message", err)
}

func (p *Platform) reply(ctx context.Context, chatID int64, replyTo int, text string, markup models.ReplyMarkup) error {
	params := &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: markup,
	}
	if replyTo != 0 {
		params.ReplyParameters = &models.ReplyParameters{
			MessageID:                replyTo,
			AllowSendingWithoutReply: true,
		}
	}

	_, err := p.send(ctx, params)
	return err
}

func (p *Platform) send(ctx context.Context, params *bot.SendMessageParams) (int, error) {
	if p == nil || p.api == nil {
		return 0, errors.New("telegram platform is not initialized")
	}

	msg, err := p.api.SendMessage(ctx, params)
	if err != nil {
		return 0, domain.WrapPlatform("send_message", err)
	}
	if msg == nil {
		return 0, nil
	}
	return msg.ID, nil
}

func (p *Platform) edit(ctx context.Context, chatID int64, messageID int, text string, markup models.ReplyMarkup) error {
	if p == nil || p.api == nil {
		return errors.New("telegram platform is not initialized")
	}

	_, err := p.api.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ReplyMarkup: markup,
	})
	return domain.WrapPlatform("edit_message_text", err)
}

func (p *Platform) answer(ctx context.Context, queryID, text string, alert bool) {
	if p == nil || p.api == nil || queryID == "" {
		return
	}

	if _, err := p.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            text,
		ShowAlert:       alert,
	}); err != nil {
		p.logger.WithField("event", "telegram_callback_answer_error").WithError(err).Warn("failed to answer callback query")
	}
}

func untilDate(until time.Time) int {
	if until.IsZero() {
		return 0
	}
	return int(until.Unix())
}

func chatPermissions(p domain.Permissions) *models.ChatPermissions {
	return &models.ChatPermissions{
		CanSendMessages:       p.SendMessages,
		CanSendAudios:         p.SendMedia,
		CanSendDocuments:      p.SendMedia,
		CanSendPhotos:         p.SendMedia,
		CanSendVideos:         p.SendMedia,
		CanSendVideoNotes:     p.SendMedia,
		CanSendVoiceNotes:     p.SendMedia,
		CanSendPolls:          p.SendOther,
		CanSendOtherMessages:  p.SendOther,
		CanAddWebPagePreviews: p.AddWebPagePreviews,
	}
}

func memberFromChatMember(cm models.ChatMember) domain.Member {
	var user *models.User
	switch cm.Type {
	case models.ChatMemberTypeOwner:
		if cm.Owner != nil {
			user = cm.Owner.User
		}
	case models.ChatMemberTypeAdministrator:
		if cm.Administrator != nil {
			user = &cm.Administrator.User
		}
	case models.ChatMemberTypeMember:
		if cm.Member != nil {
			user = cm.Member.User
		}
	case models.ChatMemberTypeRestricted:
		if cm.Restricted != nil {
			user = cm.Restricted.User
		}
	case models.ChatMemberTypeLeft:
		if cm.Left != nil {
			user = cm.Left.User
		}
	case models.ChatMemberTypeBanned:
		if cm.Banned != nil {
			user = cm.Banned.User
		}
	}

	return memberFromUser(user, domain.MemberStatus(cm.Type))
}

func memberFromUser(user *models.User, status domain.MemberStatus) domain.Member {
	if user == nil {
		return domain.Member{Status: status}
	}

	return domain.Member{
		UserID:    user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		IsBot:     user.IsBot,
		Status:    status,
	}
}

func keyboard(rows ...[]models.InlineKeyboardButton) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func row(buttons ...models.InlineKeyboardButton) []models.InlineKeyboardButton {
	return buttons
}

func button(text, data string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{Text: text, CallbackData: data}
}
