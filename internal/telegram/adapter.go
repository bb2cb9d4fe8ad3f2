// Package telegram exposes safety checks over a Telegram bot and delivers
// scheduled results to Telegram chats.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/wosafety/internal/delivery"
	"github.com/user/wosafety/internal/render"
	"github.com/user/wosafety/internal/types"
)

const (
	maxTelegramMessage = 4096
	notifyPrefix       = "telegram:"
	helpText           = "Available: /orders, /check <work order id>, /status <work order id>"
)

// Checker runs a safety check to completion.
type Checker interface {
	RunSafetyCheck(ctx context.Context, workOrderID types.WorkOrderID) (string, error)
}

// Adapter bridges Telegram to the safety-check gateway.
type Adapter struct {
	bot        *tgbotapi.BotAPI
	checker    Checker
	workOrders types.WorkOrderStore
	logger     *slog.Logger

	send func(chatID int64, text string) error
}

// New creates a Telegram adapter.
func New(token string, checker Checker, workOrders types.WorkOrderStore) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := &Adapter{
		bot:        bot,
		checker:    checker,
		workOrders: workOrders,
		logger:     slog.Default().With("component", "telegram"),
	}
	a.send = a.sendResponse
	return a, nil
}

// Prefix is the notify key prefix this adapter delivers to.
func (a *Adapter) Prefix() string { return notifyPrefix }

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

// SendTo delivers a message to the chat named by a "telegram:<chat id>"
// notify key.
func (a *Adapter) SendTo(notifyKey, message string) error {
	chatID, err := parseNotifyKey(notifyKey)
	if err != nil {
		return err
	}
	return a.send(chatID, message)
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		a.reply(msg.Chat.ID, helpText)
		return
	}
	a.handleCommand(ctx, msg.Chat.ID, msg.Command(), strings.TrimSpace(msg.CommandArguments()))
}

func (a *Adapter) handleCommand(ctx context.Context, chatID int64, command, args string) {
	switch command {
	case "start", "help":
		a.reply(chatID, "Hello! I run work order safety checks.\n"+helpText)

	case "orders":
		orders, err := a.workOrders.List(ctx)
		if err != nil {
			a.logger.Error("list work orders", "error", err)
			a.reply(chatID, "Error listing work orders.")
			return
		}
		if len(orders) == 0 {
			a.reply(chatID, "No work orders.")
			return
		}
		var b strings.Builder
		for _, wo := range orders {
			fmt.Fprintf(&b, "%s [%s] %s\n", wo.ID, wo.Status, wo.Description)
		}
		a.reply(chatID, strings.TrimRight(b.String(), "\n"))

	case "check":
		if args == "" {
			a.reply(chatID, "Usage: /check <work order id>")
			return
		}
		id := types.WorkOrderID(args)
		if _, err := a.workOrders.Get(ctx, id); err != nil {
			a.reply(chatID, fmt.Sprintf("Unknown work order %s.", id))
			return
		}
		a.reply(chatID, fmt.Sprintf("Running safety check for %s...", id))
		go func() {
			result, err := a.checker.RunSafetyCheck(ctx, id)
			if err != nil {
				a.logger.Error("safety check failed", "work_order_id", string(id), "error", err)
				a.reply(chatID, delivery.FormatFailure(id, err))
				return
			}
			a.reply(chatID, delivery.FormatResult(id, result))
		}()

	case "status":
		if args == "" {
			a.reply(chatID, "Usage: /status <work order id>")
			return
		}
		wo, err := a.workOrders.Get(ctx, types.WorkOrderID(args))
		if err != nil {
			a.reply(chatID, fmt.Sprintf("Unknown work order %s.", args))
			return
		}
		a.reply(chatID, statusText(wo))

	default:
		a.reply(chatID, "Unknown command. "+helpText)
	}
}

func statusText(wo *types.WorkOrder) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Work order %s: %s\nStatus: %s\nPriority: %s", wo.ID, wo.Description, wo.Status, wo.Priority)
	if wo.SafetyCheckPerformedAt != "" {
		fmt.Fprintf(&b, "\nLast safety check: %s\n\n%s", wo.SafetyCheckPerformedAt, render.StoredResult(wo.SafetyCheckResponse))
	} else {
		b.WriteString("\n" + render.NoResultMessage)
	}
	return b.String()
}

func (a *Adapter) reply(chatID int64, text string) {
	if err := a.send(chatID, text); err != nil {
		a.logger.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (a *Adapter) sendResponse(chatID int64, text string) error {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				return fmt.Errorf("send message: %w", err)
			}
		}
	}
	return nil
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

// NotifyKey returns the notify key that delivers to chatID.
func NotifyKey(chatID int64) string {
	return notifyPrefix + strconv.FormatInt(chatID, 10)
}

func parseNotifyKey(key string) (int64, error) {
	rest, ok := strings.CutPrefix(key, notifyPrefix)
	if !ok {
		return 0, fmt.Errorf("not a telegram notify key: %s", key)
	}
	chatID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id in notify key %s: %w", key, err)
	}
	return chatID, nil
}
