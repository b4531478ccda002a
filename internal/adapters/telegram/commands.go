package telegram

import (
	"context"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/apeks827/JiraTasksUpdate/internal/logging"
	"github.com/apeks827/JiraTasksUpdate/internal/pipeline"
	"github.com/apeks827/JiraTasksUpdate/internal/report"
)

// Keyboard button labels. They double as commands.
const (
	ButtonIssuesOnMe  = "Issues on me"
	ButtonUpdates     = "Updates"
	ButtonDailyReport = "Daily Report"
	ButtonStop        = "-"
)

// Queries are the JQL queries behind the list and report commands. Empty
// queries disable the matching command.
type Queries struct {
	Mine          string
	RecentUpdates string
	NewIssues     string
}

// CommandConfig configures a CommandHandler.
type CommandConfig struct {
	AllowedIDs []int64
	Queries    Queries
	ReportTop  int
}

// CommandHandler answers bot commands from authorized chats.
type CommandHandler struct {
	client     *Client
	tracker    pipeline.Tracker
	watches    []Watch
	tally      *report.Tally
	allowedIDs map[int64]bool
	queries    Queries
	reportTop  int
	now        func() time.Time
	logger     *slog.Logger
}

// NewCommandHandler creates a command handler. tracker and tally may be nil.
func NewCommandHandler(client *Client, cfg CommandConfig, tracker pipeline.Tracker, tally *report.Tally, watches ...Watch) *CommandHandler {
	allowed := make(map[int64]bool, len(cfg.AllowedIDs))
	for _, id := range cfg.AllowedIDs {
		allowed[id] = true
	}
	top := cfg.ReportTop
	if top <= 0 {
		top = 5
	}
	return &CommandHandler{
		client:     client,
		tracker:    tracker,
		watches:    watches,
		tally:      tally,
		allowedIDs: allowed,
		queries:    cfg.Queries,
		reportTop:  top,
		now:        time.Now,
		logger:     logging.WithComponent("telegram"),
	}
}

func (c *CommandHandler) authorized(msg *Message) bool {
	if len(c.allowedIDs) == 0 {
		return true
	}
	if msg.Chat != nil && c.allowedIDs[msg.Chat.ID] {
		return true
	}
	return msg.From != nil && c.allowedIDs[msg.From.ID]
}

// HandleMessage routes one incoming message.
func (c *CommandHandler) HandleMessage(ctx context.Context, msg *Message) {
	if msg == nil || msg.Chat == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	cmd := commandOf(msg.Text)

	if !c.authorized(msg) {
		c.logger.Warn("Unauthorized access attempt", slog.String("chat_id", chatID))
		if cmd == "/start" || cmd == "/help" {
			c.reply(ctx, chatID, "Access denied.")
		}
		return
	}

	c.logger.Debug("Command received", slog.String("chat_id", chatID), slog.String("command", cmd))

	switch cmd {
	case "/start", "/help":
		c.handleStart(ctx, chatID, cmd == "/start")
	case "/status":
		c.reply(ctx, chatID, FormatStatus(c.watches, c.now()))
	case "/pause", ButtonStop:
		c.handlePause(ctx, chatID)
	case "/resume":
		c.setPaused(false)
		c.reply(ctx, chatID, "Polling resumed.")
	case "/mine", strings.ToLower(ButtonIssuesOnMe):
		c.handleList(ctx, chatID, c.queries.Mine, "Your assigned issues:", "No issues assigned to you.")
	case "/updates", strings.ToLower(ButtonUpdates):
		c.handleList(ctx, chatID, c.queries.RecentUpdates, "Recent updates:", "No recent updates.")
	case "/ondesk":
		c.handleList(ctx, chatID, c.queries.NewIssues, "Waiting for processing:", "No new issues.")
	case "/report", strings.ToLower(ButtonDailyReport):
		c.handleReport(ctx, chatID)
	default:
		c.reply(ctx, chatID, "Unknown command. Use /start for help.")
	}
}

// commandOf normalizes "/cmd@botname args" and keyboard labels.
func commandOf(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return strings.ToLower(text)
	}
	cmd := strings.Fields(text)[0]
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd)
}

const helpText = `<b>JiraTasksUpdate Bot</b>

/status - watch states and last cycle
/mine - issues assigned to you
/updates - recent updates in watched issues
/ondesk - new issues waiting for processing
/report - daily metrics
/pause - stop polling
/resume - resume polling`

func (c *CommandHandler) handleStart(ctx context.Context, chatID string, resume bool) {
	if resume && c.anyPaused() {
		c.setPaused(false)
		c.logger.Info("Polling resumed from /start", slog.String("chat_id", chatID))
	}
	keyboard := ReplyKeyboardMarkup{
		Keyboard: [][]KeyboardButton{
			{{Text: ButtonIssuesOnMe}, {Text: ButtonStop}},
			{{Text: ButtonUpdates}, {Text: ButtonDailyReport}},
		},
		ResizeKeyboard: true,
	}
	if _, err := c.client.SendMessageWithMarkup(ctx, chatID, helpText, "HTML", keyboard); err != nil {
		c.logger.Warn("Failed to send help", slog.String("chat_id", chatID), slog.Any("error", err))
	}
}

func (c *CommandHandler) handlePause(ctx context.Context, chatID string) {
	c.setPaused(true)
	c.logger.Info("Polling paused from chat", slog.String("chat_id", chatID))
	text := "Polling stopped. Send /start to resume."
	if _, err := c.client.SendMessageWithMarkup(ctx, chatID, text, "HTML", ReplyKeyboardRemove{RemoveKeyboard: true}); err != nil {
		c.logger.Warn("Failed to send reply", slog.String("chat_id", chatID), slog.Any("error", err))
	}
}

func (c *CommandHandler) handleList(ctx context.Context, chatID, query, title, empty string) {
	if c.tracker == nil || query == "" {
		c.reply(ctx, chatID, "This command is not configured.")
		return
	}
	issues, err := c.tracker.Fetch(ctx, query, 0)
	if err != nil {
		c.logger.Error("Issue list query failed", slog.Any("error", err))
		c.reply(ctx, chatID, "Error: "+html.EscapeString(err.Error()))
		return
	}
	if len(issues) == 0 {
		c.reply(ctx, chatID, empty)
		return
	}
	c.reply(ctx, chatID, FormatIssueList(title, issues))
}

func (c *CommandHandler) handleReport(ctx context.Context, chatID string) {
	if c.tracker == nil || c.queries.NewIssues == "" {
		c.reply(ctx, chatID, "This command is not configured.")
		return
	}
	newIssues, err := c.tracker.Fetch(ctx, c.queries.NewIssues, 0)
	if err != nil {
		c.reply(ctx, chatID, "Error generating report: "+html.EscapeString(err.Error()))
		return
	}
	var updates []pipeline.Issue
	if c.queries.RecentUpdates != "" {
		if updates, err = c.tracker.Fetch(ctx, c.queries.RecentUpdates, 0); err != nil {
			c.reply(ctx, chatID, "Error generating report: "+html.EscapeString(err.Error()))
			return
		}
	}
	var assignments map[string]int
	if c.tally != nil {
		assignments = c.tally.Snapshot()
	}
	m := report.Compute(newIssues, updates, assignments, c.now())
	if _, err := c.client.SendMessage(ctx, chatID, report.Summary(m, c.reportTop), ""); err != nil {
		c.logger.Warn("Failed to send report", slog.String("chat_id", chatID), slog.Any("error", err))
		return
	}
	c.logger.Info("Sent daily report", slog.String("chat_id", chatID))
}

func (c *CommandHandler) anyPaused() bool {
	for _, w := range c.watches {
		if w.Paused() {
			return true
		}
	}
	return false
}

func (c *CommandHandler) setPaused(paused bool) {
	for _, w := range c.watches {
		if paused {
			w.Pause()
		} else {
			w.Resume()
		}
	}
}

func (c *CommandHandler) reply(ctx context.Context, chatID, text string) {
	if _, err := c.client.SendMessage(ctx, chatID, text, "HTML"); err != nil {
		c.logger.Warn("Failed to send reply", slog.String("chat_id", chatID), slog.Any("error", err))
	}
}

// Notify sends text to every allowed chat, used for startup and shutdown
// notices.
func (c *CommandHandler) Notify(ctx context.Context, text string) {
	for id := range c.allowedIDs {
		c.reply(ctx, strconv.FormatInt(id, 10), text)
	}
}
