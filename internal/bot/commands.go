package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lgaroche/stakemon/internal/alerting"
	"github.com/lgaroche/stakemon/internal/storage"
)

// Commands is the watch-list surface exposed to chat users.
type Commands interface {
	Watch(ctx context.Context, account storage.Account) error
	Forget(ctx context.Context, account storage.Account) error
	Watched(ctx context.Context, ownerID uint64) ([]storage.WatchEntry, error)
}

const helpText = `Validator balance monitor.

/watch <index> - start monitoring a validator
/forget <index> - stop monitoring a validator
/list - show the validators you monitor
/help - show this message

You get a direct message when a watched validator misses rewards or loses balance.`

// Handler turns chat commands into watch-list operations.
type Handler struct {
	commands Commands
	format   alerting.Format
	logger   zerolog.Logger
}

// NewHandler builds a command handler.
func NewHandler(commands Commands, format alerting.Format, logger zerolog.Logger) *Handler {
	return &Handler{
		commands: commands,
		format:   format,
		logger:   logger.With().Str("component", "bot_commands").Logger(),
	}
}

// Handle executes command for ownerID and returns the reply text.
func (h *Handler) Handle(ctx context.Context, ownerID uint64, command, args string) string {
	log := h.logger.With().Uint64("owner", ownerID).Str("command", command).Logger()

	switch command {
	case "watch":
		index, ok := parseIndex(args)
		if !ok {
			return "wrong argument\nUsage: /watch <validator index>"
		}
		if err := h.commands.Watch(ctx, storage.NewAccount(ownerID, index)); err != nil {
			log.Error().Err(err).Uint64("validator", index).Msg("failed to start watching")
			return "failed to start watching"
		}
		return fmt.Sprintf("start watching validator %d", index)

	case "forget":
		index, ok := parseIndex(args)
		if !ok {
			return "wrong argument\nUsage: /forget <validator index>"
		}
		if err := h.commands.Forget(ctx, storage.NewAccount(ownerID, index)); err != nil {
			log.Error().Err(err).Uint64("validator", index).Msg("failed to stop watching")
			return "failed to stop watching"
		}
		return fmt.Sprintf("stop watching validator %d", index)

	case "list":
		entries, err := h.commands.Watched(ctx, ownerID)
		if err != nil {
			log.Error().Err(err).Msg("failed to list watched validators")
			return "failed to list watched validators"
		}
		return h.renderList(entries)

	case "start", "help":
		return helpText

	default:
		return "not implemented\n\n" + helpText
	}
}

func (h *Handler) renderList(entries []storage.WatchEntry) string {
	if len(entries) == 0 {
		return "You are not watching any validator."
	}
	builder := strings.Builder{}
	builder.WriteString("Watched validators:\n")
	for _, entry := range entries {
		if entry.Balance == 0 {
			builder.WriteString(fmt.Sprintf("%d: pending first check\n", entry.Account.ValidatorIndex))
			continue
		}
		builder.WriteString(fmt.Sprintf("%d: %s\n", entry.Account.ValidatorIndex, h.format.HumanAmount(entry.Balance)))
	}
	return builder.String()
}

func parseIndex(args string) (uint64, bool) {
	fields := strings.Fields(args)
	if len(fields) != 1 {
		return 0, false
	}
	index, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return index, true
}
