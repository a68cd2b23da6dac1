package bot

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"waconnect/internal/models"
)

// triggerChars are the prefixes that mark a message as a command.
const triggerChars = "/#!@$%&*"

// splitTrigger tokenizes a command message into its trigger word and
// arguments. "/weather madrid today" yields ("/weather", ["madrid",
// "today"], true).
func splitTrigger(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if text == "" || !strings.ContainsRune(triggerChars, rune(text[0])) {
		return "", nil, false
	}
	fields := strings.Fields(text)
	return fields[0], fields[1:], true
}

// matchCommand resolves a message against the bot's active commands.
func matchCommand(b *models.Bot, text string) (*models.Command, []string, bool) {
	trigger, args, ok := splitTrigger(text)
	if !ok {
		return nil, nil, false
	}
	for i := range b.Commands {
		cmd := &b.Commands[i]
		if cmd.Active && cmd.Trigger == trigger {
			return cmd, args, true
		}
	}
	return nil, nil, false
}

// runCommand executes a command script and replies with its result. A string
// result is sent verbatim; a map result is inspected for ok/message fields.
func (e *Engine) runCommand(ctx context.Context, acct *models.Account, conv *models.Conversation, contact *models.Contact, b *models.Bot, session *models.BotSession, cmd *models.Command, args []string) error {
	env := scriptEnv(session, contact, strings.Join(args, " "), args)
	out, err := evalScript(cmd.Script, env)
	if err != nil {
		log.Warn().Err(err).Str("trigger", cmd.Trigger).Msg("Command script failed")
		_, sendErr := e.sender.SendText(ctx, acct, conv, "Sorry, that command failed.")
		return sendErr
	}

	now := time.Now()
	cmd.ExecutionCount++
	cmd.LastExecution = &now
	if err := e.db.Model(cmd).Updates(map[string]interface{}{
		"execution_count": cmd.ExecutionCount,
		"last_execution":  now,
	}).Error; err != nil {
		log.Warn().Err(err).Str("trigger", cmd.Trigger).Msg("Command bookkeeping failed")
	}

	reply := commandReply(out)
	if reply == "" {
		return nil
	}
	_, err = e.sender.SendText(ctx, acct, conv, renderTemplate(reply, session, contact))
	return err
}

// commandReply normalizes a script result into reply text. Empty means no
// reply.
func commandReply(out interface{}) string {
	switch t := out.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]interface{}:
		if ok, exists := t["ok"].(bool); exists && !ok {
			if msg, _ := t["error"].(string); msg != "" {
				return msg
			}
			return "Sorry, that command failed."
		}
		if msg, _ := t["message"].(string); msg != "" {
			return msg
		}
		if msg, _ := t["text"].(string); msg != "" {
			return msg
		}
		return ""
	default:
		return stringify(t)
	}
}
