package bot

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"waconnect/internal/models"
)

// maxChainSteps bounds one traversal of the flow graph. Step links are plain
// ids, so cycles are representable and must be cut off.
const maxChainSteps = 50

var templateVar = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// renderTemplate substitutes {var} placeholders with session variables plus
// the built-ins {phone} and {contact_name}. Unknown placeholders stay as-is.
func renderTemplate(tpl string, session *models.BotSession, contact *models.Contact) string {
	return templateVar.ReplaceAllStringFunc(tpl, func(match string) string {
		name := match[1 : len(match)-1]
		switch name {
		case "phone":
			return contact.Mobile
		case "contact_name":
			return contact.Name
		}
		if v := session.GetVariable(name, nil); v != nil {
			return stringify(v)
		}
		return match
	})
}

var (
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phoneRe = regexp.MustCompile(`^\+?[0-9][0-9 \-()]{6,}$`)
)

// validateAnswer applies a question step's policy to an inbound answer and
// returns the value to store. ok=false means the answer is rejected and the
// question stays pending.
func validateAnswer(step *models.FlowStep, session *models.BotSession, contact *models.Contact, answer string) (interface{}, bool) {
	answer = strings.TrimSpace(answer)
	switch step.Validation {
	case "", models.ValidateNone:
		return answer, true
	case models.ValidateText:
		return answer, answer != ""
	case models.ValidateNumber:
		if n, ok := toNumber(answer); ok {
			return n, true
		}
		return nil, false
	case models.ValidateEmail:
		return answer, emailRe.MatchString(answer)
	case models.ValidatePhone:
		return answer, phoneRe.MatchString(answer)
	case models.ValidateCustom:
		if step.ValidationExpr == "" {
			return answer, true
		}
		env := scriptEnv(session, contact, answer, nil)
		env["answer"] = answer
		ok, err := evalCondition(step.ValidationExpr, env)
		if err != nil {
			log.Warn().Err(err).Uint("step", step.ID).Msg("Custom validation script failed, answer rejected")
			return nil, false
		}
		return answer, ok
	default:
		return answer, true
	}
}

// firstStep returns the bot's entry point: the active step with the lowest
// sequence.
func firstStep(b *models.Bot) *models.FlowStep {
	steps := activeSteps(b)
	if len(steps) == 0 {
		return nil
	}
	return steps[0]
}

func activeSteps(b *models.Bot) []*models.FlowStep {
	var steps []*models.FlowStep
	for i := range b.Steps {
		if b.Steps[i].Active {
			steps = append(steps, &b.Steps[i])
		}
	}
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Sequence < steps[j].Sequence
	})
	return steps
}

func stepByID(b *models.Bot, id *uint) *models.FlowStep {
	if id == nil {
		return nil
	}
	for i := range b.Steps {
		if b.Steps[i].ID == *id && b.Steps[i].Active {
			return &b.Steps[i]
		}
	}
	return nil
}

// executeChain walks the flow graph from a step until it hits a question or
// a wait, runs out of links or exhausts the traversal bound. The session is
// mutated in memory; the caller persists it.
func (e *Engine) executeChain(ctx context.Context, acct *models.Account, conv *models.Conversation, contact *models.Contact, b *models.Bot, session *models.BotSession, step *models.FlowStep) error {
	for count := 0; step != nil && count < maxChainSteps; count++ {
		if step.DelaySeconds > 0 {
			e.sleep(time.Duration(step.DelaySeconds) * time.Second)
		}
		switch step.Kind {
		case models.StepMessage:
			text := renderTemplate(step.Message, session, contact)
			if text != "" {
				if _, err := e.sender.SendText(ctx, acct, conv, text); err != nil {
					return err
				}
			}
			step = stepByID(b, step.NextStepID)

		case models.StepQuestion:
			text := renderTemplate(step.Message, session, contact)
			if text != "" {
				if _, err := e.sender.SendText(ctx, acct, conv, text); err != nil {
					return err
				}
			}
			session.WaitingStepID = &step.ID
			return nil

		case models.StepCondition:
			result, err := e.evaluateCondition(step, session, contact)
			if err != nil {
				log.Warn().Err(err).Uint("step", step.ID).Msg("Condition script failed, chain stopped")
				session.WaitingStepID = nil
				return nil
			}
			if result {
				step = stepByID(b, step.NextStepTrueID)
			} else {
				step = stepByID(b, step.NextStepFalseID)
			}

		case models.StepAction:
			if step.ActionExpr != "" {
				env := scriptEnv(session, contact, "", nil)
				if _, err := evalScript(step.ActionExpr, env); err != nil {
					log.Warn().Err(err).Uint("step", step.ID).Msg("Action script failed, chain stopped")
					session.WaitingStepID = nil
					return nil
				}
			}
			step = stepByID(b, step.NextStepID)

		case models.StepWait:
			// The chain pauses here until the next inbound message.
			session.WaitingStepID = &step.ID
			return nil

		default:
			log.Warn().Str("kind", string(step.Kind)).Uint("step", step.ID).Msg("Unknown step kind, chain stopped")
			return nil
		}
	}
	session.WaitingStepID = nil
	return nil
}

func (e *Engine) evaluateCondition(step *models.FlowStep, session *models.BotSession, contact *models.Contact) (bool, error) {
	switch step.Condition {
	case models.ConditionVariable:
		value := session.GetVariable(step.ConditionVariable, nil)
		return compareValues(value, step.ConditionOperator, step.ConditionValue)
	default:
		if step.ConditionExpr == "" {
			return false, nil
		}
		env := scriptEnv(session, contact, "", nil)
		return evalCondition(step.ConditionExpr, env)
	}
}

// processAnswer consumes an inbound message while a question is pending.
func (e *Engine) processAnswer(ctx context.Context, acct *models.Account, conv *models.Conversation, contact *models.Contact, b *models.Bot, session *models.BotSession, text string) error {
	step := stepByID(b, session.WaitingStepID)
	if step == nil {
		session.WaitingStepID = nil
		return nil
	}

	if step.Kind == models.StepWait {
		// Any input resumes a paused chain; there is nothing to validate.
		session.WaitingStepID = nil
		return e.executeChain(ctx, acct, conv, contact, b, session, stepByID(b, step.NextStepID))
	}

	value, ok := validateAnswer(step, session, contact, text)
	if !ok {
		errMsg := step.ValidationErrorMessage
		if errMsg == "" {
			errMsg = "Sorry, that answer is not valid. Please try again."
		}
		_, err := e.sender.SendText(ctx, acct, conv, renderTemplate(errMsg, session, contact))
		return err
	}

	if step.QuestionVariable != "" {
		session.SetVariable(step.QuestionVariable, value)
	}
	session.WaitingStepID = nil
	return e.executeChain(ctx, acct, conv, contact, b, session, stepByID(b, step.NextStepID))
}
