package twiml

import (
	"fmt"

	"github.com/kevin07696/phonepay-ivr/internal/domain"
	"github.com/kevin07696/phonepay-ivr/internal/ivr/callparams"
)

// Instructions. Re-prompts repeat these verbatim after the error line.
const (
	InstructionSelectAmount = "To pay the full balance, press 1. To pay a different amount, press 2. To speak with a representative, press 9."
	InstructionCustomAmount = "Please enter the amount you would like to pay in cents, followed by the pound key. For example, for 25 dollars, enter 2 5 0 0 and then pound."
	InstructionEnterCard    = "Please enter your card number, followed by the pound key."
	InstructionEnterExpiry  = "Please enter the 4 digit expiration date on your card, 2 digits for the month followed by 2 digits for the year."
	InstructionEnterCvv     = "Please enter the 3 or 4 digit security code on your card, followed by the pound key."
	InstructionEnterZip     = "Please enter the 5 digit billing zip code for your card."
	InstructionRetry        = "To try a different card, press 1. To speak with a representative, press 2."
	InstructionRetryHuman   = "To speak with a representative, press 2, or stay on the line."
)

const (
	msgInvalidChoice = "Sorry, that was not a valid choice."
	msgInvalidAmount = "Sorry, that amount is not valid."
	msgInvalidCard   = "Sorry, that card number is not valid."
	msgInvalidExpiry = "Sorry, that expiration date is not valid."
	msgInvalidCvv    = "Sorry, that security code is not valid."
	msgInvalidZip    = "Sorry, that zip code is not valid."
	msgNewCard       = "Let's try a different card."
	msgProcessing    = "Thank you. Please hold while we process your payment."
	msgPaymentFailed = "We were unable to process your payment."
	msgEscalate      = "We're sorry we couldn't complete your payment automatically. Please hold while we connect you to a representative."
	msgPleaseHold    = "We're sorry, something went wrong. Please hold for a representative."
	msgNoRep         = "No representative is available right now. Please call us back during business hours. Goodbye."
	msgGoodbye       = "Thank you for your payment. Goodbye."
)

// Config controls wording and callback addresses
type Config struct {
	// ActionURL receives every gathered input
	ActionURL string
	// EscalateURL is the human hand-off entry point used as the gather fallback
	EscalateURL string
	// MainMenuURL, if set, is where a confirmed caller is sent back to
	MainMenuURL string

	StoreName            string
	Voice                string
	Language             string
	GatherTimeoutSeconds int
	DialTimeoutSeconds   int
	DefaultForwardNumber string
	CallerID             string
}

// PromptOptions carries per-transition details into a prompt
type PromptOptions struct {
	Reprompt     bool
	BalanceCents int64
	CanRetry     bool
}

// Builder renders one response per flow state
type Builder struct {
	cfg Config
}

// NewBuilder creates a response builder
func NewBuilder(cfg Config) *Builder {
	if cfg.GatherTimeoutSeconds <= 0 {
		cfg.GatherTimeoutSeconds = 10
	}
	if cfg.DialTimeoutSeconds <= 0 {
		cfg.DialTimeoutSeconds = 30
	}
	if cfg.StoreName == "" {
		cfg.StoreName = "the bookstore"
	}
	return &Builder{cfg: cfg}
}

func (b *Builder) say(text string) Say {
	return Say{Voice: b.cfg.Voice, Language: b.cfg.Language, Text: text}
}

// Prompt renders the prompt for cc.Step with a gather whose action carries cc
func (b *Builder) Prompt(cc domain.CallContext, opts PromptOptions) (*Response, error) {
	if cc.Step == domain.StepProcessPayment {
		return b.Processing(cc)
	}

	var (
		lines       []string
		numDigits   int
		finishOnKey string
	)

	switch cc.Step {
	case domain.StepSelectAmount:
		if opts.Reprompt {
			lines = append(lines, msgInvalidChoice)
		} else {
			greeting := fmt.Sprintf("Hello %s.", cc.CustomerName)
			if cc.CustomerName == "" {
				greeting = "Hello."
			}
			lines = append(lines, greeting,
				fmt.Sprintf("Your outstanding balance with %s is %s.", b.cfg.StoreName, SpeakAmount(opts.BalanceCents)))
		}
		lines = append(lines, InstructionSelectAmount)
		numDigits = 1

	case domain.StepCustomAmount:
		if opts.Reprompt {
			lines = append(lines, msgInvalidAmount,
				fmt.Sprintf("The amount must be more than zero and no more than your balance of %s.", SpeakAmount(opts.BalanceCents)))
		}
		lines = append(lines, InstructionCustomAmount)
		numDigits = 10
		finishOnKey = "#"

	case domain.StepEnterCard:
		switch {
		case opts.Reprompt:
			lines = append(lines, msgInvalidCard)
		case cc.IsRetry():
			lines = append(lines, msgNewCard)
		default:
			lines = append(lines, fmt.Sprintf("You are paying %s.", SpeakAmount(cc.AmountCents)))
		}
		lines = append(lines, InstructionEnterCard)
		numDigits = 20
		finishOnKey = "#"

	case domain.StepEnterExpiry:
		if opts.Reprompt {
			lines = append(lines, msgInvalidExpiry)
		}
		lines = append(lines, InstructionEnterExpiry)
		numDigits = 4

	case domain.StepEnterCvv:
		if opts.Reprompt {
			lines = append(lines, msgInvalidCvv)
		}
		lines = append(lines, InstructionEnterCvv)
		numDigits = 4
		finishOnKey = "#"

	case domain.StepEnterZip:
		if opts.Reprompt {
			lines = append(lines, msgInvalidZip)
		}
		lines = append(lines, InstructionEnterZip)
		numDigits = 5

	case domain.StepRetry:
		if opts.Reprompt {
			lines = append(lines, msgInvalidChoice)
		} else {
			lines = append(lines, msgPaymentFailed)
		}
		if opts.CanRetry {
			lines = append(lines, InstructionRetry)
		} else {
			lines = append(lines, InstructionRetryHuman)
		}
		numDigits = 1

	default:
		return nil, domain.WrapError(domain.ErrorCodeCallStepUnknown, "no prompt for step",
			fmt.Errorf("step %q", cc.Step))
	}

	action, err := callparams.ActionURL(b.cfg.ActionURL, cc)
	if err != nil {
		return nil, err
	}
	fallback, err := b.escalationURL(cc, "timeout")
	if err != nil {
		return nil, err
	}

	g := Gather{
		Input:       "dtmf",
		NumDigits:   numDigits,
		FinishOnKey: finishOnKey,
		Timeout:     b.cfg.GatherTimeoutSeconds,
		Action:      action,
		Method:      "POST",
	}
	for _, line := range lines {
		g.Prompts = append(g.Prompts, b.say(line))
	}

	r := &Response{}
	r.Append(g, Redirect{Method: "POST", URL: fallback})
	return r, nil
}

// Processing tells the caller to hold and moves the call to ProcessPayment
func (b *Builder) Processing(cc domain.CallContext) (*Response, error) {
	action, err := callparams.ActionURL(b.cfg.ActionURL, cc.WithStep(domain.StepProcessPayment))
	if err != nil {
		return nil, err
	}
	r := &Response{}
	r.Append(b.say(msgProcessing), Pause{Length: 1}, Redirect{Method: "POST", URL: action})
	return r, nil
}

// Confirmation reads back an approved payment. The confirmation number is
// spoken twice, one character at a time.
func (b *Builder) Confirmation(cc domain.CallContext, confirmation string) *Response {
	spoken := SpeakDigits(confirmation)
	r := &Response{}
	r.Append(
		b.say(fmt.Sprintf("Thank you. Your payment of %s has been approved.", SpeakAmount(cc.AmountCents))),
		b.say("Your confirmation number is "+spoken+"."),
		Pause{Length: 1},
		b.say("Again, your confirmation number is "+spoken+"."),
	)
	if b.cfg.MainMenuURL != "" {
		r.Append(Redirect{Method: "POST", URL: b.cfg.MainMenuURL})
		return r
	}
	r.Append(b.say(msgGoodbye), Hangup{})
	return r
}

// Escalation apologises and connects the caller to a representative. Without
// a forward number the caller is asked to call back.
func (b *Builder) Escalation(cc domain.CallContext) *Response {
	number := cc.ForwardNumber
	if number == "" {
		number = b.cfg.DefaultForwardNumber
	}
	r := &Response{}
	if number == "" {
		r.Append(b.say(msgNoRep), Hangup{})
		return r
	}
	r.Append(
		b.say(msgEscalate),
		Dial{Timeout: b.cfg.DialTimeoutSeconds, CallerID: b.cfg.CallerID, Number: number},
		b.say(msgNoRep),
		Hangup{},
	)
	return r
}

// PleaseHold is the response for unexpected faults: a generic apology and a
// redirect to the escalation entry point. It never fails.
func (b *Builder) PleaseHold(cc domain.CallContext, reason string) *Response {
	r := &Response{}
	r.Append(b.say(msgPleaseHold))
	target, err := b.escalationURL(cc, reason)
	if err != nil {
		r.Verbs = append(r.Verbs, b.Escalation(cc).Verbs...)
		return r
	}
	r.Append(Redirect{Method: "POST", URL: target})
	return r
}

// Hangup ends the call politely
func (b *Builder) Hangup() *Response {
	r := &Response{}
	r.Append(b.say("Goodbye."), Hangup{})
	return r
}

func (b *Builder) escalationURL(cc domain.CallContext, reason string) (string, error) {
	return callparams.EscalationURL(b.cfg.EscalateURL, cc, reason)
}
