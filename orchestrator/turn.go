package orchestrator

import (
	"context"
	"errors"
	"strings"

	"avatarchat/config"
	"avatarchat/services/openai/llm"
)

// turnRequest is the snapshot a turn goroutine works from. Everything it
// needs is captured at the turn boundary; loop state is reported back via
// an evTurnDone event, never mutated directly.
type turnRequest struct {
	userText   string
	messages   []llm.Message
	expression string
}

// runTurn drives one generated response: stream tokens, segment into
// sentences, dispatch the first via send_text and the rest via append_text,
// then close the text stream. A generation failure or timeout substitutes a
// localized fallback sentence so the turn always produces spoken output.
func (o *Orchestrator) runTurn(t turnRequest) {
	result := evTurnDone{userText: t.userText}
	defer func() { o.post(result) }()

	if o.config.UsePregen {
		if err := o.avatar.SendTurnStart(t.expression); err != nil {
			o.logger.Warn("turn_start failed", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(o.ctx, o.config.LLMTimeout)
	defer cancel()
	tokens, errs := o.deps.LLM.Stream(ctx, t.messages)

	acc := NewSentenceAccumulator()
	first := true
	// Only expressive mode withholds text looking for the prefix; a fixed
	// expression streams sentences the moment they complete.
	exprDone := !o.expressiveMode
	extracted := ""
	var full strings.Builder

	dispatch := func(sentence string) error {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			return nil
		}
		if !first {
			o.logger.Info("avatar appending", "text", sentence)
			return o.avatar.AppendText(sentence)
		}

		expression := t.expression
		if o.expressiveMode && extracted != "" {
			expression = extracted
			result.expression = extracted
		}
		first = false
		o.logger.Info("avatar starting reply", "text", sentence, "expression", expression)
		return o.avatar.SendText(sentence, expression, "dynamic_only")
	}

	var genErr, sendErr error
stream:
	for {
		select {
		case tok, ok := <-tokens:
			if !ok {
				// The error, if any, was queued just before close.
				select {
				case genErr = <-errs:
				default:
				}
				break stream
			}

			content := tok
			if !exprDone {
				expr, remaining := acc.TryExtractExpression(content)
				switch {
				case expr != "":
					o.logger.Info("extracted expression", "expression", expr)
					extracted = expr
					exprDone = true
				case acc.HasPendingPrefix():
					continue
				default:
					exprDone = true
				}
				content = remaining
			}

			for _, sentence := range acc.AddChunk(content) {
				full.WriteString(sentence)
				full.WriteString(" ")
				if sendErr = dispatch(sentence); sendErr != nil {
					break stream
				}
			}

		case genErr = <-errs:
			break stream
		}
	}

	if sendErr != nil {
		o.logger.Error("avatar dispatch failed", "error", sendErr)
		result.dispatchFail = true
		return
	}

	if genErr != nil {
		fallback := config.ErrorMessage(o.config.Language)
		if errors.Is(genErr, context.DeadlineExceeded) {
			o.logger.Error("generation timed out", "timeout", o.config.LLMTimeout)
			fallback = config.TimeoutMessage(o.config.Language)
		} else {
			o.logger.Error("generation failed", "error", genErr)
		}
		extracted = string(config.DefaultExpression)
		exprDone = true
		if err := dispatch(fallback); err != nil {
			result.dispatchFail = true
			return
		}
	} else {
		if leftover := acc.Flush(); strings.TrimSpace(leftover) != "" {
			full.WriteString(leftover)
			if err := dispatch(leftover); err != nil {
				result.dispatchFail = true
				return
			}
		}
		result.ok = true
		result.assistantText = strings.TrimSpace(full.String())
	}

	// A turn must never end silently: an empty successful stream still
	// produces a spoken apology.
	if first {
		if err := dispatch(config.ErrorMessage(o.config.Language)); err != nil {
			result.dispatchFail = true
			result.ok = false
			return
		}
		result.ok = false
	}

	if err := o.avatar.FinishTextStream(); err != nil {
		o.logger.Warn("text_stream_done failed", "error", err)
	}
}
