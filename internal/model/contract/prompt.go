package contract

// PromptContent is the tagged union of the shapes a caller may hand to
// CountTokens and EmbedContent: a bare string, a single turn, or an ordered
// list of turns. The shape is resolved once at construction instead of being
// re-sniffed at every call site.
type PromptContent struct {
	kind  promptKind
	text  string
	turn  Turn
	turns []Turn
}

type promptKind int

const (
	promptText promptKind = iota
	promptTurn
	promptTurnList
)

func TextPrompt(text string) PromptContent {
	return PromptContent{kind: promptText, text: text}
}

func TurnPrompt(turn Turn) PromptContent {
	return PromptContent{kind: promptTurn, turn: turn}
}

func TurnListPrompt(turns []Turn) PromptContent {
	return PromptContent{kind: promptTurnList, turns: turns}
}

// EmbedText extracts the prompt text for an embedding request: a string is
// used verbatim, a turn list contributes only the last turn's text, a single
// turn contributes its own text.
func (p PromptContent) EmbedText() string {
	switch p.kind {
	case promptText:
		return p.text
	case promptTurn:
		return p.turn.Text()
	case promptTurnList:
		if len(p.turns) == 0 {
			return ""
		}
		return p.turns[len(p.turns)-1].Text()
	}
	return ""
}

// AllText concatenates every text part across all turns, for estimators that
// work on total character counts.
func (p PromptContent) AllText() string {
	switch p.kind {
	case promptText:
		return p.text
	case promptTurn:
		return p.turn.Text()
	case promptTurnList:
		var out string
		for _, t := range p.turns {
			out += t.Text()
		}
		return out
	}
	return ""
}
